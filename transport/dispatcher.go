package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wyrmhole/backend/internal/identity"
	"github.com/wyrmhole/backend/internal/kv"
	"github.com/wyrmhole/backend/internal/observability"
	"github.com/wyrmhole/backend/internal/ratelimit"
	"github.com/wyrmhole/backend/service"
)

const (
	wsReadBuffer  = 1024
	wsWriteBuffer = 1024

	// maxFrameSize caps an inbound message. The largest legitimate frame is
	// an add-chunk at the chunk ceiling plus JSON overhead.
	maxFrameSize = 1 << 20

	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second

	// DefaultOutboundDepth is the outbound queue capacity per channel.
	DefaultOutboundDepth = 1024
)

var (
	errWrongData         = errors.New("Wrong data format.")
	errAlreadyRegistered = errors.New("driver already registered")
)

// Dispatcher owns the channel surface. Each accepted connection gets a read
// pump, a single-writer serve loop, and at most one driver goroutine, spawned
// on the first register frame and cancelled with the connection.
type Dispatcher struct {
	store     kv.Store
	tokens    *identity.Tokens
	transfers *service.Transfers
	registry  *Registry
	dial      *ratelimit.PerIP
	log       *observability.Logger
	metrics   *observability.Metrics

	outboundDepth int
	driverTick    time.Duration
	upgrader      websocket.Upgrader
}

func NewDispatcher(store kv.Store, tokens *identity.Tokens, transfers *service.Transfers, registry *Registry, dial *ratelimit.PerIP, log *observability.Logger, metrics *observability.Metrics, outboundDepth int, driverTick time.Duration) *Dispatcher {
	if outboundDepth <= 0 {
		outboundDepth = DefaultOutboundDepth
	}
	return &Dispatcher{
		store:         store,
		tokens:        tokens,
		transfers:     transfers,
		registry:      registry,
		dial:          dial,
		log:           log,
		metrics:       metrics,
		outboundDepth: outboundDepth,
		driverTick:    driverTick,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  wsReadBuffer,
			WriteBufferSize: wsWriteBuffer,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler serves GET /session/{sid} upgrades.
func (d *Dispatcher) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid := strings.TrimPrefix(r.URL.Path, "/session/")
		if sid == "" || strings.Contains(sid, "/") {
			http.NotFound(w, r)
			return
		}
		if d.dial != nil && !d.dial.Allow(clientIP(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		conn, err := d.upgrader.Upgrade(w, r, nil)
		if err != nil {
			d.log.Error(err, "websocket upgrade failed")
			return
		}
		d.serve(conn, sid)
	})
}

// serve runs one connection until it dies. It is the connection's only
// writer; the read pump hands frames over a channel so the loop can select
// across inbound traffic, driver output, and the keepalive ticker.
func (d *Dispatcher) serve(conn *websocket.Conn, sid string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	d.metrics.ChannelsActive.Inc()
	defer d.metrics.ChannelsActive.Dec()
	d.log.ChannelOpened(remote, sid)

	conn.SetReadLimit(maxFrameSize)

	inbound := make(chan InboundFrame)
	readErr := make(chan error, 1)
	go d.readPump(ctx, conn, inbound, readErr)

	out := make(chan service.Outbound, d.outboundDepth)
	driven := ""
	defer func() {
		if driven != "" {
			d.registry.Release(driven)
			d.metrics.DriversActive.Dec()
			d.log.DriverStopped(driven)
		}
	}()

	pings := time.NewTicker(pingInterval)
	defer pings.Stop()

	for {
		select {
		case err := <-readErr:
			d.log.ChannelClosed(remote, err)
			return
		case frame := <-inbound:
			d.metrics.RecordFrame("in")
			claims, err := d.authenticate(frame, sid)
			if err != nil {
				d.metrics.RecordCommandError(string(frame.Command))
				d.log.CommandFailed(string(frame.Command), "", err)
				continue
			}
			if frame.Command == CmdRegister {
				driven = d.register(ctx, claims, out, driven)
				continue
			}
			if err := d.route(ctx, claims, frame); err != nil {
				d.metrics.RecordCommandError(string(frame.Command))
				d.log.CommandFailed(string(frame.Command), claims.Subject, err)
			}
		case f := <-out:
			d.metrics.RecordFrame("out")
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			frame := OutboundFrame{RequestID: f.RequestID(), Command: f.Command(), Data: f}
			if err := conn.WriteJSON(frame); err != nil {
				d.log.ChannelClosed(remote, err)
				return
			}
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				d.log.ChannelClosed(remote, err)
				return
			}
		}
	}
}

// readPump moves frames from the socket to the serve loop. It owns all
// reads; the first read error ends the connection.
func (d *Dispatcher) readPump(ctx context.Context, conn *websocket.Conn, inbound chan<- InboundFrame, readErr chan<- error) {
	for {
		var frame InboundFrame
		if err := conn.ReadJSON(&frame); err != nil {
			readErr <- err
			return
		}
		select {
		case inbound <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// authenticate verifies the frame's token and pins its audience to the
// channel's session.
func (d *Dispatcher) authenticate(frame InboundFrame, sid string) (*identity.Claims, error) {
	claims, err := d.tokens.Verify(frame.JWT)
	if err != nil {
		return nil, err
	}
	if claims.Audience != sid {
		return nil, identity.ErrWrongSession
	}
	return claims, nil
}

// register claims the caller's driver slot and spawns its driver. Returns
// the uid now driven by this connection; a second register, here or on
// another channel, is refused.
func (d *Dispatcher) register(ctx context.Context, claims *identity.Claims, out chan service.Outbound, driven string) string {
	uid := claims.Subject
	if driven != "" || !d.registry.Claim(uid) {
		d.metrics.RecordCommandError(string(CmdRegister))
		d.log.CommandFailed(string(CmdRegister), uid, errAlreadyRegistered)
		return driven
	}

	emit := func(f service.Outbound) {
		select {
		case out <- f:
		default:
			d.metrics.FramesDropped.Inc()
			d.log.WithUser(uid).Warn("outbound queue full, dropping frame")
		}
	}
	driver := service.NewDriver(d.store, claims.Audience, uid, emit, d.log, d.metrics, d.driverTick)
	go driver.Run(ctx)

	d.metrics.DriversActive.Inc()
	d.log.DriverStarted(uid)
	return uid
}

// route dispatches one authenticated non-register frame.
func (d *Dispatcher) route(ctx context.Context, claims *identity.Claims, frame InboundFrame) error {
	sid, uid := claims.Audience, claims.Subject
	switch frame.Command {
	case CmdRequestFile:
		var data requestFileData
		if err := decodeData(frame.Data, &data); err != nil {
			return errWrongData
		}
		return d.transfers.RequestFile(ctx, sid, uid, data.Filename, data.PublicKey)
	case CmdAcknowledgeFileRequest:
		var data acknowledgeData
		if err := decodeData(frame.Data, &data); err != nil {
			return errWrongData
		}
		return d.transfers.AcknowledgeRequest(ctx, data.RequestID, data.Filename, data.PublicKey, data.AmountOfChunks)
	case CmdReadyForFileTransfer:
		var data readyData
		if err := decodeData(frame.Data, &data); err != nil {
			return errWrongData
		}
		return d.transfers.ReadyForTransfer(ctx, data.RequestID, uid)
	case CmdAddChunk:
		var data addChunkData
		if err := decodeData(frame.Data, &data); err != nil {
			return errWrongData
		}
		return d.transfers.AddChunk(ctx, data.RequestID, uid, data.IsLastChunk, data.ChunkNr, data.Chunk, data.IV)
	case CmdReceivedChunk:
		var data receivedChunkData
		if err := decodeData(frame.Data, &data); err != nil {
			return errWrongData
		}
		return d.transfers.ReceivedChunk(ctx, data.RequestID, uid, data.ChunkNr)
	default:
		return errWrongData
	}
}

// clientIP prefers the forwarded address so the relay behaves behind a
// proxy; the dial limiter and host claims key off it.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
