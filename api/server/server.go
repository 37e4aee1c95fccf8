// Package server is the REST surface of the relay: session lifecycle and
// the file catalog. Every response rides the success/message envelope the
// web clients expect.
package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/wyrmhole/backend/internal/observability"
	"github.com/wyrmhole/backend/internal/ratelimit"
	"github.com/wyrmhole/backend/internal/validation"
	"github.com/wyrmhole/backend/service"
)

type (
	// sessionResponse carries whichever session fields the operation
	// returns; absent fields are dropped from the JSON.
	sessionResponse struct {
		SessionName string `json:"sessionName,omitempty"`
		SessionID   string `json:"sessionId,omitempty"`
		AccessCode  string `json:"accessCode,omitempty"`
		JWT         string `json:"jwt,omitempty"`
	}

	updateSessionRequest struct {
		SessionName string `json:"sessionName"`
	}
)

// Server wires the session and catalog services to HTTP handlers.
type Server struct {
	sessions *service.Sessions
	files    *service.Files
	calls    *ratelimit.Calls
	log      *observability.Logger
	metrics  *observability.Metrics
}

// New builds the API server. calls may be nil; the global call limiter is
// opt-in.
func New(sessions *service.Sessions, files *service.Files, calls *ratelimit.Calls, log *observability.Logger, metrics *observability.Metrics) *Server {
	return &Server{sessions: sessions, files: files, calls: calls, log: log, metrics: metrics}
}

// Router assembles the route table with CORS for browser clients and
// request metrics around everything.
func (s *Server) Router() http.Handler {
	r := httprouter.New()
	r.GET("/", s.handlePing)
	r.POST("/session", s.handleCreateSession)
	r.GET("/session", s.handleRebind)
	r.GET("/session/:sid", s.handleGetSession)
	r.PUT("/session/:sid", s.handleUpdateSession)
	r.DELETE("/session/:sid", s.handleDeleteSession)
	r.GET("/idForName/:name", s.handleIDForName)
	r.GET("/access/:sid", s.handleAccess)
	r.GET("/files/:sid", s.handleListFiles)
	r.POST("/files/:sid", s.handleAddFiles)
	r.GET("/files/:sid/:name", s.handleGetFile)
	r.DELETE("/files/:sid/:name", s.handleDeleteFile)

	return s.instrument(s.limitCalls(cors.AllowAll().Handler(r)))
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeSuccess(w, http.StatusOK, time.Now().UnixMilli())
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, err := s.sessions.Create(r.Context(), clientIP(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, sessionResponse{
		SessionName: sess.Name,
		SessionID:   sess.ID,
		AccessCode:  sess.AccessCode,
		JWT:         sess.Token,
	})
}

func (s *Server) handleRebind(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sess, err := s.sessions.Rebind(r.Context(), r.Header.Get("Authorization"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusAccepted, sessionResponse{
		SessionName: sess.Name,
		SessionID:   sess.ID,
		AccessCode:  sess.AccessCode,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name, err := s.sessions.Metadata(r.Context(), ps.ByName("sid"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, sessionResponse{SessionName: name})
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateEntryName(req.SessionName); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, err := s.sessions.Update(r.Context(), ps.ByName("sid"), r.Header.Get("Authorization"), req.SessionName)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, sessionResponse{
		SessionName: sess.Name,
		AccessCode:  sess.AccessCode,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.sessions.Delete(r.Context(), ps.ByName("sid"), r.Header.Get("Authorization"), clientIP(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "successfully deleted session")
}

func (s *Server) handleIDForName(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	sid, err := s.sessions.IDForName(r.Context(), ps.ByName("name"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, sessionResponse{SessionID: sid})
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	token, err := s.sessions.Join(r.Context(), ps.ByName("sid"), r.Header.Get("Authorization"), clientIP(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, sessionResponse{JWT: token})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	files, err := s.files.List(r.Context(), ps.ByName("sid"), r.Header.Get("Authorization"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, files)
}

func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var batch []service.FileMeta
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.files.Add(r.Context(), ps.ByName("sid"), r.Header.Get("Authorization"), batch); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "successfully added files")
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	info, err := s.files.Get(r.Context(), ps.ByName("sid"), ps.ByName("name"), r.Header.Get("Authorization"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, info)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	err := s.files.Delete(r.Context(), ps.ByName("sid"), ps.ByName("name"), r.Header.Get("Authorization"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, "successfully deleted file")
}

// limitCalls applies the store-backed global rate limiter when configured.
func (s *Server) limitCalls(next http.Handler) http.Handler {
	if s.calls == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := s.calls.Allow(r.Context(), clientIP(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request counts and latency. Routes are labelled by
// their first path segment to keep the metric cardinality bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Method+" "+routeLabel(r.URL.Path), rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func routeLabel(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "/"
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		trimmed = trimmed[:i]
	}
	return "/" + trimmed
}

func writeSuccess(w http.ResponseWriter, status int, response interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "response": response})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "message": message})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	if se, ok := service.AsError(err); ok {
		writeError(w, se.Kind.HTTPStatus(), se.Message)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// clientIP prefers the forwarded address; host claims, join attempts, and
// the call limiter all key off it.
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
