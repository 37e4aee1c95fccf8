package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/wyrmhole/backend/config"
	"github.com/wyrmhole/backend/internal/identity"
	"github.com/wyrmhole/backend/internal/kv"
	"github.com/wyrmhole/backend/internal/observability"
	"github.com/wyrmhole/backend/internal/ratelimit"
	"github.com/wyrmhole/backend/service"
	"github.com/wyrmhole/backend/transport"
)

const version = "1.0.0"

func main() {
	addr := flag.String("addr", "", "listen address (overrides CHANNEL_ADDR)")
	ops := flag.String("ops", "", "metrics/health address (overrides OPS_ADDR)")
	flag.Parse()

	logger := observability.NewLogger("wyrmhole-relay", version, os.Stdout)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatal(err, "Failed to load config")
	}
	if *addr != "" {
		cfg.ChannelAddress = *addr
	}
	if *ops != "" {
		cfg.OpsAddress = *ops
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if shutdown, err := observability.InitTracing(ctx, "wyrmhole-relay", version); err == nil {
		defer shutdown(context.Background())
	}

	store, err := kv.Open(ctx, cfg.StoreBackend, cfg.DatabaseHost, cfg.DatabasePassword, cfg.BoltPath)
	if err != nil {
		logger.Fatal(err, "Failed to open store")
	}
	defer store.Close()

	tokens, err := identity.NewTokens(cfg.JWTKey)
	if err != nil {
		logger.Fatal(err, "Failed to initialize token authority")
	}

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker(version)
	health.RegisterCheck("store", observability.StoreCheck(store))
	health.RegisterCheck("channel", observability.ListenerCheck("channel", cfg.ChannelAddress))

	transfers := service.NewTransfers(store, logger, metrics, cfg.MaxChunkSize)
	registry := transport.NewRegistry()
	dial := ratelimit.NewPerIP(rate.Limit(cfg.DialRate), cfg.DialBurst)
	dispatcher := transport.NewDispatcher(store, tokens, transfers, registry, dial, logger, metrics, cfg.OutboundDepth, cfg.DriverTick)

	channel := &http.Server{
		Addr:              cfg.ChannelAddress,
		Handler:           channelMux(dispatcher),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go startOpsServer(cfg, metrics, health, logger)

	go func() {
		logger.Info("Channel listening on " + cfg.ChannelAddress)
		if err := channel.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err, "Channel server error")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := channel.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "Channel shutdown error")
	}
	logger.Info("Relay stopped")
}

func channelMux(dispatcher *transport.Dispatcher) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/session/", dispatcher.Handler())
	return mux
}

func opsMux(cfg *config.Config, metrics *observability.Metrics, health *observability.HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", health.Handler())
	if cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func startOpsServer(cfg *config.Config, metrics *observability.Metrics, health *observability.HealthChecker, logger *observability.Logger) {
	logger.Info("Ops server listening on " + cfg.OpsAddress + " (metrics, health)")
	if err := http.ListenAndServe(cfg.OpsAddress, opsMux(cfg, metrics, health)); err != nil && err != http.ErrServerClosed {
		logger.Error(err, "Ops server error")
	}
}
