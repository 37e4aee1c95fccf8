package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
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

func newChannelMux(t *testing.T) *http.ServeMux {
	t.Helper()
	store := kv.NewMem()
	tokens, err := identity.NewTokens("test-secret")
	if err != nil {
		t.Fatalf("NewTokens failed: %v", err)
	}
	logger := observability.NewLogger("test", "dev", io.Discard)
	metrics := observability.NewMetrics()
	transfers := service.NewTransfers(store, logger, metrics, 0)
	dispatcher := transport.NewDispatcher(store, tokens, transfers, transport.NewRegistry(),
		ratelimit.NewPerIP(rate.Inf, 0), logger, metrics, 0, time.Millisecond)
	return channelMux(dispatcher)
}

func TestChannelMuxRoutes(t *testing.T) {
	mux := newChannelMux(t)

	cases := map[string]int{
		"/session/":    http.StatusNotFound,
		"/other":       http.StatusNotFound,
		"/session/abc": http.StatusBadRequest, // plain GET, no upgrade handshake
	}
	for path, want := range cases {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.1:4321"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Errorf("Expected %d for %s, got %d", want, path, rec.Code)
		}
	}
}

func TestOpsMux(t *testing.T) {
	cfg := config.DefaultConfig()
	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker("dev")
	mux := opsMux(cfg, metrics, health)

	for _, path := range []string{"/metrics", "/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("Expected 200 for %s, got %d", path, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected pprof disabled by default, got %d", rec.Code)
	}
}
