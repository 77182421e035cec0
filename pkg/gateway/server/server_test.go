package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voicegw/voicebridge/pkg/gateway/config"
)

func testServer() *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(config.Config{
		OpenAIAPIKey:       "sk-test",
		Voice:              "shimmer",
		Temperature:        0.8,
		FirstMessage:       "Hello!",
		WSWriteTimeout:     time.Second,
		HandshakeTimeout:   time.Second,
		SessionCreateGrace: time.Second,
	}, logger, Options{})
}

func TestServer_HealthRoute(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header from middleware chain")
	}
}

func TestServer_ReadyRoute(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"ok":true`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestServer_IncomingCallRoute(t *testing.T) {
	s := testServer()

	req := httptest.NewRequest(http.MethodPost, "/incoming-call", strings.NewReader("CallSid=CA1&From=%2B15550001111"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Host = "bridge.example.com"

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "wss://bridge.example.com/media-stream") {
		t.Fatalf("body=%q", rr.Body.String())
	}
	if s.Sessions().Lookup("CA1") == nil {
		t.Fatal("expected call record")
	}
}

func TestServer_MediaStreamRoute_Reachable(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/media-stream", nil))

	// Not a websocket handshake, so the upgrade fails, but the route must
	// not 404.
	if rr.Code == http.StatusNotFound {
		t.Fatal("/media-stream unexpectedly returned 404")
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	s := testServer()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
}
