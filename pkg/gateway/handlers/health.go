package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/voicegw/voicebridge/pkg/gateway/config"
	"github.com/voicegw/voicebridge/pkg/gateway/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config   config.Config
	Sessions *sessions.Registry

	// StorePing reports whether the tool database is reachable. Nil when
	// the service runs without a database.
	StorePing func(ctx context.Context) error
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK              bool     `json:"ok"`
		ActiveCalls     int      `json:"active_calls"`
		WebhookEnabled  bool     `json:"webhook_enabled"`
		DatabaseEnabled bool     `json:"database_enabled"`
		Issues          []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.OpenAIAPIKey == "" {
		issues = append(issues, "OPENAI_API_KEY is not configured")
	}
	if h.Config.Temperature < 0 || h.Config.Temperature > 2 {
		issues = append(issues, "temperature out of range")
	}
	if h.Config.WSWriteTimeout <= 0 || h.Config.SessionCreateGrace <= 0 {
		issues = append(issues, "socket timeouts must be > 0")
	}

	if h.StorePing != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := h.StorePing(pingCtx); err != nil {
			issues = append(issues, "database unreachable: "+err.Error())
		}
		cancel()
	}

	active := 0
	if h.Sessions != nil {
		active = h.Sessions.Count()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:              ok,
		ActiveCalls:     active,
		WebhookEnabled:  h.Config.WebhookURL != "",
		DatabaseEnabled: h.StorePing != nil,
		Issues:          issues,
	})
}
