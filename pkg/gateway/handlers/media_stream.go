package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/voicegw/voicebridge/pkg/core/realtime"
	"github.com/voicegw/voicebridge/pkg/gateway/bridge"
	"github.com/voicegw/voicebridge/pkg/gateway/config"
	"github.com/voicegw/voicebridge/pkg/gateway/mw"
	"github.com/voicegw/voicebridge/pkg/gateway/sessions"
	"github.com/voicegw/voicebridge/pkg/gateway/webhook"
)

// Telephony media streams carry 8kHz g711 ulaw, one byte per sample.
const telephonySampleRate = 8000

// MediaStreamHandler upgrades the telephony media-stream socket and runs
// a bridge for the lifetime of the call.
type MediaStreamHandler struct {
	Config   config.Config
	Logger   *slog.Logger
	Sessions *sessions.Registry
	Sink     *webhook.Sink

	// RegisterTools installs the tool catalog on each call's client. Nil
	// runs calls without tools.
	RegisterTools func(*realtime.Client) error

	// ClientOptions is appended to the per-call client options. Tests use
	// it to swap in an in-memory dialer.
	ClientOptions []realtime.ClientOption
}

func (h MediaStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("request_id", reqID)

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.HandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("media stream upgrade failed", "error", err)
		return
	}

	client := realtime.NewClient(h.Config.OpenAIAPIKey, h.clientOptions(logger)...)
	if h.RegisterTools != nil {
		if err := h.RegisterTools(client); err != nil {
			logger.Error("tool registration failed", "error", err)
			_ = conn.Close()
			return
		}
	}

	ctx := context.WithoutCancel(r.Context())
	if h.Config.MaxCallDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.MaxCallDuration)
		defer cancel()
	}

	b := bridge.New(bridge.Options{
		Logger:       logger,
		Client:       client,
		Socket:       conn,
		Registry:     h.Sessions,
		Sink:         h.Sink,
		WriteTimeout: h.Config.WSWriteTimeout,
		CreateGrace:  h.Config.SessionCreateGrace,
	})
	if err := b.Run(ctx); err != nil {
		logger.Error("call bridge ended with error", "error", err)
	}
}

func (h MediaStreamHandler) clientOptions(logger *slog.Logger) []realtime.ClientOption {
	cfg := realtime.DefaultSessionConfig()
	cfg.Voice = h.Config.Voice
	cfg.Instructions = h.Config.Instructions
	cfg.Temperature = h.Config.Temperature
	cfg.InputAudioFormat = "g711_ulaw"
	cfg.OutputAudioFormat = "g711_ulaw"

	opts := []realtime.ClientOption{
		realtime.WithLogger(logger),
		realtime.WithSessionConfig(cfg),
		realtime.WithAudioFormat(telephonySampleRate, 1),
	}
	if h.Config.RealtimeURL != "" {
		opts = append(opts, realtime.WithEndpoint(h.Config.RealtimeURL))
	}
	return append(opts, h.ClientOptions...)
}
