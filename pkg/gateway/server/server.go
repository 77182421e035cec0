package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/voicegw/voicebridge/pkg/core/realtime"
	"github.com/voicegw/voicebridge/pkg/gateway/config"
	"github.com/voicegw/voicebridge/pkg/gateway/handlers"
	"github.com/voicegw/voicebridge/pkg/gateway/mw"
	"github.com/voicegw/voicebridge/pkg/gateway/sessions"
	"github.com/voicegw/voicebridge/pkg/gateway/webhook"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	registry *sessions.Registry
	sink     *webhook.Sink

	storePing     func(ctx context.Context) error
	registerTools func(*realtime.Client) error
	clientOptions []realtime.ClientOption
}

// Options carries the optional collaborators. A nil RegisterTools runs
// calls without tools; a nil StorePing reports the database as disabled.
type Options struct {
	StorePing     func(ctx context.Context) error
	RegisterTools func(*realtime.Client) error

	// ClientOptions is appended to every call's client options. Tests use
	// it to swap in an in-memory upstream.
	ClientOptions []realtime.ClientOption
}

func New(cfg config.Config, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:           cfg,
		logger:        logger,
		mux:           http.NewServeMux(),
		registry:      sessions.NewRegistry(),
		sink:          webhook.New(cfg.WebhookURL, cfg.WebhookTimeout, logger),
		storePing:     opts.StorePing,
		registerTools: opts.RegisterTools,
		clientOptions: opts.ClientOptions,
	}

	s.routes()
	return s
}

// Sessions exposes the call registry for graceful shutdown.
func (s *Server) Sessions() *sessions.Registry {
	return s.registry
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Sessions:  s.registry,
		StorePing: s.storePing,
	})

	s.mux.Handle("/incoming-call", handlers.IncomingCallHandler{
		Config:   s.cfg,
		Logger:   s.logger,
		Sessions: s.registry,
	})

	s.mux.Handle("/media-stream", handlers.MediaStreamHandler{
		Config:        s.cfg,
		Logger:        s.logger,
		Sessions:      s.registry,
		Sink:          s.sink,
		RegisterTools: s.registerTools,
		ClientOptions: s.clientOptions,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
