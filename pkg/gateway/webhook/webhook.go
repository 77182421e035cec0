// Package webhook delivers finished call transcripts to a configured
// HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Sink posts one payload per finished call. Delivery is attempted exactly
// once: a failed post is logged and dropped, never retried, so a dead
// endpoint cannot hold call teardown hostage.
type Sink struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// New returns a sink posting to url. An empty url disables delivery.
func New(url string, timeout time.Duration, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Enabled reports whether a destination is configured.
func (s *Sink) Enabled() bool { return s != nil && s.url != "" }

type payload struct {
	CallerIdentity string `json:"caller_identity"`
	Transcript     string `json:"transcript"`
}

// Deliver posts the transcript for one call. Errors are reported to the
// caller for logging but carry no retry semantics.
func (s *Sink) Deliver(ctx context.Context, caller, transcript string) error {
	if !s.Enabled() {
		return nil
	}

	body, err := json.Marshal(payload{CallerIdentity: caller, Transcript: transcript})
	if err != nil {
		return fmt.Errorf("encode transcript payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build transcript request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post transcript: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("transcript endpoint returned %s", resp.Status)
	}
	s.logger.Info("transcript delivered", "caller", caller, "status", resp.StatusCode)
	return nil
}
