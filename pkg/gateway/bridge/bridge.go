// Package bridge relays audio between a telephony media stream and a
// realtime speech session, one bridge per call.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicegw/voicebridge/pkg/core/realtime"
	"github.com/voicegw/voicebridge/pkg/gateway/sessions"
	"github.com/voicegw/voicebridge/pkg/gateway/twilio"
	"github.com/voicegw/voicebridge/pkg/gateway/webhook"
)

// CallSocket is the subset of the telephony websocket the bridge needs.
type CallSocket interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Bridge owns one call: the telephony socket on one side, the realtime
// session on the other. Whichever side closes first tears down the other.
type Bridge struct {
	logger *slog.Logger
	client *realtime.Client
	sock   CallSocket

	registry *sessions.Registry
	sink     *webhook.Sink

	writeTimeout time.Duration
	createGrace  time.Duration

	writeMu sync.Mutex

	mu            sync.Mutex
	cancel        context.CancelFunc
	record        *sessions.Record
	streamSID     string
	greeted       bool
	currentItemID string
	sentSamples   int
	stale         map[string]bool

	webhookOnce sync.Once
}

// Options carries the per-call dependencies for a bridge. Record may be
// nil when the call identity arrives only with the stream's start frame;
// the bridge then binds to the registry record on start.
type Options struct {
	Logger       *slog.Logger
	Client       *realtime.Client
	Socket       CallSocket
	Record       *sessions.Record
	Registry     *sessions.Registry
	Sink         *webhook.Sink
	WriteTimeout time.Duration
	CreateGrace  time.Duration
}

func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	createGrace := opts.CreateGrace
	if createGrace <= 0 {
		createGrace = 10 * time.Second
	}
	return &Bridge{
		logger:       logger,
		client:       opts.Client,
		sock:         opts.Socket,
		record:       opts.Record,
		registry:     opts.Registry,
		sink:         opts.Sink,
		writeTimeout: writeTimeout,
		createGrace:  createGrace,
		stale:        make(map[string]bool),
	}
}

func (b *Bridge) rec() *sessions.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record
}

// Run drives the call until either side hangs up or ctx is cancelled.
// Teardown is unconditional: the speech session is closed, the transcript
// is delivered once, and the call record is released.
func (b *Bridge) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()
	if rec := b.rec(); rec != nil {
		rec.SetCancel(cancel)
	}

	if err := b.client.Connect(ctx); err != nil {
		b.teardown(ctx)
		return err
	}

	graceCtx, graceCancel := context.WithTimeout(ctx, b.createGrace)
	err := b.client.WaitForSessionCreated(graceCtx)
	graceCancel()
	if err != nil {
		b.teardown(ctx)
		return err
	}

	b.wireOutbound(cancel)

	readErr := make(chan error, 1)
	go func() { readErr <- b.inboundLoop(ctx) }()

	select {
	case err = <-readErr:
	case <-ctx.Done():
		_ = b.sock.Close()
		<-readErr
		err = nil
	}

	b.teardown(ctx)
	return err
}

// wireOutbound subscribes the speech-session side of the relay.
func (b *Bridge) wireOutbound(cancel context.CancelFunc) {
	b.client.Bus.Subscribe(realtime.EventConversationUpdated, func(payload any) {
		update, ok := payload.(realtime.ConversationUpdate)
		if !ok || update.Item == nil || update.Delta == nil || len(update.Delta.Audio) == 0 {
			return
		}
		b.forwardAudio(update.Item, update.Delta.Audio)
	})

	b.client.Bus.Subscribe(realtime.EventConversationInterrupted, func(any) {
		b.handleInterruption()
	})

	b.client.Bus.Subscribe("server.conversation.item.input_audio_transcription.completed", func(payload any) {
		ev, ok := payload.(realtime.InputAudioTranscriptionCompletedEvent)
		rec := b.rec()
		if !ok || rec == nil {
			return
		}
		rec.AppendTranscript("User", ev.Transcript)
	})

	b.client.Bus.Subscribe(realtime.EventItemCompleted, func(payload any) {
		item, ok := payload.(*realtime.Item)
		rec := b.rec()
		if !ok || rec == nil || item.Role != realtime.RoleAssistant {
			return
		}
		line := item.Formatted.Transcript
		if line == "" {
			line = item.Formatted.Text
		}
		rec.AppendTranscript("Agent", line)
	})

	b.client.Bus.Subscribe("close", func(any) {
		cancel()
	})
}

// forwardAudio relays one assistant audio delta to the caller, tracking
// how much of the current item has been played for interruption math.
func (b *Bridge) forwardAudio(item *realtime.Item, audio []byte) {
	if item.Role != realtime.RoleAssistant {
		return
	}

	b.mu.Lock()
	if b.stale[item.ID] || b.streamSID == "" {
		b.mu.Unlock()
		return
	}
	if b.currentItemID != item.ID {
		b.currentItemID = item.ID
		b.sentSamples = 0
	}
	b.sentSamples += len(audio) // g711: one byte per sample
	streamSID := b.streamSID
	b.mu.Unlock()

	frame, err := twilio.EncodeMedia(streamSID, audio)
	if err != nil {
		b.logger.Error("encode media frame", "error", err)
		return
	}
	if err := b.writeFrame(frame); err != nil {
		b.logger.Debug("media write failed", "error", err)
	}
}

// handleInterruption flushes buffered playback and truncates the item
// that was speaking at the point the caller barged in.
func (b *Bridge) handleInterruption() {
	b.mu.Lock()
	itemID := b.currentItemID
	samples := b.sentSamples
	streamSID := b.streamSID
	if itemID != "" {
		b.stale[itemID] = true
		b.currentItemID = ""
		b.sentSamples = 0
	}
	b.mu.Unlock()

	if streamSID != "" {
		if frame, err := twilio.EncodeClear(streamSID); err == nil {
			if err := b.writeFrame(frame); err != nil {
				b.logger.Debug("clear write failed", "error", err)
			}
		}
	}

	if itemID == "" {
		return
	}
	if _, err := b.client.CancelResponse(itemID, samples); err != nil {
		b.logger.Debug("cancel after interruption", "item", itemID, "error", err)
	}
}

// inboundLoop reads telephony frames until the socket closes or the
// provider sends stop.
func (b *Bridge) inboundLoop(ctx context.Context) error {
	for {
		_, data, err := b.sock.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		frame, err := twilio.DecodeFrame(data)
		if err != nil {
			b.logger.Warn("undecodable telephony frame", "error", err)
			continue
		}

		switch f := frame.(type) {
		case twilio.Connected:
			b.logger.Debug("telephony stream connected", "protocol", f.Protocol)

		case twilio.Start:
			b.handleStart(f)

		case twilio.Media:
			if err := b.client.AppendInputAudio(f.Payload); err != nil {
				if realtime.IsKind(err, realtime.ErrNotConnected) {
					return nil
				}
				b.logger.Debug("append caller audio", "error", err)
			}

		case twilio.Mark:
			// Playback acknowledgement, nothing to do.

		case twilio.Stop:
			b.logger.Info("telephony stream stopped", "stream", f.StreamSID)
			return nil
		}
	}
}

// handleStart records the stream identity, binds the call record, and
// speaks the greeting.
func (b *Bridge) handleStart(start twilio.Start) {
	b.mu.Lock()
	b.streamSID = start.StreamSID
	alreadyGreeted := b.greeted
	b.greeted = true
	rec := b.record
	cancel := b.cancel
	b.mu.Unlock()

	if rec == nil && b.registry != nil {
		callSID := start.CallSID
		if callSID == "" {
			// Some integrations omit the call id; mint one so the record
			// still has a stable key.
			callSID = "call_" + uuid.NewString()
		}
		rec = b.registry.Lookup(callSID)
		if rec == nil {
			rec = b.registry.Create(callSID, start.CallerNumber(), start.FirstMessage())
		}
		if cancel != nil {
			rec.SetCancel(cancel)
		}
		b.mu.Lock()
		b.record = rec
		b.mu.Unlock()
	}
	if rec != nil {
		rec.BeginStreaming(start.StreamSID, start.CallerNumber(), start.FirstMessage())
	}

	b.logger.Info("call streaming",
		"stream", start.StreamSID,
		"call", start.CallSID,
		"caller", start.CallerNumber())

	if alreadyGreeted {
		return
	}
	greeting := start.FirstMessage()
	if greeting == "" && rec != nil {
		greeting = rec.FirstMessage()
	}
	if greeting == "" {
		return
	}
	if err := b.client.SendUserMessageText(greeting); err != nil {
		b.logger.Error("send greeting", "error", err)
	}
}

func (b *Bridge) writeFrame(frame []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = b.sock.SetWriteDeadline(time.Now().Add(b.writeTimeout))
	return b.sock.WriteMessage(websocket.TextMessage, frame)
}

// teardown closes both legs, delivers the transcript exactly once, and
// releases the call record.
func (b *Bridge) teardown(ctx context.Context) {
	b.client.Disconnect()
	_ = b.sock.Close()

	rec := b.rec()
	b.webhookOnce.Do(func() {
		if rec == nil || !b.sink.Enabled() {
			return
		}
		transcript := rec.Transcript()
		if transcript == "" {
			return
		}
		deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := b.sink.Deliver(deliverCtx, rec.Caller(), transcript); err != nil {
			b.logger.Error("transcript delivery failed", "caller", rec.Caller(), "error", err)
		}
	})

	if b.registry != nil && rec != nil {
		b.registry.Close(rec)
	}
}
