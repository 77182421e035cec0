package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegw/voicebridge/pkg/core/bus"
)

const (
	// DefaultEndpoint is the realtime speech service websocket URL.
	DefaultEndpoint = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"

	transportWriteTimeout = 5 * time.Second
)

// Conn is the subset of a websocket connection the transport needs.
// *websocket.Conn satisfies it; tests substitute an in-memory pipe.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens the upstream socket. The default uses gorilla/websocket.
type Dialer func(ctx context.Context, endpoint string, header http.Header) (Conn, error)

func defaultDialer(ctx context.Context, endpoint string, header http.Header) (Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := d.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Transport owns the persistent socket to the speech service. Every
// inbound frame is decoded and published as "server.<type>" on the bus;
// every outbound send is republished as "client.<type>" so subscribers
// get a uniform event log. Socket termination publishes "close".
type Transport struct {
	bus    *bus.Bus
	logger *slog.Logger
	dial   Dialer

	mu      sync.Mutex
	conn    Conn
	done    chan struct{}
	writeMu sync.Mutex
}

// NewTransport returns a disconnected transport publishing on b.
func NewTransport(b *bus.Bus, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		bus:    b,
		logger: logger,
		dial:   defaultDialer,
	}
}

// Connect opens the socket and starts the background read loop. It fails
// with a connection error when already connected or when the handshake
// fails.
func (t *Transport) Connect(ctx context.Context, endpoint, apiKey string) error {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return NewConnectionError("already connected, disconnect first", nil)
	}
	t.mu.Unlock()

	header := http.Header{}
	if apiKey != "" {
		header.Set("Authorization", "Bearer "+apiKey)
	}
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, err := t.dial(ctx, endpoint, header)
	if err != nil {
		return NewConnectionError("handshake failed", err)
	}

	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		_ = conn.Close()
		return NewConnectionError("already connected, disconnect first", nil)
	}
	t.conn = conn
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go t.readLoop(conn, done)
	return nil
}

// IsConnected reports whether a live socket exists.
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Send serializes {"type": eventType, ...body} and writes it. Outbound
// frames are delivered in send order; the write mutex serializes writers.
func (t *Transport) Send(eventType string, body map[string]any) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return NewNotConnectedError("send " + eventType + " while disconnected")
	}

	frame := make(map[string]any, len(body)+1)
	for k, v := range body {
		frame[k] = v
	}
	frame["type"] = eventType

	data, err := json.Marshal(frame)
	if err != nil {
		return NewProtocolError("encode "+eventType, err)
	}

	t.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(transportWriteTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	t.writeMu.Unlock()
	if err != nil {
		return NewConnectionError("write "+eventType, err)
	}

	// Listeners get their own decode of the wire bytes, so a listener
	// mutating the frame never reaches into the caller's body.
	published := make(map[string]any, len(frame))
	if err := json.Unmarshal(data, &published); err == nil {
		t.bus.Publish("client."+eventType, published)
	}
	return nil
}

// Disconnect closes the socket. Safe to call repeatedly.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	t.conn = nil
	t.done = nil
	t.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.Close()
	if done != nil {
		<-done // wait for the read loop to drain
	}
}

// readLoop reads frames until socket closure or a decode failure. Either
// way it leaves IsConnected() false and does not leak.
func (t *Transport) readLoop(conn Conn, done chan struct{}) {
	defer close(done)

	var closeErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeErr = err
			break
		}

		ev, err := DecodeServerEvent(data)
		if err != nil {
			t.logger.Error("server frame decode failed", "error", err)
			t.bus.Publish("error", err)
			closeErr = err
			break
		}

		if unknown, ok := ev.(UnknownEvent); ok {
			t.logger.Debug("unmodeled server event", "type", unknown.Type)
		}
		t.bus.Publish("server."+ev.EventType(), ev)
	}

	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		t.done = nil
	}
	t.mu.Unlock()
	_ = conn.Close()

	if !websocket.IsCloseError(closeErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.logger.Debug("realtime socket closed", "error", closeErr)
	}
	t.bus.Publish("close", closeErr)
}
