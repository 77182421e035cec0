package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/voicegw/voicebridge/pkg/core/bus"
)

// SessionState is the orchestrator lifecycle.
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateConfiguring  SessionState = "configuring"
	StateActive       SessionState = "active"
	StateToolDispatch SessionState = "tool_dispatch"
	StateClosing      SessionState = "closing"
	StateClosed       SessionState = "closed"
)

// TurnDetection configures server-side voice activity detection. A nil
// TurnDetection on the session means manual turn-taking: the client must
// commit buffered audio itself before requesting a response.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

// TranscriptionConfig selects the input transcription model.
type TranscriptionConfig struct {
	Model string `json:"model"`
}

// ToolDefinition is the parameter schema announced to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolHandler executes one tool call. The returned value must be
// JSON-serializable; an error becomes a structured failure payload.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// SessionConfig is the negotiated session shape.
type SessionConfig struct {
	Modalities              []string             `json:"modalities"`
	Instructions            string               `json:"instructions"`
	Voice                   string               `json:"voice"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
	Tools                   []ToolDefinition     `json:"tools"`
	ToolChoice              string               `json:"tool_choice"`
	Temperature             float64              `json:"temperature"`
	MaxResponseOutputTokens int                  `json:"max_response_output_tokens"`
}

// DefaultSessionConfig mirrors the service defaults for a voice session.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Modalities:              []string{"text", "audio"},
		Voice:                   "shimmer",
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &TranscriptionConfig{Model: "whisper-1"},
		TurnDetection:           &TurnDetection{Type: "server_vad"},
		ToolChoice:              "auto",
		Temperature:             0.8,
		MaxResponseOutputTokens: 4096,
	}
}

// SessionUpdate carries partial overrides for UpdateSession. Nil fields
// are left untouched; previously merged keys are never discarded.
type SessionUpdate struct {
	Modalities              []string
	Instructions            *string
	Voice                   *string
	InputAudioFormat        *string
	OutputAudioFormat       *string
	InputAudioTranscription *TranscriptionConfig
	TurnDetection           *TurnDetection
	DisableTurnDetection    bool // explicit switch to manual turn-taking
	Tools                   []ToolDefinition
	ToolChoice              *string
	Temperature             *float64
	MaxResponseOutputTokens *int
}

// Bus event names published by the client for downstream consumers.
const (
	EventConversationUpdated     = "conversation.updated"
	EventConversationInterrupted = "conversation.interrupted"
	EventItemAppended            = "conversation.item.appended"
	EventItemCompleted           = "conversation.item.completed"
)

// ConversationUpdate is the payload of EventConversationUpdated.
type ConversationUpdate struct {
	Item  *Item
	Delta *Delta
}

type registeredTool struct {
	definition ToolDefinition
	handler    ToolHandler
}

// Client composes the transport, conversation state, and tool registry
// into one realtime session orchestrator.
type Client struct {
	Bus *bus.Bus

	transport    *Transport
	conversation *Conversation
	logger       *slog.Logger

	endpoint string
	apiKey   string
	dial     Dialer

	mu             sync.Mutex // guards config, tools, accumulator, state
	config         SessionConfig
	externalTools  []ToolDefinition
	tools          map[string]registeredTool
	inputAudio     []byte
	state          SessionState
	sessionCreated chan struct{}
	lifeCtx        context.Context // cancelled on Disconnect; bounds tool handlers
	lifeCancel     context.CancelFunc

	configPushMu sync.Mutex // serializes session.update pushes

	dispatchWG sync.WaitGroup
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithEndpoint overrides the upstream socket URL.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithSessionConfig replaces the initial session configuration.
func WithSessionConfig(cfg SessionConfig) ClientOption {
	return func(c *Client) { c.config = cfg }
}

// WithDialer overrides the socket dialer. Tests use this to swap in an
// in-memory connection.
func WithDialer(dial Dialer) ClientOption {
	return func(c *Client) { c.dial = dial }
}

// WithAudioFormat sets the sample rate and sample width used for
// truncation math. Telephony sessions run g711 at 8kHz, one byte per
// sample, rather than the 24kHz pcm16 default.
func WithAudioFormat(sampleRate, bytesPerSample int) ClientOption {
	return func(c *Client) { c.conversation = NewConversation(sampleRate, bytesPerSample) }
}

// NewClient builds a disconnected orchestrator.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	b := bus.New(nil)
	c := &Client{
		Bus:            b,
		conversation:   NewConversation(0, 0),
		logger:         slog.Default(),
		apiKey:         apiKey,
		config:         DefaultSessionConfig(),
		tools:          make(map[string]registeredTool),
		state:          StateIdle,
		sessionCreated: make(chan struct{}),
	}
	c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(c)
	}
	c.transport = NewTransport(b, c.logger)
	if c.dial != nil {
		c.transport.dial = c.dial
	}
	c.wireServerEvents()
	return c
}

// Conversation exposes read-only snapshots of the conversation state.
func (c *Client) Conversation() *Conversation { return c.conversation }

// State returns the current lifecycle state.
func (c *Client) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the upstream socket is live.
func (c *Client) IsConnected() bool { return c.transport.IsConnected() }

func (c *Client) setState(next SessionState) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	if prev != next {
		c.logger.Debug("session state", "from", string(prev), "to", string(next))
	}
}

// wireServerEvents routes decoded server events into the conversation
// fold and raises the derived notifications consumers rely on.
func (c *Client) wireServerEvents() {
	c.Bus.Subscribe("server.*", func(payload any) {
		ev, ok := payload.(ServerEvent)
		if !ok {
			return
		}
		c.handleServerEvent(ev)
	})
}

func (c *Client) handleServerEvent(ev ServerEvent) {
	switch e := ev.(type) {
	case SessionCreatedEvent:
		c.mu.Lock()
		select {
		case <-c.sessionCreated:
		default:
			close(c.sessionCreated)
		}
		c.mu.Unlock()
		c.setState(StateActive)
		return

	case ErrorEvent:
		c.logger.Error("server error event", "code", e.Code, "message", e.Message)
		c.Bus.Publish("error", NewProtocolError(e.Message, nil))
		return

	case SpeechStartedEvent:
		item, delta := c.conversation.Process(ev)
		c.publishUpdate(item, delta)
		// The user began speaking over an in-flight model turn: any
		// buffered assistant audio downstream is stale.
		c.Bus.Publish(EventConversationInterrupted, e)
		return

	case ItemCreatedEvent:
		item, delta := c.conversation.Process(ev)
		c.publishUpdate(item, delta)
		if item != nil {
			c.Bus.Publish(EventItemAppended, item)
			if item.Status == ItemCompleted {
				c.Bus.Publish(EventItemCompleted, item)
			}
		}
		return

	case OutputItemDoneEvent:
		item, delta := c.conversation.Process(ev)
		c.publishUpdate(item, delta)
		if item == nil {
			return
		}
		if item.Status == ItemCompleted {
			c.Bus.Publish(EventItemCompleted, item)
		}
		if tool, ok := item.CompletedToolCall(); ok {
			c.dispatchWG.Add(1)
			go func() {
				defer c.dispatchWG.Done()
				c.dispatchTool(tool)
			}()
		}
		return

	case UnknownEvent:
		return

	default:
		item, delta := c.conversation.Process(ev)
		c.publishUpdate(item, delta)
	}
}

func (c *Client) publishUpdate(item *Item, delta *Delta) {
	if item == nil {
		return
	}
	c.Bus.Publish(EventConversationUpdated, ConversationUpdate{Item: item, Delta: delta})
}

// Connect opens the upstream session and pushes the initial
// configuration. The session stays in the configuring state until the
// service acknowledges with session.created.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx, c.endpoint, c.apiKey); err != nil {
		return err
	}
	c.setState(StateConfiguring)
	if err := c.pushSession(); err != nil {
		c.transport.Disconnect()
		c.setState(StateIdle)
		return err
	}
	return nil
}

// WaitForSessionCreated blocks until the service acknowledges the session.
func (c *Client) WaitForSessionCreated(ctx context.Context) error {
	if !c.transport.IsConnected() {
		return NewNotConnectedError("wait for session before connect")
	}
	c.mu.Lock()
	created := c.sessionCreated
	c.mu.Unlock()
	select {
	case <-created:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect tears the session down and clears conversation state.
// In-flight tool handlers are cancelled so a stuck handler cannot
// block teardown.
func (c *Client) Disconnect() {
	c.setState(StateClosing)
	c.transport.Disconnect()
	c.mu.Lock()
	c.lifeCancel()
	c.mu.Unlock()
	c.dispatchWG.Wait()
	c.conversation.Clear()
	c.mu.Lock()
	c.inputAudio = nil
	c.sessionCreated = make(chan struct{})
	c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())
	c.mu.Unlock()
	c.setState(StateClosed)
}

// UpdateSession merges overrides into the session configuration,
// recomputes the tool catalog, and — when connected — pushes a
// session.update frame. Pushes are serialized so AddTool may race a
// concurrent UpdateSession safely.
func (c *Client) UpdateSession(update SessionUpdate) error {
	c.mu.Lock()
	if update.Modalities != nil {
		c.config.Modalities = update.Modalities
	}
	if update.Instructions != nil {
		c.config.Instructions = *update.Instructions
	}
	if update.Voice != nil {
		c.config.Voice = *update.Voice
	}
	if update.InputAudioFormat != nil {
		c.config.InputAudioFormat = *update.InputAudioFormat
	}
	if update.OutputAudioFormat != nil {
		c.config.OutputAudioFormat = *update.OutputAudioFormat
	}
	if update.InputAudioTranscription != nil {
		c.config.InputAudioTranscription = update.InputAudioTranscription
	}
	if update.DisableTurnDetection {
		c.config.TurnDetection = nil
	} else if update.TurnDetection != nil {
		c.config.TurnDetection = update.TurnDetection
	}
	if update.Tools != nil {
		c.externalTools = update.Tools
	}
	if update.ToolChoice != nil {
		c.config.ToolChoice = *update.ToolChoice
	}
	if update.Temperature != nil {
		c.config.Temperature = *update.Temperature
	}
	if update.MaxResponseOutputTokens != nil {
		c.config.MaxResponseOutputTokens = *update.MaxResponseOutputTokens
	}
	c.mu.Unlock()

	return c.pushSession()
}

// pushSession sends the merged configuration when a socket is live.
func (c *Client) pushSession() error {
	c.configPushMu.Lock()
	defer c.configPushMu.Unlock()

	if !c.transport.IsConnected() {
		return nil
	}

	c.mu.Lock()
	session := c.config
	catalog := make([]map[string]any, 0, len(c.externalTools)+len(c.tools))
	for _, def := range c.externalTools {
		catalog = append(catalog, toolPayload(def))
	}
	for _, name := range sortedToolNames(c.tools) {
		catalog = append(catalog, toolPayload(c.tools[name].definition))
	}
	c.mu.Unlock()

	body, err := sessionPayload(session, catalog)
	if err != nil {
		return err
	}
	return c.transport.Send("session.update", map[string]any{"session": body})
}

// AddTool registers a tool and re-announces the catalog.
func (c *Client) AddTool(definition ToolDefinition, handler ToolHandler) error {
	if definition.Name == "" {
		return NewInvalidStateError("missing tool name in definition")
	}
	if handler == nil {
		return NewInvalidStateError(fmt.Sprintf("tool %q handler must not be nil", definition.Name))
	}
	c.mu.Lock()
	if _, exists := c.tools[definition.Name]; exists {
		c.mu.Unlock()
		return NewInvalidStateError(fmt.Sprintf("tool %q already added, remove it first", definition.Name))
	}
	c.tools[definition.Name] = registeredTool{definition: definition, handler: handler}
	c.mu.Unlock()

	return c.pushSession()
}

// RemoveTool unregisters a tool. The catalog is re-announced on the next
// session update, not here.
func (c *Client) RemoveTool(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tools[name]; !exists {
		return NewUnknownToolError(name)
	}
	delete(c.tools, name)
	return nil
}

// AppendInputAudio forwards captured caller audio and grows the input
// accumulator. Empty input is a no-op.
func (c *Client) AppendInputAudio(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}
	err := c.transport.Send("input_audio_buffer.append", map[string]any{
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.inputAudio = append(c.inputAudio, audio...)
	c.mu.Unlock()
	return nil
}

// SendUserMessageText injects a synthetic user text message and requests
// a model turn.
func (c *Client) SendUserMessageText(text string) error {
	if text != "" {
		err := c.transport.Send("conversation.item.create", map[string]any{
			"item": map[string]any{
				"type": "message",
				"role": "user",
				"content": []map[string]any{
					{"type": "input_text", "text": text},
				},
			},
		})
		if err != nil {
			return err
		}
	}
	return c.CreateResponse()
}

// CreateResponse requests the next model turn. Under manual turn-taking
// with pending input audio it first commits the buffer and queues the
// bytes for the item the server will announce.
func (c *Client) CreateResponse() error {
	c.mu.Lock()
	manual := c.config.TurnDetection == nil
	pending := c.inputAudio
	if manual && len(pending) > 0 {
		c.inputAudio = nil
	}
	c.mu.Unlock()

	if manual && len(pending) > 0 {
		if err := c.transport.Send("input_audio_buffer.commit", nil); err != nil {
			return err
		}
		c.conversation.QueueInputAudio(pending)
	}
	return c.transport.Send("response.create", nil)
}

// CancelResponse cancels the in-flight model turn. With an item id, the
// addressed item must be an assistant message with an audio part; its
// audio is truncated at sampleCount samples and both cancel and truncate
// frames are sent. Validation failures send nothing.
func (c *Client) CancelResponse(itemID string, sampleCount int) (*Item, error) {
	if itemID == "" {
		if err := c.transport.Send("response.cancel", nil); err != nil {
			return nil, err
		}
		return nil, nil
	}

	item := c.conversation.Item(itemID)
	if item == nil {
		return nil, NewNotFoundError(fmt.Sprintf("could not find item %q", itemID))
	}
	if item.Type != ItemTypeMessage {
		return nil, NewInvalidStateError("can only cancel items of type message")
	}
	if item.Role != RoleAssistant {
		return nil, NewInvalidStateError("can only cancel assistant messages")
	}
	audioIndex := -1
	for i, part := range item.Content {
		if part.Type == "audio" {
			audioIndex = i
			break
		}
	}
	if audioIndex < 0 {
		return nil, NewInvalidStateError("item has no audio content to truncate")
	}

	if err := c.transport.Send("response.cancel", nil); err != nil {
		return nil, err
	}
	audioEndMS := int(float64(sampleCount) / float64(c.conversation.SampleRate()) * 1000)
	err := c.transport.Send("conversation.item.truncate", map[string]any{
		"item_id":       itemID,
		"content_index": audioIndex,
		"audio_end_ms":  audioEndMS,
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteItem removes an item from the server-side conversation.
func (c *Client) DeleteItem(itemID string) error {
	return c.transport.Send("conversation.item.delete", map[string]any{"item_id": itemID})
}

// dispatchTool runs one tool round trip. Whatever the outcome, the model
// gets exactly one function_call_output item and one response.create
// back. A NotConnectedError on either send means the caller already hung
// up; it is logged and swallowed.
func (c *Client) dispatchTool(tool *ToolCall) {
	c.setState(StateToolDispatch)
	defer c.setState(StateActive)

	c.mu.Lock()
	ctx := c.lifeCtx
	c.mu.Unlock()
	output := c.runTool(ctx, tool)

	err := c.transport.Send("conversation.item.create", map[string]any{
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": tool.CallID,
			"output":  output,
		},
	})
	if err != nil {
		if IsKind(err, ErrNotConnected) {
			c.logger.Debug("tool output dropped, session closed", "tool", tool.Name)
			return
		}
		c.logger.Error("tool output send failed", "tool", tool.Name, "error", err)
		return
	}
	if err := c.CreateResponse(); err != nil && !IsKind(err, ErrNotConnected) {
		c.logger.Error("response request after tool failed", "tool", tool.Name, "error", err)
	}
}

// runTool executes the handler and JSON-encodes either its result or a
// structured failure payload.
func (c *Client) runTool(ctx context.Context, tool *ToolCall) string {
	fail := func(err error) string {
		c.logger.Error("tool call failed", "tool", tool.Name, "error", err)
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(payload)
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(tool.Arguments), &args); err != nil {
		return fail(NewProtocolError("invalid tool arguments", err))
	}

	c.mu.Lock()
	reg, ok := c.tools[tool.Name]
	c.mu.Unlock()
	if !ok {
		return fail(NewUnknownToolError(tool.Name))
	}

	result, err := reg.handler(ctx, args)
	if err != nil {
		return fail(NewToolExecutionError(tool.Name, err))
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fail(NewToolExecutionError(tool.Name, err))
	}
	return string(payload)
}

func toolPayload(def ToolDefinition) map[string]any {
	payload := map[string]any{
		"type": "function",
		"name": def.Name,
	}
	if def.Description != "" {
		payload["description"] = def.Description
	}
	if def.Parameters != nil {
		payload["parameters"] = def.Parameters
	}
	return payload
}

func sessionPayload(cfg SessionConfig, catalog []map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, NewProtocolError("encode session config", err)
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, NewProtocolError("encode session config", err)
	}
	body["tools"] = catalog
	return body, nil
}

func sortedToolNames(tools map[string]registeredTool) []string {
	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
