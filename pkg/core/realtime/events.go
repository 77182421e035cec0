package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// ServerEvent is the tagged union of events the speech service can send.
// Unknown event types decode to UnknownEvent rather than being dropped.
type ServerEvent interface {
	EventType() string
}

// ItemPayload is the wire shape of a conversation item inside server events.
type ItemPayload struct {
	ID        string               `json:"id"`
	Type      string               `json:"type"`
	Role      string               `json:"role,omitempty"`
	Status    string               `json:"status,omitempty"`
	CallID    string               `json:"call_id,omitempty"`
	Name      string               `json:"name,omitempty"`
	Arguments string               `json:"arguments,omitempty"`
	Output    string               `json:"output,omitempty"`
	Content   []ContentPartPayload `json:"content,omitempty"`
}

// ContentPartPayload is one content part inside an item payload.
type ContentPartPayload struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"` // base64
	Transcript string `json:"transcript,omitempty"`
}

type SessionCreatedEvent struct {
	Session json.RawMessage `json:"session"`
}

type SessionUpdatedEvent struct {
	Session json.RawMessage `json:"session"`
}

type ItemCreatedEvent struct {
	PreviousItemID string      `json:"previous_item_id"`
	Item           ItemPayload `json:"item"`
}

type ItemTruncatedEvent struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

type ItemDeletedEvent struct {
	ItemID string `json:"item_id"`
}

type InputAudioTranscriptionCompletedEvent struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

type SpeechStartedEvent struct {
	ItemID       string `json:"item_id"`
	AudioStartMS int    `json:"audio_start_ms"`
}

type SpeechStoppedEvent struct {
	ItemID     string `json:"item_id"`
	AudioEndMS int    `json:"audio_end_ms"`
}

type OutputItemAddedEvent struct {
	ResponseID  string      `json:"response_id"`
	OutputIndex int         `json:"output_index"`
	Item        ItemPayload `json:"item"`
}

type OutputItemDoneEvent struct {
	ResponseID  string      `json:"response_id"`
	OutputIndex int         `json:"output_index"`
	Item        ItemPayload `json:"item"`
}

type ContentPartAddedEvent struct {
	ItemID       string             `json:"item_id"`
	ContentIndex int                `json:"content_index"`
	Part         ContentPartPayload `json:"part"`
}

type AudioDeltaEvent struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Delta        []byte `json:"-"`
}

type TextDeltaEvent struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type AudioTranscriptDeltaEvent struct {
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type FunctionCallArgumentsDeltaEvent struct {
	ItemID string `json:"item_id"`
	CallID string `json:"call_id"`
	Delta  string `json:"delta"`
}

type FunctionCallArgumentsDoneEvent struct {
	ItemID    string `json:"item_id"`
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ResponseCreatedEvent struct {
	Response json.RawMessage `json:"response"`
}

type ResponseDoneEvent struct {
	Response json.RawMessage `json:"response"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnknownEvent carries a server event whose type this client does not
// model. It is published like any other event so subscribers can observe
// it, but the conversation fold ignores it.
type UnknownEvent struct {
	Type string
	Raw  json.RawMessage
}

func (SessionCreatedEvent) EventType() string  { return "session.created" }
func (SessionUpdatedEvent) EventType() string  { return "session.updated" }
func (ItemCreatedEvent) EventType() string     { return "conversation.item.created" }
func (ItemTruncatedEvent) EventType() string   { return "conversation.item.truncated" }
func (ItemDeletedEvent) EventType() string     { return "conversation.item.deleted" }
func (InputAudioTranscriptionCompletedEvent) EventType() string {
	return "conversation.item.input_audio_transcription.completed"
}
func (SpeechStartedEvent) EventType() string { return "input_audio_buffer.speech_started" }
func (SpeechStoppedEvent) EventType() string { return "input_audio_buffer.speech_stopped" }
func (OutputItemAddedEvent) EventType() string    { return "response.output_item.added" }
func (OutputItemDoneEvent) EventType() string     { return "response.output_item.done" }
func (ContentPartAddedEvent) EventType() string   { return "response.content_part.added" }
func (AudioDeltaEvent) EventType() string         { return "response.audio.delta" }
func (TextDeltaEvent) EventType() string          { return "response.text.delta" }
func (AudioTranscriptDeltaEvent) EventType() string {
	return "response.audio_transcript.delta"
}
func (FunctionCallArgumentsDeltaEvent) EventType() string {
	return "response.function_call_arguments.delta"
}
func (FunctionCallArgumentsDoneEvent) EventType() string {
	return "response.function_call_arguments.done"
}
func (ResponseCreatedEvent) EventType() string { return "response.created" }
func (ResponseDoneEvent) EventType() string    { return "response.done" }
func (ErrorEvent) EventType() string           { return "error" }
func (e UnknownEvent) EventType() string       { return e.Type }

// DecodeServerEvent parses one inbound JSON frame into its typed variant.
// A frame that is not valid JSON, has no type, or fails variant decoding
// returns a protocol error.
func DecodeServerEvent(data []byte) (ServerEvent, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, NewProtocolError("invalid server frame", err)
	}
	if strings.TrimSpace(head.Type) == "" {
		return nil, NewProtocolError("server frame missing type", nil)
	}

	decode := func(v any) (ServerEvent, error) {
		if err := json.Unmarshal(data, v); err != nil {
			return nil, NewProtocolError(fmt.Sprintf("malformed %s event", head.Type), err)
		}
		return derefEvent(v), nil
	}

	switch head.Type {
	case "session.created":
		return decode(&SessionCreatedEvent{})
	case "session.updated":
		return decode(&SessionUpdatedEvent{})
	case "conversation.item.created":
		return decode(&ItemCreatedEvent{})
	case "conversation.item.truncated":
		return decode(&ItemTruncatedEvent{})
	case "conversation.item.deleted":
		return decode(&ItemDeletedEvent{})
	case "conversation.item.input_audio_transcription.completed":
		return decode(&InputAudioTranscriptionCompletedEvent{})
	case "input_audio_buffer.speech_started":
		return decode(&SpeechStartedEvent{})
	case "input_audio_buffer.speech_stopped":
		return decode(&SpeechStoppedEvent{})
	case "response.output_item.added":
		return decode(&OutputItemAddedEvent{})
	case "response.output_item.done":
		return decode(&OutputItemDoneEvent{})
	case "response.content_part.added":
		return decode(&ContentPartAddedEvent{})
	case "response.audio.delta":
		var raw struct {
			ItemID       string `json:"item_id"`
			ContentIndex int    `json:"content_index"`
			Delta        string `json:"delta"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, NewProtocolError("malformed response.audio.delta event", err)
		}
		audio, err := base64.StdEncoding.DecodeString(raw.Delta)
		if err != nil {
			return nil, NewProtocolError("invalid base64 audio delta", err)
		}
		return AudioDeltaEvent{ItemID: raw.ItemID, ContentIndex: raw.ContentIndex, Delta: audio}, nil
	case "response.text.delta":
		return decode(&TextDeltaEvent{})
	case "response.audio_transcript.delta":
		return decode(&AudioTranscriptDeltaEvent{})
	case "response.function_call_arguments.delta":
		return decode(&FunctionCallArgumentsDeltaEvent{})
	case "response.function_call_arguments.done":
		return decode(&FunctionCallArgumentsDoneEvent{})
	case "response.created":
		return decode(&ResponseCreatedEvent{})
	case "response.done":
		return decode(&ResponseDoneEvent{})
	case "error":
		var raw struct {
			Error ErrorEvent `json:"error"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, NewProtocolError("malformed error event", err)
		}
		return raw.Error, nil
	default:
		return UnknownEvent{Type: head.Type, Raw: append(json.RawMessage(nil), data...)}, nil
	}
}

func derefEvent(v any) ServerEvent {
	switch e := v.(type) {
	case *SessionCreatedEvent:
		return *e
	case *SessionUpdatedEvent:
		return *e
	case *ItemCreatedEvent:
		return *e
	case *ItemTruncatedEvent:
		return *e
	case *ItemDeletedEvent:
		return *e
	case *InputAudioTranscriptionCompletedEvent:
		return *e
	case *SpeechStartedEvent:
		return *e
	case *SpeechStoppedEvent:
		return *e
	case *OutputItemAddedEvent:
		return *e
	case *OutputItemDoneEvent:
		return *e
	case *ContentPartAddedEvent:
		return *e
	case *TextDeltaEvent:
		return *e
	case *AudioTranscriptDeltaEvent:
		return *e
	case *FunctionCallArgumentsDeltaEvent:
		return *e
	case *FunctionCallArgumentsDoneEvent:
		return *e
	case *ResponseCreatedEvent:
		return *e
	case *ResponseDoneEvent:
		return *e
	default:
		panic(fmt.Sprintf("unhandled event variant %T", v))
	}
}
