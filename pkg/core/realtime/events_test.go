package realtime

import (
	"bytes"
	"testing"
)

func TestDecodeServerEventVariants(t *testing.T) {
	ev, err := DecodeServerEvent([]byte(`{"type":"conversation.item.created","previous_item_id":"p1","item":{"id":"i1","type":"message","role":"user"}}`))
	if err != nil {
		t.Fatalf("decode created: %v", err)
	}
	created, ok := ev.(ItemCreatedEvent)
	if !ok {
		t.Fatalf("expected ItemCreatedEvent, got %T", ev)
	}
	if created.PreviousItemID != "p1" || created.Item.ID != "i1" || created.Item.Role != "user" {
		t.Fatalf("unexpected event %+v", created)
	}

	ev, err = DecodeServerEvent([]byte(`{"type":"input_audio_buffer.speech_started","item_id":"i1","audio_start_ms":250}`))
	if err != nil {
		t.Fatalf("decode speech started: %v", err)
	}
	started := ev.(SpeechStartedEvent)
	if started.ItemID != "i1" || started.AudioStartMS != 250 {
		t.Fatalf("unexpected event %+v", started)
	}

	ev, err = DecodeServerEvent([]byte(`{"type":"response.function_call_arguments.done","item_id":"i2","call_id":"c1","name":"lookup","arguments":"{}"}`))
	if err != nil {
		t.Fatalf("decode arguments done: %v", err)
	}
	done := ev.(FunctionCallArgumentsDoneEvent)
	if done.CallID != "c1" || done.Name != "lookup" {
		t.Fatalf("unexpected event %+v", done)
	}
}

func TestDecodeAudioDelta(t *testing.T) {
	ev, err := DecodeServerEvent([]byte(`{"type":"response.audio.delta","item_id":"i1","content_index":0,"delta":"AQID"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	delta := ev.(AudioDeltaEvent)
	if !bytes.Equal(delta.Delta, []byte{1, 2, 3}) {
		t.Fatalf("decoded audio = %v, want [1 2 3]", delta.Delta)
	}

	_, err = DecodeServerEvent([]byte(`{"type":"response.audio.delta","item_id":"i1","delta":"not base64!"}`))
	if !IsKind(err, ErrProtocol) {
		t.Fatalf("expected protocol error for bad base64, got %v", err)
	}
}

func TestDecodeErrorEvent(t *testing.T) {
	ev, err := DecodeServerEvent([]byte(`{"type":"error","error":{"code":"rate_limited","message":"slow down"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ee := ev.(ErrorEvent)
	if ee.Code != "rate_limited" || ee.Message != "slow down" {
		t.Fatalf("unexpected event %+v", ee)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	ev, err := DecodeServerEvent([]byte(`{"type":"rate_limits.updated","rate_limits":[]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	unknown, ok := ev.(UnknownEvent)
	if !ok {
		t.Fatalf("expected UnknownEvent, got %T", ev)
	}
	if unknown.Type != "rate_limits.updated" || unknown.EventType() != "rate_limits.updated" {
		t.Fatalf("unexpected event %+v", unknown)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	if _, err := DecodeServerEvent([]byte(`{broken`)); !IsKind(err, ErrProtocol) {
		t.Fatalf("expected protocol error for invalid json, got %v", err)
	}
	if _, err := DecodeServerEvent([]byte(`{"item_id":"i1"}`)); !IsKind(err, ErrProtocol) {
		t.Fatalf("expected protocol error for missing type, got %v", err)
	}
	if _, err := DecodeServerEvent([]byte(`{"type":"  "}`)); !IsKind(err, ErrProtocol) {
		t.Fatalf("expected protocol error for blank type, got %v", err)
	}
}
