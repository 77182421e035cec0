package realtime

import (
	"bytes"
	"testing"
)

func createdUser(id string) ItemCreatedEvent {
	return ItemCreatedEvent{Item: ItemPayload{ID: id, Type: "message", Role: "user"}}
}

func createdAssistant(id string) ItemCreatedEvent {
	return ItemCreatedEvent{Item: ItemPayload{ID: id, Type: "message", Role: "assistant"}}
}

func TestConversationOrdering(t *testing.T) {
	c := NewConversation(0, 0)
	c.Process(createdUser("a"))
	c.Process(createdUser("c"))
	// Server places b after a.
	c.Process(ItemCreatedEvent{
		PreviousItemID: "a",
		Item:           ItemPayload{ID: "b", Type: "message", Role: "assistant"},
	})

	items := c.Items()
	if len(items) != 3 {
		t.Fatalf("item count = %d, want 3", len(items))
	}
	for i, want := range []string{"a", "b", "c"} {
		if items[i].ID != want {
			t.Fatalf("order = [%s %s %s], want [a b c]", items[0].ID, items[1].ID, items[2].ID)
		}
	}
}

func TestConversationDuplicateCreateIgnored(t *testing.T) {
	c := NewConversation(0, 0)
	c.Process(createdUser("a"))
	c.Process(TextDeltaEvent{ItemID: "a", Delta: "hi"})
	c.Process(createdUser("a"))

	item := c.Item("a")
	if item.Formatted.Text != "hi" {
		t.Fatalf("duplicate create clobbered text, got %q", item.Formatted.Text)
	}
	if len(c.Items()) != 1 {
		t.Fatalf("duplicate create inserted a second item")
	}
}

func TestConversationTextDeltaConcatenation(t *testing.T) {
	c := NewConversation(0, 0)
	c.Process(createdAssistant("a"))

	_, d1 := c.Process(TextDeltaEvent{ItemID: "a", Delta: "He"})
	item, d2 := c.Process(TextDeltaEvent{ItemID: "a", Delta: "llo"})

	if d1 == nil || d1.Text != "He" || d2 == nil || d2.Text != "llo" {
		t.Fatal("raw deltas not surfaced individually")
	}
	if item.Formatted.Text != "Hello" {
		t.Fatalf("accumulated text = %q, want Hello", item.Formatted.Text)
	}
}

func TestConversationAudioAndTranscriptDeltas(t *testing.T) {
	c := NewConversation(0, 0)
	c.Process(createdAssistant("a"))

	c.Process(AudioDeltaEvent{ItemID: "a", Delta: []byte{1, 2}})
	item, delta := c.Process(AudioDeltaEvent{ItemID: "a", Delta: []byte{3, 4}})
	if !bytes.Equal(item.Formatted.Audio, []byte{1, 2, 3, 4}) {
		t.Fatalf("accumulated audio = %v", item.Formatted.Audio)
	}
	if !bytes.Equal(delta.Audio, []byte{3, 4}) {
		t.Fatalf("raw audio delta = %v", delta.Audio)
	}

	item, _ = c.Process(AudioTranscriptDeltaEvent{ItemID: "a", Delta: "goodbye"})
	if item.Formatted.Transcript != "goodbye" {
		t.Fatalf("transcript = %q", item.Formatted.Transcript)
	}
}

func TestConversationDeltaForUnknownItemDropped(t *testing.T) {
	c := NewConversation(0, 0)
	item, delta := c.Process(TextDeltaEvent{ItemID: "ghost", Delta: "x"})
	if item != nil || delta != nil {
		t.Fatal("delta for unknown item should fold to nothing")
	}
}

func TestConversationStatusMonotonic(t *testing.T) {
	c := NewConversation(0, 0)
	c.Process(createdAssistant("a"))
	if c.Item("a").Status != ItemInProgress {
		t.Fatal("new item not in progress")
	}

	c.Process(OutputItemDoneEvent{Item: ItemPayload{ID: "a", Type: "message", Role: "assistant"}})
	if c.Item("a").Status != ItemCompleted {
		t.Fatal("item not completed after output done")
	}

	// Late deltas still append content but never reopen the item.
	item, _ := c.Process(TextDeltaEvent{ItemID: "a", Delta: "tail"})
	if item.Status != ItemCompleted {
		t.Fatal("completed status reversed by a late delta")
	}
}

func TestConversationTruncateCutsAudio(t *testing.T) {
	c := NewConversation(24000, 2)
	c.Process(createdAssistant("a"))
	c.Process(AudioDeltaEvent{ItemID: "a", Delta: make([]byte, 96000)}) // 2s of pcm16
	c.Process(AudioTranscriptDeltaEvent{ItemID: "a", Delta: "full sentence"})

	item, _ := c.Process(ItemTruncatedEvent{ItemID: "a", AudioEndMS: 1000})
	if len(item.Formatted.Audio) != 48000 {
		t.Fatalf("audio after truncate = %d bytes, want 48000", len(item.Formatted.Audio))
	}
	if item.Formatted.Transcript != "" {
		t.Fatalf("transcript survived truncate: %q", item.Formatted.Transcript)
	}
}

func TestConversationTruncateG711CutsAudio(t *testing.T) {
	c := NewConversation(8000, 1)
	c.Process(createdAssistant("a"))
	c.Process(AudioDeltaEvent{ItemID: "a", Delta: make([]byte, 8000)}) // 1s of ulaw

	item, _ := c.Process(ItemTruncatedEvent{ItemID: "a", AudioEndMS: 500})
	if len(item.Formatted.Audio) != 4000 {
		t.Fatalf("audio after truncate = %d bytes, want 4000", len(item.Formatted.Audio))
	}
}

func TestConversationTruncateBeyondEndKeepsAudio(t *testing.T) {
	c := NewConversation(24000, 2)
	c.Process(createdAssistant("a"))
	c.Process(AudioDeltaEvent{ItemID: "a", Delta: make([]byte, 100)})

	item, _ := c.Process(ItemTruncatedEvent{ItemID: "a", AudioEndMS: 60000})
	if len(item.Formatted.Audio) != 100 {
		t.Fatalf("audio = %d bytes, want 100", len(item.Formatted.Audio))
	}
}

func TestConversationDelete(t *testing.T) {
	c := NewConversation(0, 0)
	c.Process(createdUser("a"))
	c.Process(createdUser("b"))

	c.Process(ItemDeletedEvent{ItemID: "a"})
	if c.Item("a") != nil {
		t.Fatal("deleted item still addressable")
	}
	if items := c.Items(); len(items) != 1 || items[0].ID != "b" {
		t.Fatalf("items after delete = %v", items)
	}

	// Deleting a missing item is not an error.
	if item, _ := c.Process(ItemDeletedEvent{ItemID: "ghost"}); item != nil {
		t.Fatal("ghost delete returned an item")
	}
}

func TestConversationTranscriptionCompleted(t *testing.T) {
	c := NewConversation(0, 0)
	c.Process(createdUser("a"))

	item, delta := c.Process(InputAudioTranscriptionCompletedEvent{
		ItemID: "a", ContentIndex: 1, Transcript: "hello world",
	})
	if item.Formatted.Transcript != "hello world" {
		t.Fatalf("transcript = %q", item.Formatted.Transcript)
	}
	if delta == nil || delta.Transcript != "hello world" {
		t.Fatal("transcript delta not surfaced")
	}
	// Index beyond current content pads with placeholder parts.
	if len(item.Content) != 2 {
		t.Fatalf("content parts = %d, want 2", len(item.Content))
	}

	// Empty transcripts become a newline so downstream joins stay aligned.
	item, _ = c.Process(InputAudioTranscriptionCompletedEvent{ItemID: "a", Transcript: ""})
	if item.Content[0].Transcript != "\n" {
		t.Fatalf("empty transcript = %q, want newline", item.Content[0].Transcript)
	}
}

func TestConversationQueuedAudioFIFO(t *testing.T) {
	c := NewConversation(0, 0)
	c.QueueInputAudio([]byte{1})
	c.QueueInputAudio([]byte{2})

	c.Process(createdUser("a"))
	c.Process(createdUser("b"))

	if !bytes.Equal(c.Item("a").Formatted.Audio, []byte{1}) {
		t.Fatalf("first item audio = %v", c.Item("a").Formatted.Audio)
	}
	if !bytes.Equal(c.Item("b").Formatted.Audio, []byte{2}) {
		t.Fatalf("second item audio = %v", c.Item("b").Formatted.Audio)
	}
}

func TestConversationQueuedAudioSkipsNonUserItems(t *testing.T) {
	c := NewConversation(0, 0)
	c.QueueInputAudio([]byte{7})

	c.Process(createdAssistant("x"))
	if len(c.Item("x").Formatted.Audio) != 0 {
		t.Fatal("queued audio merged into assistant item")
	}

	c.Process(createdUser("y"))
	if !bytes.Equal(c.Item("y").Formatted.Audio, []byte{7}) {
		t.Fatal("queued audio lost before the next user item")
	}
}

func TestConversationFunctionCallAssembly(t *testing.T) {
	c := NewConversation(0, 0)
	c.Process(ItemCreatedEvent{Item: ItemPayload{
		ID: "fc", Type: "function_call", CallID: "call_1", Name: "lookup",
	}})

	c.Process(FunctionCallArgumentsDeltaEvent{ItemID: "fc", Delta: `{"id":`})
	c.Process(FunctionCallArgumentsDeltaEvent{ItemID: "fc", Delta: `"42"}`})

	// Incomplete item never qualifies as a dispatchable call.
	if _, ok := c.Item("fc").CompletedToolCall(); ok {
		t.Fatal("in-progress function call reported dispatchable")
	}

	item, _ := c.Process(OutputItemDoneEvent{Item: ItemPayload{
		ID: "fc", Type: "function_call", CallID: "call_1", Name: "lookup",
	}})
	tool, ok := item.CompletedToolCall()
	if !ok {
		t.Fatal("completed function call not dispatchable")
	}
	if tool.Name != "lookup" || tool.CallID != "call_1" || tool.Arguments != `{"id":"42"}` {
		t.Fatalf("unexpected tool call %+v", tool)
	}
}

func TestConversationInvalidArgumentsNotDispatchable(t *testing.T) {
	c := NewConversation(0, 0)
	c.Process(ItemCreatedEvent{Item: ItemPayload{
		ID: "fc", Type: "function_call", CallID: "call_1", Name: "lookup",
	}})
	c.Process(FunctionCallArgumentsDeltaEvent{ItemID: "fc", Delta: `{"id":`})
	item, _ := c.Process(OutputItemDoneEvent{Item: ItemPayload{
		ID: "fc", Type: "function_call", CallID: "call_1", Name: "lookup",
	}})
	if _, ok := item.CompletedToolCall(); ok {
		t.Fatal("truncated json arguments reported dispatchable")
	}
}

func TestConversationSnapshotsAreCopies(t *testing.T) {
	c := NewConversation(0, 0)
	c.Process(createdAssistant("a"))
	c.Process(AudioDeltaEvent{ItemID: "a", Delta: []byte{1, 2, 3}})

	snap := c.Item("a")
	snap.Formatted.Text = "mutated"
	snap.Formatted.Audio[0] = 99

	fresh := c.Item("a")
	if fresh.Formatted.Text == "mutated" || fresh.Formatted.Audio[0] == 99 {
		t.Fatal("snapshot mutation leaked into conversation state")
	}
}

func TestConversationClear(t *testing.T) {
	c := NewConversation(0, 0)
	c.QueueInputAudio([]byte{1})
	c.Process(createdUser("a"))

	c.Clear()
	if len(c.Items()) != 0 || c.Item("a") != nil {
		t.Fatal("clear left items behind")
	}
	// Queued audio is dropped too: the next user item starts clean.
	c.Process(createdUser("b"))
	if len(c.Item("b").Formatted.Audio) != 0 {
		t.Fatal("queued audio survived clear")
	}
}
