package realtime

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"sync"
)

// DefaultSampleRate is the PCM sample rate assumed for audio truncation
// math when the session does not override it.
const DefaultSampleRate = 24000

// DefaultBytesPerSample matches pcm16. Telephony sessions carrying g711
// override it to 1.
const DefaultBytesPerSample = 2

// ItemType enumerates conversation item kinds.
type ItemType string

const (
	ItemTypeMessage            ItemType = "message"
	ItemTypeFunctionCall       ItemType = "function_call"
	ItemTypeFunctionCallOutput ItemType = "function_call_output"
)

// Role enumerates message authors.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ItemStatus is the completion state of an item. The transition
// in_progress -> completed happens at most once and never reverses.
type ItemStatus string

const (
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
)

// ContentPart is one typed fragment of item content. Parts are appended,
// never removed, except by explicit truncate or delete.
type ContentPart struct {
	Type       string
	Text       string
	Transcript string
	Audio      []byte
}

// ToolCall is the parsed function-call view of a completed item.
type ToolCall struct {
	Name      string
	CallID    string
	Arguments string
}

// Formatted is the flattened read-side view of an item.
type Formatted struct {
	Text       string
	Transcript string
	Audio      []byte
	Tool       *ToolCall
}

// Item is one unit of conversation content.
type Item struct {
	ID        string
	Type      ItemType
	Role      Role
	Status    ItemStatus
	CallID    string
	Name      string
	Arguments string
	Content   []ContentPart
	Formatted Formatted
}

// Delta is the incremental fragment returned alongside an item from a
// fold, for zero-latency downstream forwarding.
type Delta struct {
	Text       string
	Audio      []byte
	Transcript string
	Arguments  string
}

// Conversation folds inbound server events into an ordered item
// collection. It owns the items exclusively; callers receive snapshots.
type Conversation struct {
	mu         sync.Mutex
	items          []*Item
	byID           map[string]*Item
	sampleRate     int
	bytesPerSample int

	// Audio committed before the server assigned an item id, merged into
	// the next matching created item in arrival order.
	queuedInputAudio [][]byte
}

// NewConversation returns an empty conversation. sampleRate <= 0 selects
// DefaultSampleRate; bytesPerSample <= 0 selects DefaultBytesPerSample.
func NewConversation(sampleRate, bytesPerSample int) *Conversation {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if bytesPerSample <= 0 {
		bytesPerSample = DefaultBytesPerSample
	}
	return &Conversation{
		byID:           make(map[string]*Item),
		sampleRate:     sampleRate,
		bytesPerSample: bytesPerSample,
	}
}

// SampleRate returns the audio sample rate used for truncation math.
func (c *Conversation) SampleRate() int { return c.sampleRate }

// BytesPerSample returns the byte width of one audio sample.
func (c *Conversation) BytesPerSample() int { return c.bytesPerSample }

// Clear drops all items and queued audio.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.byID = make(map[string]*Item)
	c.queuedInputAudio = nil
}

// QueueInputAudio holds committed input audio until the server announces
// the item it belongs to.
func (c *Conversation) QueueInputAudio(audio []byte) {
	if len(audio) == 0 {
		return
	}
	buf := append([]byte(nil), audio...)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queuedInputAudio = append(c.queuedInputAudio, buf)
}

// Item returns a snapshot of the item with the given id, or nil.
func (c *Conversation) Item(id string) *Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.byID[id]
	if !ok {
		return nil
	}
	return item.snapshot()
}

// Items returns ordered snapshots of all items.
func (c *Conversation) Items() []*Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item.snapshot())
	}
	return out
}

// Process folds one server event and returns a snapshot of the affected
// item (nil when the event addresses no item) and the raw delta (nil when
// the event is not incremental).
func (c *Conversation) Process(ev ServerEvent) (*Item, *Delta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case ItemCreatedEvent:
		return c.applyCreated(e), nil

	case OutputItemAddedEvent:
		if _, ok := c.byID[e.Item.ID]; !ok {
			c.insert(itemFromPayload(e.Item), "")
		}
		return c.snapshotOf(e.Item.ID), nil

	case AudioDeltaEvent:
		item := c.byID[e.ItemID]
		if item == nil {
			return nil, nil
		}
		part := item.part("audio")
		part.Audio = append(part.Audio, e.Delta...)
		item.Formatted.Audio = append(item.Formatted.Audio, e.Delta...)
		return item.snapshot(), &Delta{Audio: e.Delta}

	case TextDeltaEvent:
		item := c.byID[e.ItemID]
		if item == nil {
			return nil, nil
		}
		part := item.part("text")
		part.Text += e.Delta
		item.Formatted.Text += e.Delta
		return item.snapshot(), &Delta{Text: e.Delta}

	case AudioTranscriptDeltaEvent:
		item := c.byID[e.ItemID]
		if item == nil {
			return nil, nil
		}
		part := item.part("audio")
		part.Transcript += e.Delta
		item.Formatted.Transcript += e.Delta
		return item.snapshot(), &Delta{Transcript: e.Delta}

	case FunctionCallArgumentsDeltaEvent:
		item := c.byID[e.ItemID]
		if item == nil {
			return nil, nil
		}
		item.Arguments += e.Delta
		if item.Formatted.Tool != nil {
			item.Formatted.Tool.Arguments += e.Delta
		}
		return item.snapshot(), &Delta{Arguments: e.Delta}

	case FunctionCallArgumentsDoneEvent:
		item := c.byID[e.ItemID]
		if item == nil {
			return nil, nil
		}
		if e.Arguments != "" {
			item.Arguments = e.Arguments
		}
		if e.Name != "" {
			item.Name = e.Name
		}
		return item.snapshot(), nil

	case OutputItemDoneEvent:
		item := c.byID[e.Item.ID]
		if item == nil {
			item = itemFromPayload(e.Item)
			c.insert(item, "")
		}
		item.complete()
		if e.Item.Arguments != "" {
			item.Arguments = e.Item.Arguments
		}
		if e.Item.Name != "" {
			item.Name = e.Item.Name
		}
		item.refreshTool()
		return item.snapshot(), nil

	case InputAudioTranscriptionCompletedEvent:
		item := c.byID[e.ItemID]
		if item == nil {
			return nil, nil
		}
		transcript := e.Transcript
		if transcript == "" {
			transcript = "\n"
		}
		for e.ContentIndex >= len(item.Content) {
			item.Content = append(item.Content, ContentPart{Type: "input_audio"})
		}
		item.Content[e.ContentIndex].Transcript = transcript
		item.Formatted.Transcript = transcript
		return item.snapshot(), &Delta{Transcript: transcript}

	case SpeechStartedEvent:
		// Interruption marker; the orchestrator raises the interrupted
		// notification. No item mutation here.
		return c.snapshotOf(e.ItemID), nil

	case SpeechStoppedEvent:
		return c.snapshotOf(e.ItemID), nil

	case ItemTruncatedEvent:
		item := c.byID[e.ItemID]
		if item == nil {
			return nil, nil
		}
		end := e.AudioEndMS * c.sampleRate / 1000 * c.bytesPerSample
		for i := range item.Content {
			if item.Content[i].Type != "audio" {
				continue
			}
			if end < len(item.Content[i].Audio) {
				item.Content[i].Audio = item.Content[i].Audio[:end]
			}
			item.Content[i].Transcript = ""
		}
		if end < len(item.Formatted.Audio) {
			item.Formatted.Audio = item.Formatted.Audio[:end]
		}
		item.Formatted.Transcript = ""
		return item.snapshot(), nil

	case ItemDeletedEvent:
		item := c.byID[e.ItemID]
		if item == nil {
			return nil, nil
		}
		delete(c.byID, e.ItemID)
		for i, it := range c.items {
			if it == item {
				c.items = append(c.items[:i:i], c.items[i+1:]...)
				break
			}
		}
		return item.snapshot(), nil

	default:
		return nil, nil
	}
}

func (c *Conversation) applyCreated(e ItemCreatedEvent) *Item {
	if existing, ok := c.byID[e.Item.ID]; ok {
		return existing.snapshot()
	}
	item := itemFromPayload(e.Item)

	// Merge audio that was committed before this item id existed.
	if item.Type == ItemTypeMessage && item.Role == RoleUser && len(c.queuedInputAudio) > 0 && !item.hasAudio() {
		audio := c.queuedInputAudio[0]
		c.queuedInputAudio = c.queuedInputAudio[1:]
		item.Content = append(item.Content, ContentPart{Type: "input_audio", Audio: audio})
		item.Formatted.Audio = append(item.Formatted.Audio, audio...)
	}

	c.insert(item, e.PreviousItemID)
	return item.snapshot()
}

func (c *Conversation) insert(item *Item, previousItemID string) {
	c.byID[item.ID] = item
	if previousItemID != "" {
		for i, it := range c.items {
			if it.ID == previousItemID {
				c.items = append(c.items[:i+1], append([]*Item{item}, c.items[i+1:]...)...)
				return
			}
		}
	}
	c.items = append(c.items, item)
}

func (c *Conversation) snapshotOf(id string) *Item {
	if item, ok := c.byID[id]; ok {
		return item.snapshot()
	}
	return nil
}

func itemFromPayload(p ItemPayload) *Item {
	item := &Item{
		ID:        p.ID,
		Type:      ItemType(p.Type),
		Role:      Role(p.Role),
		Status:    ItemInProgress,
		CallID:    p.CallID,
		Name:      p.Name,
		Arguments: p.Arguments,
	}
	if p.Status == string(ItemCompleted) {
		item.Status = ItemCompleted
	}
	for _, part := range p.Content {
		cp := ContentPart{Type: part.Type, Text: part.Text, Transcript: part.Transcript}
		if part.Audio != "" {
			cp.Audio = decodeBase64Loose(part.Audio)
		}
		item.Content = append(item.Content, cp)
		item.Formatted.Text += part.Text
		item.Formatted.Transcript += part.Transcript
		item.Formatted.Audio = append(item.Formatted.Audio, cp.Audio...)
	}
	if item.Type == ItemTypeFunctionCall {
		item.Formatted.Tool = &ToolCall{Name: p.Name, CallID: p.CallID, Arguments: p.Arguments}
	}
	return item
}

// part returns the content part of the given type, creating it on the
// first delta.
func (i *Item) part(typ string) *ContentPart {
	for idx := range i.Content {
		if i.Content[idx].Type == typ {
			return &i.Content[idx]
		}
	}
	i.Content = append(i.Content, ContentPart{Type: typ})
	return &i.Content[len(i.Content)-1]
}

func (i *Item) hasAudio() bool {
	for _, part := range i.Content {
		if len(part.Audio) > 0 {
			return true
		}
	}
	return false
}

// complete marks the item completed. Status is monotonic.
func (i *Item) complete() {
	i.Status = ItemCompleted
}

// refreshTool fills the formatted tool view for function-call items whose
// arguments parse as JSON.
func (i *Item) refreshTool() {
	if i.Type != ItemTypeFunctionCall {
		return
	}
	tool := &ToolCall{Name: i.Name, CallID: i.CallID, Arguments: i.Arguments}
	i.Formatted.Tool = tool
}

// CompletedToolCall returns the parsed tool call when the item is a
// completed function call with syntactically valid JSON arguments.
func (i *Item) CompletedToolCall() (*ToolCall, bool) {
	if i.Type != ItemTypeFunctionCall || i.Status != ItemCompleted || i.Formatted.Tool == nil {
		return nil, false
	}
	tool := i.Formatted.Tool
	if tool.Name == "" || tool.CallID == "" {
		return nil, false
	}
	if !json.Valid([]byte(strings.TrimSpace(tool.Arguments))) {
		return nil, false
	}
	return &ToolCall{Name: tool.Name, CallID: tool.CallID, Arguments: tool.Arguments}, true
}

func decodeBase64Loose(s string) []byte {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

func (i *Item) snapshot() *Item {
	out := &Item{
		ID:        i.ID,
		Type:      i.Type,
		Role:      i.Role,
		Status:    i.Status,
		CallID:    i.CallID,
		Name:      i.Name,
		Arguments: i.Arguments,
	}
	out.Content = append([]ContentPart(nil), i.Content...)
	for idx := range out.Content {
		out.Content[idx].Audio = append([]byte(nil), i.Content[idx].Audio...)
	}
	out.Formatted = Formatted{
		Text:       i.Formatted.Text,
		Transcript: i.Formatted.Transcript,
		Audio:      append([]byte(nil), i.Formatted.Audio...),
	}
	if i.Formatted.Tool != nil {
		tool := *i.Formatted.Tool
		out.Formatted.Tool = &tool
	}
	return out
}
