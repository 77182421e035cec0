// Package sessions tracks live call sessions across the TwiML webhook and
// the media-stream socket, and accumulates per-call transcripts.
package sessions

import (
	"context"
	"strings"
	"sync"
)

// Phase is the call lifecycle.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseStreaming Phase = "streaming"
	PhaseClosing   Phase = "closing"
	PhaseClosed    Phase = "closed"
)

// Record holds the state of one call. The incoming-call webhook creates
// it; the media-stream bridge fills it in and tears it down.
type Record struct {
	mu sync.Mutex

	callSID      string
	streamSID    string
	caller       string
	firstMessage string
	phase        Phase
	transcript   []string

	cancel  func()
	release sync.Once
}

func (r *Record) CallSID() string { return r.callSID }

func (r *Record) StreamSID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streamSID
}

func (r *Record) Caller() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caller
}

func (r *Record) FirstMessage() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.firstMessage
}

func (r *Record) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// BeginStreaming records the stream identity announced in the start frame
// and moves the call into the streaming phase. Parameters carried on the
// stream override the webhook values.
func (r *Record) BeginStreaming(streamSID, caller, firstMessage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streamSID = streamSID
	if strings.TrimSpace(caller) != "" {
		r.caller = caller
	}
	if strings.TrimSpace(firstMessage) != "" {
		r.firstMessage = firstMessage
	}
	r.phase = PhaseStreaming
}

// SetCancel installs the function that aborts the call's bridge loops.
func (r *Record) SetCancel(cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancel = cancel
}

// AppendTranscript adds one attributed line to the call transcript.
func (r *Record) AppendTranscript(speaker, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcript = append(r.transcript, speaker+": "+text)
}

// Transcript returns the accumulated dialogue, one attributed line each.
func (r *Record) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.transcript, "\n")
}

func (r *Record) setPhase(p Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phase = p
}

// Registry is the process-wide call table keyed by call SID.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	wg      sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Create registers a new call record. Re-registering an existing call SID
// replaces the old record; the replaced call is cancelled.
func (g *Registry) Create(callSID, caller, firstMessage string) *Record {
	rec := &Record{
		callSID:      callSID,
		caller:       caller,
		firstMessage: firstMessage,
		phase:        PhaseStarting,
	}

	g.mu.Lock()
	old := g.records[callSID]
	g.records[callSID] = rec
	g.wg.Add(1)
	g.mu.Unlock()

	if old != nil {
		g.drop(callSID, old)
	}
	return rec
}

// Lookup returns the record for a call SID, or nil.
func (g *Registry) Lookup(callSID string) *Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.records[callSID]
}

// Close moves the record to closed and removes it from the table. Safe to
// call more than once; only the first close releases the registry slot.
func (g *Registry) Close(rec *Record) {
	if rec == nil {
		return
	}
	rec.setPhase(PhaseClosing)
	g.drop(rec.callSID, rec)
	rec.setPhase(PhaseClosed)
}

func (g *Registry) drop(callSID string, rec *Record) {
	rec.mu.Lock()
	cancel := rec.cancel
	rec.cancel = nil
	rec.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	g.mu.Lock()
	if g.records[callSID] == rec {
		delete(g.records, callSID)
	}
	g.mu.Unlock()
	rec.release.Do(g.wg.Done)
}

func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.records)
}

// CancelAll aborts every live call, used during shutdown.
func (g *Registry) CancelAll() (cancelled int) {
	g.mu.Lock()
	recs := make([]*Record, 0, len(g.records))
	for _, rec := range g.records {
		recs = append(recs, rec)
	}
	g.mu.Unlock()

	for _, rec := range recs {
		rec.mu.Lock()
		cancel := rec.cancel
		rec.mu.Unlock()
		if cancel != nil {
			cancel()
			cancelled++
		}
	}
	return cancelled
}

// Wait blocks until every registered call has been closed or ctx expires.
func (g *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
