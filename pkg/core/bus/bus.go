// Package bus provides the in-process event dispatcher that decouples the
// realtime transport, conversation state, and call bridge from each other.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Listener receives a published event payload.
type Listener func(payload any)

// Bus is a publish/subscribe dispatcher with prefix-wildcard patterns.
// A pattern whose last segment is "*" matches every event name that shares
// the preceding prefix ("server.*" matches "server.session.created").
// Wildcards are resolved at publish time, not at registration time.
type Bus struct {
	mu      sync.Mutex
	exact   map[string][]*subscription
	prefix  map[string][]*subscription
	nextSeq uint64
	logger  *slog.Logger
}

// seq orders delivery across patterns: listeners fire in the order they
// subscribed, regardless of whether they matched exactly or by prefix.
type subscription struct {
	seq      uint64
	listener Listener
}

// New returns an empty bus. logger may be nil.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		exact:  make(map[string][]*subscription),
		prefix: make(map[string][]*subscription),
		logger: logger,
	}
}

// Subscribe registers listener for pattern. The same listener may be
// registered under multiple patterns.
func (b *Bus) Subscribe(pattern string, listener Listener) {
	if listener == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscription{seq: b.nextSeq, listener: listener}
	b.nextSeq++
	if prefix, ok := wildcardPrefix(pattern); ok {
		b.prefix[prefix] = append(b.prefix[prefix], sub)
		return
	}
	b.exact[pattern] = append(b.exact[pattern], sub)
}

// UnsubscribeAll drops every registered listener.
func (b *Bus) UnsubscribeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exact = make(map[string][]*subscription)
	b.prefix = make(map[string][]*subscription)
}

// Publish delivers payload to every listener whose pattern matches name,
// in subscription order, synchronously on the publisher's goroutine.
// Listeners may themselves publish; nested events are delivered before
// the outer publish returns. A panicking listener is logged and does not
// abort delivery to the remaining listeners.
func (b *Bus) Publish(name string, payload any) {
	b.mu.Lock()
	matched := make([]*subscription, 0, 4)
	matched = append(matched, b.exact[name]...)
	for prefix, subs := range b.prefix {
		if strings.HasPrefix(name, prefix) {
			matched = append(matched, subs...)
		}
	}
	b.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	for _, sub := range matched {
		b.deliver(name, sub, payload)
	}
}

func (b *Bus) deliver(name string, sub *subscription, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "event", name, "panic", fmt.Sprint(r))
		}
	}()
	sub.listener(payload)
}

// WaitFor blocks until the named event next fires and returns its payload,
// or until ctx is cancelled. The one-shot subscription is removed either way.
func (b *Bus) WaitFor(ctx context.Context, name string) (any, error) {
	ch := make(chan any, 1)
	var once sync.Once
	sub := &subscription{}
	sub.listener = func(payload any) {
		once.Do(func() { ch <- payload })
	}

	b.mu.Lock()
	sub.seq = b.nextSeq
	b.nextSeq++
	b.exact[name] = append(b.exact[name], sub)
	b.mu.Unlock()
	defer b.remove(name, sub)

	select {
	case payload := <-ch:
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *Bus) remove(name string, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.exact[name]
	for i, s := range subs {
		if s == sub {
			b.exact[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func wildcardPrefix(pattern string) (string, bool) {
	if pattern == "*" {
		return "", true
	}
	if strings.HasSuffix(pattern, ".*") {
		return strings.TrimSuffix(pattern, "*"), true
	}
	return "", false
}
