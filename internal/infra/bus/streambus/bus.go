// Package streambus defines the change-stream boundary the relay consumes and
// publishes through. Broker protocol mechanics live behind these interfaces;
// the relay only drives subscribe, manual acknowledgment, pause, and resume.
package streambus

import (
	"context"
	"strings"
	"sync"
)

// HeaderObjectType names the record header carrying the changed entity kind.
const HeaderObjectType = "objectType"

// HeaderAction names the record header carrying the change action.
const HeaderAction = "action"

// HeaderError names the dead-letter header carrying the failure reason.
const HeaderError = "error"

// Record is one message on a change stream.
type Record struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Header returns the named header value, or "" when absent.
func (r Record) Header(name string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers[name]
}

// Handler processes one delivered record. Returning nil commits the consumer
// position; returning an error leaves the record uncommitted for redelivery.
type Handler func(ctx context.Context, rec Record) error

// PausableSubscription is the narrow capability the backpressure controller
// needs from a live consumer binding.
type PausableSubscription interface {
	Pause()
	Resume()
}

// Subscription is a live consumer binding with manual commit semantics.
type Subscription interface {
	PausableSubscription
	Close()
}

// Consumer delivers records from a topic to a handler, one at a time per
// subscription, committing position only after the handler succeeds.
type Consumer interface {
	Subscribe(ctx context.Context, topic, group string, handler Handler) (Subscription, error)
}

// Publisher emits records onto a topic.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
}

// Registry tracks live subscriptions by their registered group identifier so
// collaborators can pause or resume them without holding the handle directly.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]PausableSubscription
}

// NewRegistry constructs an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]PausableSubscription)}
}

// Register binds sub under id, replacing any previous binding.
func (r *Registry) Register(id string, sub PausableSubscription) {
	id = strings.TrimSpace(id)
	if id == "" || sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[id] = sub
}

// Deregister removes the binding under id.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// Lookup returns the subscription registered under id, or nil when absent.
func (r *Registry) Lookup(id string) PausableSubscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs[id]
}
