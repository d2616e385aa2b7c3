package session

import (
	"sync"

	"github.com/google/uuid"
)

// Registry mints opaque session identifiers. It keeps no per-session state:
// a reset does not look up or invalidate the previous identifier.
type Registry struct {
	mu      sync.RWMutex
	onReset func(previous, next string)
	newID   func() string
}

func NewRegistry() *Registry {
	return &Registry{newID: uuid.NewString}
}

// SetResetHook registers a callback run after every Reset.
func (r *Registry) SetResetHook(hook func(previous, next string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onReset = hook
}

// Reset returns a freshly generated identifier unrelated to previous.
func (r *Registry) Reset(previous string) string {
	next := r.newID()

	r.mu.RLock()
	hook := r.onReset
	r.mu.RUnlock()
	if hook != nil {
		hook(previous, next)
	}
	return next
}
