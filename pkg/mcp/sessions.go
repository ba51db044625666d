package mcp

import (
	"slices"
	"sync"
)

// SessionRegistry maps automation IDs to the MCP sessions watching them.
type SessionRegistry struct {
	mu       sync.RWMutex
	watchers map[int]map[string]struct{}
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{watchers: make(map[int]map[string]struct{})}
}

// Watch subscribes a session to the runs of an automation.
func (r *SessionRegistry) Watch(automationID int, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watchers[automationID]
	if !ok {
		set = make(map[string]struct{})
		r.watchers[automationID] = set
	}
	set[sessionID] = struct{}{}
}

// Unwatch removes one subscription.
func (r *SessionRegistry) Unwatch(automationID int, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unwatch(automationID, sessionID)
}

func (r *SessionRegistry) unwatch(automationID int, sessionID string) {
	set := r.watchers[automationID]
	delete(set, sessionID)
	if len(set) == 0 {
		delete(r.watchers, automationID)
	}
}

// Watchers returns the sessions watching an automation, sorted.
func (r *SessionRegistry) Watchers(automationID int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.watchers[automationID]))
	for sid := range r.watchers[automationID] {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}

// Remove deletes every subscription of a session. Called when a session
// disconnects.
func (r *SessionRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.watchers {
		r.unwatch(id, sessionID)
	}
}
