package groupchat

import (
	"sort"
	"sync"
)

// Tracker holds each chat's pending-response set: the participants that were
// delegated to in the current round and have not yet replied. Emptying a set
// is the sole synthesis trigger, so Mark reports it exactly once.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]map[string]struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{pending: make(map[string]map[string]struct{})}
}

// Begin starts a round for the chat, silently replacing any stale set. Only
// one round is ever in flight per chat. An empty names slice clears the set.
func (t *Tracker) Begin(chatID string, names []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(names) == 0 {
		delete(t.pending, chatID)
		return
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	t.pending[chatID] = set
}

// Mark records a reply from the named participant. It reports true exactly
// when this call removed the last member of the set. Replies from names not
// in the set (late responses from a replaced round) are ignored.
func (t *Tracker) Mark(chatID, name string) (wasLast bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.pending[chatID]
	if !ok {
		return false
	}
	if _, ok := set[name]; !ok {
		return false
	}
	delete(set, name)
	if len(set) == 0 {
		delete(t.pending, chatID)
		return true
	}
	return false
}

// Pending returns the names still awaited for the chat, sorted.
func (t *Tracker) Pending(chatID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.pending[chatID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Clear drops the chat's pending set, if any.
func (t *Tracker) Clear(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, chatID)
}
