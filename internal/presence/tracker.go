// Package presence holds the ephemeral typing signal. One slot process-wide:
// at most one {conversation, role} pair is "currently typing" at any instant,
// last writer wins. The signal is advisory UI state, never persisted.
package presence

import (
	"sync"
	"time"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
)

// DefaultWindow is the inactivity window after which a typing signal expires.
const DefaultWindow = 4 * time.Second

type Signal struct {
	ConversationID string
	Role           models.Role
	ExpiresAt      time.Time
}

type Tracker struct {
	mu     sync.Mutex
	slot   *Signal
	window time.Duration
	now    func() time.Time
}

func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{window: window, now: time.Now}
}

// Signal records a keystroke event, replacing whatever occupied the slot.
func (t *Tracker) Signal(convID string, role models.Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slot = &Signal{
		ConversationID: convID,
		Role:           role,
		ExpiresAt:      t.now().Add(t.window),
	}
}

// Current returns the active typing signal, lazily expiring a stale one.
func (t *Tracker) Current() (Signal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.slot == nil {
		return Signal{}, false
	}
	if t.now().After(t.slot.ExpiresAt) {
		t.slot = nil
		return Signal{}, false
	}
	return *t.slot, true
}

// TypingIn reports whether the given role is typing in the conversation.
func (t *Tracker) TypingIn(convID string, role models.Role) bool {
	s, ok := t.Current()
	return ok && s.ConversationID == convID && s.Role == role
}

// Clear drops the slot, e.g. when the composing party sends the message.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slot = nil
}
