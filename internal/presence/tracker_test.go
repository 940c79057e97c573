package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
)

func TestSignalOccupiesSlot(t *testing.T) {
	tr := NewTracker(DefaultWindow)
	tr.Signal("conv-1", models.RoleCustomer)

	s, ok := tr.Current()
	assert.True(t, ok)
	assert.Equal(t, "conv-1", s.ConversationID)
	assert.Equal(t, models.RoleCustomer, s.Role)
	assert.True(t, tr.TypingIn("conv-1", models.RoleCustomer))
	assert.False(t, tr.TypingIn("conv-1", models.RoleSeller))
}

func TestLastWriterWins(t *testing.T) {
	tr := NewTracker(DefaultWindow)
	tr.Signal("conv-1", models.RoleCustomer)
	tr.Signal("conv-2", models.RoleSeller)

	s, ok := tr.Current()
	assert.True(t, ok)
	assert.Equal(t, "conv-2", s.ConversationID)
	assert.False(t, tr.TypingIn("conv-1", models.RoleCustomer))
}

func TestSignalExpiresAfterInactivityWindow(t *testing.T) {
	tr := NewTracker(4 * time.Second)
	now := time.Now()
	tr.now = func() time.Time { return now }

	tr.Signal("conv-1", models.RoleCustomer)
	_, ok := tr.Current()
	assert.True(t, ok)

	// Six seconds of silence, above the window: the indicator clears on read.
	now = now.Add(6 * time.Second)
	_, ok = tr.Current()
	assert.False(t, ok)
	assert.False(t, tr.TypingIn("conv-1", models.RoleCustomer))
}

func TestSignalRefreshExtendsWindow(t *testing.T) {
	tr := NewTracker(4 * time.Second)
	now := time.Now()
	tr.now = func() time.Time { return now }

	tr.Signal("conv-1", models.RoleCustomer)
	now = now.Add(3 * time.Second)
	tr.Signal("conv-1", models.RoleCustomer)
	now = now.Add(3 * time.Second)

	_, ok := tr.Current()
	assert.True(t, ok)
}

func TestClear(t *testing.T) {
	tr := NewTracker(DefaultWindow)
	tr.Signal("conv-1", models.RoleCustomer)
	tr.Clear()
	_, ok := tr.Current()
	assert.False(t, ok)
}
