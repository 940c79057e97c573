// Package receipt tracks per-message delivery status. Status only advances
// sent -> delivered -> read; regressions are logged and dropped, never
// surfaced as user-facing errors.
package receipt

import (
	"context"

	"go.uber.org/zap"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/store"
)

type Tracker struct {
	store *store.Store
	log   *zap.SugaredLogger
}

func NewTracker(st *store.Store, log *zap.SugaredLogger) *Tracker {
	return &Tracker{store: st, log: log}
}

// Escalate advances a single message's delivery status. A regression is a
// silent no-op.
func (t *Tracker) Escalate(ctx context.Context, convID, messageID string, to models.DeliveryStatus) error {
	return t.store.Mutate(ctx, convID, func(c *models.Conversation) error {
		m := c.FindMessage(messageID)
		if m == nil {
			return store.ErrNotFound
		}
		t.advance(m, to, convID)
		return nil
	})
}

// MarkDelivered escalates every message the given sender has in flight. Driven
// by the transport acknowledging the peer received the conversation state.
func (t *Tracker) MarkDelivered(ctx context.Context, convID string, sender models.Role) error {
	return t.store.Mutate(ctx, convID, func(c *models.Conversation) error {
		for _, m := range c.Messages {
			if m.Sender == sender {
				t.advance(m, models.StatusDelivered, convID)
			}
		}
		return nil
	})
}

// MarkRead handles the counterpart's read receipt propagated back over the
// transport: the reader's counterpart messages move to read, and the local
// read flags update via the conversation store.
func (t *Tracker) MarkRead(ctx context.Context, convID string, reader models.Role) error {
	err := t.store.Mutate(ctx, convID, func(c *models.Conversation) error {
		for _, m := range c.Messages {
			if m.Sender != reader && m.Sender != models.RoleSystem {
				t.advance(m, models.StatusRead, convID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return t.store.MarkRead(ctx, convID, reader)
}

func (t *Tracker) advance(m *models.Message, to models.DeliveryStatus, convID string) {
	if to.Rank() <= m.Status.Rank() {
		if to.Rank() < m.Status.Rank() && t.log != nil {
			t.log.Debugw("delivery status regression dropped",
				"conversation", convID, "message", m.ID, "have", m.Status, "got", to)
		}
		return
	}
	m.Status = to
	if to == models.StatusRead {
		m.IsRead = true
	}
}
