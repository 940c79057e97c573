// Package offer implements the negotiation lifecycle of offer messages.
// A pending offer may be accepted, rejected or countered by the counterpart;
// countering closes the original and spawns a fresh pending offer so the full
// price history stays auditable.
package offer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/store"
)

var (
	// ErrStaleOfferAction covers both acting on a non-pending offer and a
	// sender responding to their own offer. No-op for the store, surfaced to
	// the caller as a validation failure.
	ErrStaleOfferAction = errors.New("stale offer action")
	ErrNotAnOffer       = errors.New("message is not an offer")
)

type Action string

const (
	ActionAccept  Action = "accepted"
	ActionReject  Action = "rejected"
	ActionCounter Action = "countered"
)

type Machine struct {
	store *store.Store
	log   *zap.SugaredLogger
}

func NewMachine(st *store.Store, log *zap.SugaredLogger) *Machine {
	return &Machine{store: st, log: log}
}

// Respond applies accept/reject/counter to a pending offer. On counter it
// appends the responder's sibling offer and returns it; otherwise returns nil.
func (m *Machine) Respond(ctx context.Context, convID, messageID string, responder models.Role, action Action, counterPrice int64) (*models.Message, error) {
	if action == ActionCounter && counterPrice <= 0 {
		return nil, models.ErrInvalidOfferAmount
	}

	var counter *models.Message
	err := m.store.Mutate(ctx, convID, func(c *models.Conversation) error {
		msg := c.FindMessage(messageID)
		if msg == nil {
			return store.ErrNotFound
		}
		if msg.Type != models.TypeOffer || msg.Payload == nil {
			return ErrNotAnOffer
		}
		if msg.Payload.Status.Terminal() {
			return ErrStaleOfferAction
		}
		if msg.Sender == responder {
			// Blocks the trivial self-acceptance bug.
			return ErrStaleOfferAction
		}

		switch action {
		case ActionAccept:
			msg.Payload.Status = models.OfferAccepted
		case ActionReject:
			msg.Payload.Status = models.OfferRejected
		case ActionCounter:
			msg.Payload.Status = models.OfferCountered
			msg.Payload.CounterPrice = counterPrice
			counter = &models.Message{
				ID:        models.NewID(),
				Sender:    responder,
				Type:      models.TypeOffer,
				Timestamp: time.Now().UTC(),
				Status:    models.StatusSent,
				Payload:   &models.OfferPayload{OfferPrice: counterPrice, Status: models.OfferPending},
			}
		default:
			return ErrStaleOfferAction
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStaleOfferAction) && m.log != nil {
			m.log.Infow("stale offer action ignored", "conversation", convID, "message", messageID, "action", action)
		}
		return nil, err
	}

	if counter != nil {
		if err := m.store.Append(ctx, convID, counter); err != nil {
			return nil, err
		}
	}
	return counter, nil
}
