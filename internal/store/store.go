package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
)

var ErrNotFound = errors.New("conversation not found")

// Repository persists conversations. The store works without one; persistence
// is best-effort and never blocks a local mutation.
type Repository interface {
	LoadAll(ctx context.Context) ([]*models.Conversation, error)
	Save(ctx context.Context, c *models.Conversation) error
}

// Store owns the ordered message lists and read/flag state per conversation.
// All mutations are single atomic steps under the store lock.
type Store struct {
	mu    sync.RWMutex
	convs map[string]*models.Conversation
	repo  Repository
	log   *zap.SugaredLogger
}

func New(repo Repository, log *zap.SugaredLogger) *Store {
	return &Store{
		convs: make(map[string]*models.Conversation),
		repo:  repo,
		log:   log,
	}
}

// Hydrate loads previously persisted conversations into the store.
func (s *Store) Hydrate(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	convs, err := s.repo.LoadAll(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range convs {
		s.convs[c.ID] = c
	}
	return nil
}

// Ensure returns the conversation for the triple, creating it on first contact.
func (s *Store) Ensure(ctx context.Context, customerID, sellerID, vehicleID, vehicleName string, vehiclePrice int64) *models.Conversation {
	id := models.ConversationKey(customerID, sellerID, vehicleID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[id]; ok {
		return c
	}
	c := &models.Conversation{
		ID:               id,
		VehicleID:        vehicleID,
		VehicleName:      vehicleName,
		VehiclePrice:     vehiclePrice,
		CustomerID:       customerID,
		SellerID:         sellerID,
		IsReadByCustomer: true,
		IsReadBySeller:   true,
		CreatedAt:        time.Now().UTC(),
	}
	s.convs[id] = c
	s.persist(ctx, c)
	return c
}

func (s *Store) Get(id string) (*models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	return c, ok
}

// ListFor returns the conversations a user participates in, most recent first.
func (s *Store) ListFor(userID string) []*models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Conversation
	for _, c := range s.convs {
		if c.CustomerID == userID || c.SellerID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// Append inserts a message in timestamp order, bumps lastMessageAt and resets
// the recipient's read flag. Re-appending an id already present is a no-op.
func (s *Store) Append(ctx context.Context, convID string, m *models.Message) error {
	if err := m.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return ErrNotFound
	}
	if c.FindMessage(m.ID) != nil {
		return nil
	}
	// Insert from the tail; messages almost always arrive in order.
	i := len(c.Messages)
	for i > 0 && c.Messages[i-1].Timestamp.After(m.Timestamp) {
		i--
	}
	c.Messages = append(c.Messages, nil)
	copy(c.Messages[i+1:], c.Messages[i:])
	c.Messages[i] = m

	if m.Timestamp.After(c.LastMessageAt) {
		c.LastMessageAt = m.Timestamp
	}
	switch m.Sender {
	case models.RoleCustomer:
		c.IsReadBySeller = false
	case models.RoleSeller:
		c.IsReadByCustomer = false
	}
	s.persist(ctx, c)
	return nil
}

// MarkRead marks the conversation read for the reader and flips isRead on every
// message authored by the counterpart. Idempotent.
func (s *Store) MarkRead(ctx context.Context, convID string, reader models.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return ErrNotFound
	}
	switch reader {
	case models.RoleCustomer:
		c.IsReadByCustomer = true
	case models.RoleSeller:
		c.IsReadBySeller = true
	}
	for _, m := range c.Messages {
		if m.Sender != reader && m.Sender != models.RoleSystem {
			m.IsRead = true
		}
	}
	s.persist(ctx, c)
	return nil
}

// Flag marks the conversation flagged once. Returns true only on the first call.
func (s *Store) Flag(ctx context.Context, convID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return false, ErrNotFound
	}
	if c.IsFlagged {
		return false, nil
	}
	c.IsFlagged = true
	c.FlagReason = reason
	s.persist(ctx, c)
	return true, nil
}

// UnreadCount counts counterpart messages the viewer has not read yet.
func (s *Store) UnreadCount(convID string, viewer models.Role) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[convID]
	if !ok {
		return 0
	}
	n := 0
	for _, m := range c.Messages {
		if m.Sender != viewer && m.Sender != models.RoleSystem && !m.IsRead {
			n++
		}
	}
	return n
}

// Mutate runs fn on the conversation under the store lock and persists the
// result. The offer machine and receipt tracker mutate message state this way.
func (s *Store) Mutate(ctx context.Context, convID string, fn func(*models.Conversation) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return ErrNotFound
	}
	if err := fn(c); err != nil {
		return err
	}
	s.persist(ctx, c)
	return nil
}

func (s *Store) persist(ctx context.Context, c *models.Conversation) {
	if s.repo == nil {
		return
	}
	if err := s.repo.Save(ctx, c); err != nil && s.log != nil {
		s.log.Warnw("conversation save failed", "conversation", c.ID, "err", err)
	}
}
