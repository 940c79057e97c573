// Package session is the command surface of the negotiation chat core. A
// Session applies every command to local state synchronously (optimistic
// mutation), invokes the collaborator hooks, and relays the command over the
// realtime channel — or the synchronous fallback when the channel is down.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/metrics"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/offer"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/presence"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/receipt"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/store"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/transport"
)

// Hooks are the collaborator callbacks implemented by the surrounding
// application. Local state is already mutated when a hook fires; hook failures
// never roll the mutation back.
type Hooks struct {
	OnSendMessage      func(conversationID string, m *models.Message)
	OnUserTyping       func(conversationID string, role models.Role)
	OnMarkMessagesRead func(conversationID string, role models.Role)
	OnFlagContent      func(kind, id, reason string)
	OnOfferResponse    func(conversationID, messageID string, response offer.Action, counterPrice int64)
}

type Session struct {
	store    *store.Store
	offers   *offer.Machine
	receipts *receipt.Tracker
	typing   *presence.Tracker
	rt       *transport.Session
	fallback *transport.FallbackClient
	hooks    Hooks
	role     models.Role
	log      *zap.SugaredLogger

	mu      sync.Mutex
	pending map[string]string // message id -> conversation id, awaiting server echo
}

type Config struct {
	Store    *store.Store
	Offers   *offer.Machine
	Receipts *receipt.Tracker
	Typing   *presence.Tracker
	Fallback *transport.FallbackClient
	Hooks    Hooks
	Role     models.Role
	Logger   *zap.SugaredLogger

	// Transport settings; Dial is overridable for tests.
	URL      string
	Dial     transport.Dialer
	Identity transport.Identity
	OnState  func(transport.State)
}

func New(cfg Config) *Session {
	s := &Session{
		store:    cfg.Store,
		offers:   cfg.Offers,
		receipts: cfg.Receipts,
		typing:   cfg.Typing,
		fallback: cfg.Fallback,
		hooks:    cfg.Hooks,
		role:     cfg.Role,
		log:      cfg.Logger,
		pending:  make(map[string]string),
	}
	s.rt = transport.NewSession(transport.Options{
		URL:      cfg.URL,
		Dial:     cfg.Dial,
		Identity: cfg.Identity,
		Handler:  s.handleFrame,
		OnState:  cfg.OnState,
		Logger:   cfg.Logger,
	})
	return s
}

func (s *Session) Connect(ctx context.Context) { s.rt.Connect(ctx) }

// Close tears the session down: the transport moves to its terminal state and
// late inbound events can no longer reopen it.
func (s *Session) Close() { s.rt.Close() }

func (s *Session) TransportState() transport.State { return s.rt.State() }

// SendText appends the text message locally, then relays it. When the channel
// is down the fallback path delivers it and its reply is appended exactly once.
func (s *Session) SendText(ctx context.Context, convID, text string) (*models.Message, error) {
	m, err := models.NewTextMessage(s.role, text)
	if err != nil {
		return nil, err
	}
	return m, s.dispatch(ctx, convID, m)
}

// SendOffer appends a pending offer message locally, then relays it.
func (s *Session) SendOffer(ctx context.Context, convID string, offerPrice int64) (*models.Message, error) {
	m, err := models.NewOfferMessage(s.role, offerPrice)
	if err != nil {
		return nil, err
	}
	return m, s.dispatch(ctx, convID, m)
}

func (s *Session) dispatch(ctx context.Context, convID string, m *models.Message) error {
	if err := s.store.Append(ctx, convID, m); err != nil {
		return err
	}
	s.typing.Clear()
	if s.hooks.OnSendMessage != nil {
		s.hooks.OnSendMessage(convID, m)
	}

	err := s.rt.Send(transport.Frame{Type: transport.FrameMessage, ConversationID: convID, Message: m})
	if err == nil {
		s.track(m.ID, convID)
		metrics.MessagesSent.WithLabelValues("realtime").Inc()
		return nil
	}
	if !errors.Is(err, transport.ErrTransportUnavailable) {
		return err
	}
	if m.Type != models.TypeText {
		// Only text rides the fallback; the optimistic offer stays queued at
		// sent until the channel returns.
		return err
	}
	return s.sendViaFallback(ctx, convID, m)
}

func (s *Session) sendViaFallback(ctx context.Context, convID string, m *models.Message) error {
	if s.fallback == nil {
		return transport.ErrTransportUnavailable
	}
	id := s.rt.Identity()
	resp, err := s.fallback.SendMessage(ctx, transport.ChatRequest{
		Message:   m.Text,
		UserID:    id.UserID,
		UserName:  id.UserName,
		Role:      s.role,
		SessionID: id.SessionID,
	})
	if err != nil {
		metrics.FallbackFailures.Inc()
		return err
	}
	metrics.MessagesSent.WithLabelValues("fallback").Inc()
	_ = s.receipts.Escalate(ctx, convID, m.ID, models.StatusDelivered)

	// The fallback response is an inbound message, appended exactly once.
	if resp.Response != "" {
		reply, err := models.NewTextMessage(s.role.Counterpart(), resp.Response)
		if err == nil {
			if err := s.store.Append(ctx, convID, reply); err == nil {
				metrics.MessagesReceived.Inc()
			}
		}
	}
	return nil
}

// RespondToOffer applies accept/reject/counter locally, then relays the
// response. Stale or self-directed actions surface as validation failures.
func (s *Session) RespondToOffer(ctx context.Context, convID, messageID string, action offer.Action, counterPrice int64) (*models.Message, error) {
	counter, err := s.offers.Respond(ctx, convID, messageID, s.role, action, counterPrice)
	if err != nil {
		return nil, err
	}
	metrics.OfferResponses.WithLabelValues(string(action)).Inc()
	if s.hooks.OnOfferResponse != nil {
		s.hooks.OnOfferResponse(convID, messageID, action, counterPrice)
	}
	relayErr := s.rt.Send(transport.Frame{
		Type:           transport.FrameOffer,
		ConversationID: convID,
		MessageID:      messageID,
		Role:           s.role,
		Response:       string(action),
		CounterPrice:   counterPrice,
	})
	if relayErr != nil && s.log != nil {
		s.log.Warnw("offer response relay failed", "conversation", convID, "err", relayErr)
	}
	if counter != nil {
		s.track(counter.ID, convID)
	}
	return counter, nil
}

// MarkRead records the local read receipt and propagates it to the peer.
func (s *Session) MarkRead(ctx context.Context, convID string) error {
	if err := s.receipts.MarkRead(ctx, convID, s.role); err != nil {
		return err
	}
	if s.hooks.OnMarkMessagesRead != nil {
		s.hooks.OnMarkMessagesRead(convID, s.role)
	}
	if err := s.rt.Send(transport.Frame{Type: transport.FrameRead, ConversationID: convID, Role: s.role}); err != nil && s.log != nil {
		s.log.Debugw("read receipt relay skipped", "conversation", convID, "err", err)
	}
	return nil
}

// SignalTyping updates the advisory typing slot and relays it best-effort.
func (s *Session) SignalTyping(convID string) {
	s.typing.Signal(convID, s.role)
	if s.hooks.OnUserTyping != nil {
		s.hooks.OnUserTyping(convID, s.role)
	}
	_ = s.rt.Send(transport.Frame{Type: transport.FrameTyping, ConversationID: convID, Role: s.role, IsTyping: true})
}

// Flag flags the conversation once; repeat calls are silent no-ops.
func (s *Session) Flag(ctx context.Context, convID, reason string) error {
	first, err := s.store.Flag(ctx, convID, reason)
	if err != nil {
		return err
	}
	if first && s.hooks.OnFlagContent != nil {
		s.hooks.OnFlagContent("conversation", convID, reason)
	}
	return nil
}

// PeerTyping reports whether the counterpart is typing in the conversation.
func (s *Session) PeerTyping(convID string) bool {
	return s.typing.TypingIn(convID, s.role.Counterpart())
}

func (s *Session) UnreadCount(convID string) int {
	return s.store.UnreadCount(convID, s.role)
}

func (s *Session) track(msgID, convID string) {
	s.mu.Lock()
	s.pending[msgID] = convID
	s.mu.Unlock()
}

// ack resolves a pending optimistic send when the server echoes it back.
func (s *Session) ack(msgID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	convID, ok := s.pending[msgID]
	if ok {
		delete(s.pending, msgID)
	}
	return convID, ok
}

func (s *Session) handleFrame(f transport.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch f.Type {
	case transport.FrameMessage:
		if f.Message == nil {
			s.dropFrame(f, "missing message")
			return
		}
		if convID, ok := s.ack(f.Message.ID); ok {
			// Server echo of our own optimistic send; just an acknowledgement.
			_ = s.receipts.Escalate(ctx, convID, f.Message.ID, models.StatusDelivered)
			return
		}
		if err := s.store.Append(ctx, f.ConversationID, f.Message); err != nil {
			s.dropFrame(f, err.Error())
			return
		}
		metrics.MessagesReceived.Inc()

	case transport.FrameTyping:
		if f.IsTyping {
			s.typing.Signal(f.ConversationID, f.Role)
		} else {
			s.typing.Clear()
		}

	case transport.FrameRead:
		// The counterpart read the thread; our copies advance to read.
		if err := s.receipts.MarkRead(ctx, f.ConversationID, f.Role); err != nil {
			s.dropFrame(f, err.Error())
		}

	case transport.FrameOffer:
		if _, err := s.offers.Respond(ctx, f.ConversationID, f.MessageID, f.Role, offer.Action(f.Response), f.CounterPrice); err != nil {
			s.dropFrame(f, err.Error())
		}

	case transport.FrameHistory:
		s.mergeHistory(ctx, f.ConversationID, f.Messages)

	case transport.FrameSession, transport.FrameInit:
		// Session identity is handled inside the transport.

	default:
		s.dropFrame(f, "unknown frame type")
	}
}

// mergeHistory folds a server replay into the store. Idempotent appends make
// the merge safe: locally queued optimistic messages the server has not seen
// yet stay in place — a replay never overwrites them.
func (s *Session) mergeHistory(ctx context.Context, convID string, msgs []*models.Message) {
	for _, m := range msgs {
		if m == nil || m.Validate() != nil {
			continue
		}
		if _, ok := s.ack(m.ID); ok {
			_ = s.receipts.Escalate(ctx, convID, m.ID, models.StatusDelivered)
			continue
		}
		if err := s.store.Append(ctx, convID, m); err != nil && s.log != nil {
			s.log.Warnw("history merge skipped message", "message", m.ID, "err", err)
		}
	}
}

func (s *Session) dropFrame(f transport.Frame, reason string) {
	if s.log != nil {
		s.log.Warnw("inbound frame dropped", "type", f.Type, "conversation", f.ConversationID, "reason", reason)
	}
}
