package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/auth"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/cache"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/kafka"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/offer"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/receipt"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/store"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/transport"
)

// Handler serves the realtime side of the chat core. The first inbound frame
// must be init; the server answers with a session frame and a history replay,
// then relays message/typing/read/offer traffic between the participants.
type Handler struct {
	hub       *Hub
	store     *store.Store
	offers    *offer.Machine
	receipts  *receipt.Tracker
	presence  *cache.PresenceStore
	producer  *kafka.Producer
	validator *auth.Validator
	log       *zap.SugaredLogger

	pingInterval  time.Duration
	writeDeadline time.Duration
	maxMsgSize    int64
	typingRate    rate.Limit
}

type HandlerConfig struct {
	Hub       *Hub
	Store     *store.Store
	Offers    *offer.Machine
	Receipts  *receipt.Tracker
	Presence  *cache.PresenceStore
	Producer  *kafka.Producer
	Validator *auth.Validator
	Logger    *zap.SugaredLogger

	PingInterval  time.Duration
	WriteDeadline time.Duration
	MaxMsgSize    int64
	TypingPerSec  int
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		hub:           cfg.Hub,
		store:         cfg.Store,
		offers:        cfg.Offers,
		receipts:      cfg.Receipts,
		presence:      cfg.Presence,
		producer:      cfg.Producer,
		validator:     cfg.Validator,
		log:           cfg.Logger,
		pingInterval:  cfg.PingInterval,
		writeDeadline: cfg.WriteDeadline,
		maxMsgSize:    cfg.MaxMsgSize,
		typingRate:    rate.Limit(cfg.TypingPerSec),
	}
}

// Serve runs the connection until it drops. Mounted via gofiber/websocket.
func (h *Handler) Serve(conn *websocket.Conn) {
	conn.SetReadLimit(h.maxMsgSize)

	client, ok := h.handshake(conn)
	if !ok {
		_ = conn.Close()
		return
	}
	h.hub.Add(client)
	go client.writePump(h.pingInterval, h.writeDeadline)

	ctx := context.Background()
	if h.presence != nil {
		_ = h.presence.SetOnline(ctx, client.Key, 24*time.Hour)
	}
	defer func() {
		h.hub.Remove(client)
		client.Close()
		if h.presence != nil {
			_ = h.presence.SetOffline(ctx, client.Key)
		}
	}()

	h.sendSession(client)
	h.sendHistory(client)

	typing := rate.NewLimiter(h.typingRate, 2)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		f, err := transport.DecodeFrame(data)
		if err != nil {
			h.log.Warnw("dropping malformed frame", "user", client.Key, "err", err)
			continue
		}
		h.handleFrame(ctx, client, f, typing)
	}
}

// handshake reads the init frame and resolves the connection identity: claims
// from a bearer token when present, the frame's identity otherwise, or a fresh
// anonymous session id.
func (h *Handler) handshake(conn *websocket.Conn) (*Client, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false
	}
	_ = conn.SetReadDeadline(time.Time{})

	f, err := transport.DecodeFrame(data)
	if err != nil || f.Type != transport.FrameInit {
		return nil, false
	}

	userID, role := f.UserID, string(f.Role)
	if token := conn.Query("token"); token != "" && h.validator != nil {
		claims, err := h.validator.Validate(token)
		if err != nil {
			h.log.Warnw("init token rejected", "err", err)
			return nil, false
		}
		userID, role = claims.Subject, claims.Role
	}

	sessionID := f.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	key := userID
	if key == "" {
		key = sessionID
	}
	return NewClient(conn, key, sessionID, role), true
}

func (h *Handler) sendSession(c *Client) {
	h.push(c, transport.Frame{Type: transport.FrameSession, SessionID: c.SessionID})
}

// sendHistory replays each of the user's conversations as one history frame.
func (h *Handler) sendHistory(c *Client) {
	for _, conv := range h.store.ListFor(c.Key) {
		h.push(c, transport.Frame{
			Type:           transport.FrameHistory,
			ConversationID: conv.ID,
			Messages:       conv.Messages,
		})
	}
}

func (h *Handler) handleFrame(ctx context.Context, c *Client, f transport.Frame, typing *rate.Limiter) {
	switch f.Type {
	case transport.FrameMessage:
		h.handleMessage(ctx, c, f)

	case transport.FrameTyping:
		if !typing.Allow() {
			return
		}
		if h.presence != nil && f.IsTyping {
			_ = h.presence.SetTyping(ctx, f.ConversationID, f.Role)
		}
		h.relay(c, f.ConversationID, f)

	case transport.FrameRead:
		if err := h.receipts.MarkRead(ctx, f.ConversationID, f.Role); err != nil {
			h.log.Warnw("read frame dropped", "conversation", f.ConversationID, "err", err)
			return
		}
		h.relay(c, f.ConversationID, f)
		h.publish(ctx, "conversation.read", f.ConversationID, f)

	case transport.FrameOffer:
		counter, err := h.offers.Respond(ctx, f.ConversationID, f.MessageID, f.Role, offer.Action(f.Response), f.CounterPrice)
		if err != nil {
			h.log.Infow("offer frame rejected", "conversation", f.ConversationID, "err", err)
			return
		}
		h.relay(c, f.ConversationID, f)
		if counter != nil {
			h.broadcast(f.ConversationID, transport.Frame{
				Type:           transport.FrameMessage,
				ConversationID: f.ConversationID,
				Message:        counter,
			})
		}
		h.publish(ctx, "offer.responded", f.ConversationID, f)

	default:
		h.log.Debugw("ignoring frame", "type", f.Type, "user", c.Key)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *Client, f transport.Frame) {
	if f.Message == nil {
		return
	}
	if err := h.store.Append(ctx, f.ConversationID, f.Message); err != nil {
		h.log.Warnw("message frame dropped", "conversation", f.ConversationID, "err", err)
		return
	}
	_ = h.receipts.Escalate(ctx, f.ConversationID, f.Message.ID, models.StatusDelivered)

	// Echo back to the sender as the delivery acknowledgement, then relay.
	h.push(c, f)
	h.relay(c, f.ConversationID, f)
	h.publish(ctx, "message.sent", f.ConversationID, f)
}

// relay forwards a frame to the conversation's other sockets.
func (h *Handler) relay(from *Client, convID string, f transport.Frame) {
	conv, ok := h.store.Get(convID)
	if !ok {
		return
	}
	b, err := transport.EncodeFrame(f)
	if err != nil {
		return
	}
	h.hub.BroadcastToConversation(conv, from, b)
}

func (h *Handler) broadcast(convID string, f transport.Frame) {
	conv, ok := h.store.Get(convID)
	if !ok {
		return
	}
	b, err := transport.EncodeFrame(f)
	if err != nil {
		return
	}
	h.hub.BroadcastToConversation(conv, nil, b)
}

func (h *Handler) push(c *Client, f transport.Frame) {
	b, err := transport.EncodeFrame(f)
	if err != nil {
		return
	}
	select {
	case c.Send <- b:
	default:
	}
}

func (h *Handler) publish(ctx context.Context, kind, convID string, f transport.Frame) {
	if h.producer == nil {
		return
	}
	payload, _ := json.Marshal(f)
	if err := h.producer.Publish(ctx, kafka.Event{Kind: kind, ConversationID: convID, Payload: payload}); err != nil {
		h.log.Warnw("event publish failed", "kind", kind, "err", err)
	}
}

// HandleEvent folds a cross-instance event back into local sockets.
func (h *Handler) HandleEvent(ev kafka.Event) {
	var f transport.Frame
	if err := json.Unmarshal(ev.Payload, &f); err != nil {
		h.log.Warnw("dropping malformed event payload", "kind", ev.Kind, "err", err)
		return
	}
	h.broadcast(ev.ConversationID, f)
}
