package api

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/gofiber/fiber/v2"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/kafka"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/offer"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/store"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/transport"
)

// conciergeSellerID anchors fallback chats that arrive before the user opens a
// listing conversation.
const conciergeSellerID = "concierge"

type createConversationReq struct {
	CustomerID   string `json:"customerId"`
	SellerID     string `json:"sellerId"`
	VehicleID    string `json:"vehicleId"`
	VehicleName  string `json:"vehicleName"`
	VehiclePrice int64  `json:"vehiclePrice"`
}

func (s *Server) createConversation(c *fiber.Ctx) error {
	var req createConversationReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if req.CustomerID == "" || req.SellerID == "" || req.VehicleID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "customerId, sellerId and vehicleId are required"})
	}
	conv := s.store.Ensure(c.Context(), req.CustomerID, req.SellerID, req.VehicleID, req.VehicleName, req.VehiclePrice)
	return c.JSON(conv)
}

func (s *Server) listConversations(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "userId is required"})
	}
	return c.JSON(fiber.Map{"conversations": s.store.ListFor(userID)})
}

func (s *Server) listMessages(c *fiber.Ctx) error {
	conv, ok := s.store.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "conversation not found"})
	}
	return c.JSON(fiber.Map{"messages": conv.Messages})
}

type postMessageReq struct {
	Sender     models.Role `json:"sender"`
	Text       string      `json:"text"`
	OfferPrice int64       `json:"offerPrice"`
}

func (s *Server) postMessage(c *fiber.Ctx) error {
	var req postMessageReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	var (
		m   *models.Message
		err error
	)
	if req.OfferPrice > 0 {
		m, err = models.NewOfferMessage(req.Sender, req.OfferPrice)
	} else {
		m, err = models.NewTextMessage(req.Sender, req.Text)
	}
	if err != nil {
		return s.validationError(c, err)
	}
	convID := c.Params("id")
	if err := s.store.Append(c.Context(), convID, m); err != nil {
		return s.validationError(c, err)
	}
	frame := transport.Frame{Type: transport.FrameMessage, ConversationID: convID, Message: m}
	s.broadcast(convID, frame)
	s.publish(c.Context(), "message.sent", convID, frame)
	return c.JSON(m)
}

type markReadReq struct {
	Role models.Role `json:"role"`
}

func (s *Server) markRead(c *fiber.Ctx) error {
	var req markReadReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	convID := c.Params("id")
	if err := s.receipts.MarkRead(c.Context(), convID, req.Role); err != nil {
		return s.validationError(c, err)
	}
	frame := transport.Frame{Type: transport.FrameRead, ConversationID: convID, Role: req.Role}
	s.broadcast(convID, frame)
	s.publish(c.Context(), "conversation.read", convID, frame)
	return c.JSON(fiber.Map{"status": "ok"})
}

type flagReq struct {
	Reason string `json:"reason"`
}

func (s *Server) flag(c *fiber.Ctx) error {
	var req flagReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if _, err := s.store.Flag(c.Context(), c.Params("id"), req.Reason); err != nil {
		return s.validationError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

type offerRespondReq struct {
	Role         models.Role `json:"role"`
	Response     string      `json:"response"`
	CounterPrice int64       `json:"counterPrice"`
}

func (s *Server) respondToOffer(c *fiber.Ctx) error {
	var req offerRespondReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	convID := c.Params("id")
	counter, err := s.offers.Respond(c.Context(), convID, c.Params("messageId"), req.Role, offer.Action(req.Response), req.CounterPrice)
	if err != nil {
		return s.validationError(c, err)
	}
	if counter != nil {
		s.broadcast(convID, transport.Frame{Type: transport.FrameMessage, ConversationID: convID, Message: counter})
	}
	s.publish(c.Context(), "offer.responded", convID, transport.Frame{
		Type:           transport.FrameOffer,
		ConversationID: convID,
		MessageID:      c.Params("messageId"),
		Role:           req.Role,
		Response:       req.Response,
		CounterPrice:   req.CounterPrice,
	})
	return c.JSON(fiber.Map{"status": "ok", "counter": counter})
}

type fallbackChatReq struct {
	Message   string      `json:"message"`
	UserID    string      `json:"userId"`
	UserName  string      `json:"userName"`
	Role      models.Role `json:"role"`
	SessionID string      `json:"sessionId"`
}

// fallbackChat is the synchronous path clients use while their realtime
// channel is down. The message lands in the caller's most recent conversation
// (or a concierge thread for a fresh session) and the acknowledgement text is
// what the client appends as the single inbound reply.
func (s *Server) fallbackChat(c *fiber.Ctx) error {
	var req fallbackChatReq
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid payload"})
	}
	key := req.UserID
	if key == "" {
		key = req.SessionID
	}
	if key == "" || req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "message and identity are required"})
	}

	var convID string
	if convs := s.store.ListFor(key); len(convs) > 0 {
		convID = convs[0].ID
	} else {
		conv := s.store.Ensure(c.Context(), key, conciergeSellerID, "general", "", 0)
		convID = conv.ID
	}

	// Anonymous senders default to the customer side.
	sender := req.Role
	if sender != models.RoleSeller {
		sender = models.RoleCustomer
	}
	m, err := models.NewTextMessage(sender, req.Message)
	if err != nil {
		return s.validationError(c, err)
	}
	if err := s.store.Append(c.Context(), convID, m); err != nil {
		return s.validationError(c, err)
	}
	_ = s.receipts.Escalate(c.Context(), convID, m.ID, models.StatusDelivered)
	frame := transport.Frame{Type: transport.FrameMessage, ConversationID: convID, Message: m}
	s.broadcast(convID, frame)
	s.publish(c.Context(), "message.sent", convID, frame)

	return c.JSON(fiber.Map{
		"success":  true,
		"response": "Message delivered. The seller will reply here shortly.",
	})
}

func (s *Server) fallbackHistory(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "userId is required"})
	}
	var msgs []*models.Message
	for _, conv := range s.store.ListFor(userID) {
		msgs = append(msgs, conv.Messages...)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return c.JSON(fiber.Map{"success": true, "messages": msgs})
}

func (s *Server) broadcast(convID string, f transport.Frame) {
	conv, ok := s.store.Get(convID)
	if !ok {
		return
	}
	b, err := transport.EncodeFrame(f)
	if err != nil {
		return
	}
	s.hub.BroadcastToConversation(conv, nil, b)
}

func (s *Server) publish(ctx context.Context, kind, convID string, f transport.Frame) {
	if s.producer == nil {
		return
	}
	payload, _ := json.Marshal(f)
	if err := s.producer.Publish(ctx, kafka.Event{Kind: kind, ConversationID: convID, Payload: payload}); err != nil {
		s.log.Warnw("event publish failed", "kind", kind, "err", err)
	}
}

// validationError maps core errors onto HTTP statuses: validation failures are
// client errors, everything else is a 500.
func (s *Server) validationError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, models.ErrInvalidMessage),
		errors.Is(err, models.ErrInvalidOfferAmount),
		errors.Is(err, offer.ErrStaleOfferAction),
		errors.Is(err, offer.ErrNotAnOffer):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	default:
		s.log.Errorw("request failed", "path", c.Path(), "err", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
