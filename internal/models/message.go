package models

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrInvalidMessage     = errors.New("invalid message")
	ErrInvalidOfferAmount = errors.New("invalid offer amount")
)

// Role identifies who authored a message or issues a command.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleSystem   Role = "system"
)

// Counterpart returns the other negotiating party. System has no counterpart.
func (r Role) Counterpart() Role {
	switch r {
	case RoleCustomer:
		return RoleSeller
	case RoleSeller:
		return RoleCustomer
	}
	return RoleSystem
}

type MessageType string

const (
	TypeText   MessageType = "text"
	TypeOffer  MessageType = "offer"
	TypeSystem MessageType = "system"
)

// DeliveryStatus advances sent -> delivered -> read and never regresses.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
)

var deliveryRank = map[DeliveryStatus]int{
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
}

// Rank returns the ordering of a delivery status; unknown statuses rank lowest.
func (s DeliveryStatus) Rank() int { return deliveryRank[s] }

type OfferStatus string

const (
	OfferPending   OfferStatus = "pending"
	OfferAccepted  OfferStatus = "accepted"
	OfferRejected  OfferStatus = "rejected"
	OfferCountered OfferStatus = "countered"
)

// Terminal reports whether the offer can no longer be acted on.
func (s OfferStatus) Terminal() bool { return s != OfferPending }

// OfferPayload is the variant data carried only by offer messages. Prices are
// positive integers in the listing currency's minor unit.
type OfferPayload struct {
	OfferPrice   int64       `bson:"offer_price" json:"offerPrice"`
	Status       OfferStatus `bson:"status" json:"status"`
	CounterPrice int64       `bson:"counter_price,omitempty" json:"counterPrice,omitempty"`
}

// Message is a single chat entry. The type field discriminates the variant:
// text and system messages carry Text, offer messages carry Payload.
type Message struct {
	ID        string         `bson:"_id" json:"id"`
	Sender    Role           `bson:"sender" json:"sender"`
	Type      MessageType    `bson:"type" json:"type"`
	Text      string         `bson:"text,omitempty" json:"text,omitempty"`
	Timestamp time.Time      `bson:"timestamp" json:"timestamp"`
	IsRead    bool           `bson:"is_read" json:"isRead"`
	Status    DeliveryStatus `bson:"status" json:"status"`
	Payload   *OfferPayload  `bson:"payload,omitempty" json:"payload,omitempty"`
}

// NewID returns a time-ordered provisional message id. The client generates it
// before the transport confirms the send, so ids must sort with timestamps.
func NewID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
}

func NewTextMessage(sender Role, text string) (*Message, error) {
	if text == "" {
		return nil, ErrInvalidMessage
	}
	if sender != RoleCustomer && sender != RoleSeller && sender != RoleSystem {
		return nil, ErrInvalidMessage
	}
	return &Message{
		ID:        NewID(),
		Sender:    sender,
		Type:      TypeText,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Status:    StatusSent,
	}, nil
}

func NewSystemMessage(text string) (*Message, error) {
	m, err := NewTextMessage(RoleSystem, text)
	if err != nil {
		return nil, err
	}
	m.Type = TypeSystem
	return m, nil
}

// NewOfferMessage builds a pending offer. Offers always start pending; the
// lifecycle beyond that belongs to the offer state machine.
func NewOfferMessage(sender Role, offerPrice int64) (*Message, error) {
	if sender != RoleCustomer && sender != RoleSeller {
		return nil, ErrInvalidMessage
	}
	if offerPrice <= 0 {
		return nil, ErrInvalidOfferAmount
	}
	return &Message{
		ID:        NewID(),
		Sender:    sender,
		Type:      TypeOffer,
		Timestamp: time.Now().UTC(),
		Status:    StatusSent,
		Payload:   &OfferPayload{OfferPrice: offerPrice, Status: OfferPending},
	}, nil
}

// Validate rejects malformed messages before they enter the store.
func (m *Message) Validate() error {
	if m == nil || m.ID == "" {
		return ErrInvalidMessage
	}
	switch m.Type {
	case TypeText, TypeSystem:
		if m.Text == "" {
			return ErrInvalidMessage
		}
	case TypeOffer:
		if m.Payload == nil {
			return ErrInvalidMessage
		}
		if m.Payload.OfferPrice <= 0 {
			return ErrInvalidOfferAmount
		}
	default:
		return ErrInvalidMessage
	}
	return nil
}
