package models

import (
	"fmt"
	"time"
)

// Conversation is a persistent thread between one customer and one seller
// about one vehicle listing. Messages are kept in chronological order.
type Conversation struct {
	ID               string     `bson:"_id" json:"id"`
	VehicleID        string     `bson:"vehicle_id" json:"vehicleId"`
	VehicleName      string     `bson:"vehicle_name" json:"vehicleName"`
	VehiclePrice     int64      `bson:"vehicle_price" json:"vehiclePrice"`
	CustomerID       string     `bson:"customer_id" json:"customerId"`
	SellerID         string     `bson:"seller_id" json:"sellerId"`
	Messages         []*Message `bson:"messages" json:"messages"`
	IsFlagged        bool       `bson:"is_flagged" json:"isFlagged"`
	FlagReason       string     `bson:"flag_reason,omitempty" json:"flagReason,omitempty"`
	IsReadByCustomer bool       `bson:"is_read_by_customer" json:"isReadByCustomer"`
	IsReadBySeller   bool       `bson:"is_read_by_seller" json:"isReadBySeller"`
	LastMessageAt    time.Time  `bson:"last_message_at" json:"lastMessageAt"`
	CreatedAt        time.Time  `bson:"created_at" json:"createdAt"`
}

// ConversationKey derives the stable conversation id for a customer/seller/vehicle
// triple. The same triple always maps to the same thread.
func ConversationKey(customerID, sellerID, vehicleID string) string {
	return fmt.Sprintf("%s:%s:%s", customerID, sellerID, vehicleID)
}

// Participant returns the user id holding the given role in this conversation.
func (c *Conversation) Participant(role Role) string {
	if role == RoleSeller {
		return c.SellerID
	}
	return c.CustomerID
}

// FindMessage returns the message with the given id, or nil.
func (c *Conversation) FindMessage(id string) *Message {
	for _, m := range c.Messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// ActiveOffer returns the most recent offer message still pending, or nil.
// Multiple pending offers may coexist; this is the one surfaces treat as live.
func (c *Conversation) ActiveOffer() *Message {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		m := c.Messages[i]
		if m.Type == TypeOffer && m.Payload != nil && m.Payload.Status == OfferPending {
			return m
		}
	}
	return nil
}
