package transport

import (
	"encoding/json"
	"errors"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
)

var ErrMalformedFrame = errors.New("malformed frame")

type FrameType string

const (
	FrameInit    FrameType = "init"
	FrameSession FrameType = "session"
	FrameMessage FrameType = "message"
	FrameTyping  FrameType = "typing"
	FrameRead    FrameType = "read"
	FrameOffer   FrameType = "offer"
	FrameHistory FrameType = "history"
)

// Frame is the wire envelope exchanged with the realtime peer. The type field
// discriminates which of the optional fields are meaningful.
type Frame struct {
	Type FrameType `json:"type"`

	// init / session
	UserID    string      `json:"userId,omitempty"`
	UserName  string      `json:"userName,omitempty"`
	Role      models.Role `json:"role,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`

	// message / typing / read / offer
	ConversationID string          `json:"conversationId,omitempty"`
	Message        *models.Message `json:"message,omitempty"`
	IsTyping       bool            `json:"isTyping,omitempty"`

	// offer
	MessageID    string `json:"messageId,omitempty"`
	Response     string `json:"response,omitempty"`
	CounterPrice int64  `json:"counterPrice,omitempty"`

	// history
	Messages []*models.Message `json:"messages,omitempty"`
}

func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses an inbound frame. Malformed frames are dropped by the
// caller; the session continues.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, ErrMalformedFrame
	}
	if f.Type == "" {
		return Frame{}, ErrMalformedFrame
	}
	return f, nil
}
