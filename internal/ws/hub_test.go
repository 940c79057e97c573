package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
)

func testClient(key string) *Client {
	return &Client{Key: key, Send: make(chan []byte, 4)}
}

func drain(c *Client) [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-c.Send:
			out = append(out, b)
		default:
			return out
		}
	}
}

func TestAddRemoveConnected(t *testing.T) {
	h := NewHub()
	c1 := testClient("user-1")
	c2 := testClient("user-1")

	h.Add(c1)
	h.Add(c2)
	assert.True(t, h.Connected("user-1"))

	h.Remove(c1)
	assert.True(t, h.Connected("user-1"), "second socket keeps the user connected")
	h.Remove(c2)
	assert.False(t, h.Connected("user-1"))
}

func TestSendToUserFansOutToAllSockets(t *testing.T) {
	h := NewHub()
	c1 := testClient("user-1")
	c2 := testClient("user-1")
	other := testClient("user-2")
	h.Add(c1)
	h.Add(c2)
	h.Add(other)

	h.SendToUser("user-1", []byte("hi"))
	assert.Len(t, drain(c1), 1)
	assert.Len(t, drain(c2), 1)
	assert.Empty(t, drain(other))
}

func TestSendToUnknownUserIsNoop(t *testing.T) {
	h := NewHub()
	h.SendToUser("ghost", []byte("hi"))
}

func TestBroadcastToConversationReachesBothParticipants(t *testing.T) {
	h := NewHub()
	cust := testClient("cust-1")
	sell := testClient("sell-1")
	bystander := testClient("user-3")
	h.Add(cust)
	h.Add(sell)
	h.Add(bystander)

	conv := &models.Conversation{CustomerID: "cust-1", SellerID: "sell-1"}
	h.BroadcastToConversation(conv, nil, []byte("offer"))

	assert.Len(t, drain(cust), 1)
	assert.Len(t, drain(sell), 1)
	assert.Empty(t, drain(bystander))
}

func TestBroadcastExcludesAuthorSocket(t *testing.T) {
	h := NewHub()
	author := testClient("cust-1")
	second := testClient("cust-1")
	sell := testClient("sell-1")
	h.Add(author)
	h.Add(second)
	h.Add(sell)

	conv := &models.Conversation{CustomerID: "cust-1", SellerID: "sell-1"}
	h.BroadcastToConversation(conv, author, []byte("msg"))

	assert.Empty(t, drain(author))
	assert.Len(t, drain(second), 1, "the author's other devices still receive it")
	assert.Len(t, drain(sell), 1)
}

func TestSlowClientIsSkippedNotBlocked(t *testing.T) {
	h := NewHub()
	slow := &Client{Key: "user-1", Send: make(chan []byte)} // unbuffered, nobody reading
	h.Add(slow)

	done := make(chan struct{})
	go func() {
		h.SendToUser("user-1", []byte("dropped"))
		close(done)
	}()
	<-done
}
