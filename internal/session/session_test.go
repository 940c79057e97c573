package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/offer"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/presence"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/receipt"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/store"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/transport"
)

type fakeConn struct {
	inbound chan []byte
	mu      sync.Mutex
	written [][]byte
	closed  bool
}

func newFakeConn() *fakeConn { return &fakeConn{inbound: make(chan []byte, 16)} }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	b, ok := <-c.inbound
	if !ok {
		return 0, nil, errors.New("closed")
	}
	return 1, b, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) sentFrames(t *testing.T) []transport.Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []transport.Frame
	for _, b := range c.written {
		f, err := transport.DecodeFrame(b)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

type fixture struct {
	session *Session
	store   *store.Store
	typing  *presence.Tracker
	conn    *fakeConn
	convID  string
}

func newFixture(t *testing.T, role models.Role, fallbackURL string) *fixture {
	t.Helper()
	st := store.New(nil, nil)
	conv := st.Ensure(context.Background(), "cust-1", "sell-1", "veh-1", "2017 Baleno", 520000)
	typing := presence.NewTracker(presence.DefaultWindow)
	conn := newFakeConn()

	var fb *transport.FallbackClient
	if fallbackURL != "" {
		fb = transport.NewFallbackClient(fallbackURL, time.Second, time.Second)
	}

	s := New(Config{
		Store:    st,
		Offers:   offer.NewMachine(st, nil),
		Receipts: receipt.NewTracker(st, nil),
		Typing:   typing,
		Fallback: fb,
		Role:     role,
		Identity: transport.Identity{UserID: "cust-1", Role: role},
		Dial: func(context.Context, string) (transport.Conn, error) {
			return conn, nil
		},
	})
	return &fixture{session: s, store: st, typing: typing, conn: conn, convID: conv.ID}
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	f.session.Connect(context.Background())
	require.Eventually(t, func() bool {
		return f.session.TransportState() == transport.StateConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSendTextOptimisticAppendAndRelay(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)

	m, err := f.session.SendText(context.Background(), f.convID, "is this still available?")
	require.NoError(t, err)

	conv, _ := f.store.Get(f.convID)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, m.ID, conv.Messages[0].ID)

	var relayed bool
	for _, fr := range f.conn.sentFrames(t) {
		if fr.Type == transport.FrameMessage && fr.Message != nil && fr.Message.ID == m.ID {
			relayed = true
		}
	}
	assert.True(t, relayed)
}

func TestSendInvalidText(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	_, err := f.session.SendText(context.Background(), f.convID, "")
	assert.ErrorIs(t, err, models.ErrInvalidMessage)
	conv, _ := f.store.Get(f.convID)
	assert.Empty(t, conv.Messages)
}

func TestHooksFireAfterLocalMutation(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)

	var hookedConv string
	var hookedLen int
	f.session.hooks.OnSendMessage = func(convID string, m *models.Message) {
		hookedConv = convID
		conv, _ := f.store.Get(convID)
		hookedLen = len(conv.Messages)
	}

	_, err := f.session.SendText(context.Background(), f.convID, "hello")
	require.NoError(t, err)
	assert.Equal(t, f.convID, hookedConv)
	assert.Equal(t, 1, hookedLen, "hook must observe the already-applied mutation")
}

// Scenario: the channel is down, the user sends "hello". The message goes out
// via the synchronous fallback and exactly one reply is appended.
func TestFallbackSendAppendsReplyExactlyOnce(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(transport.ChatResponse{Success: true, Response: "seller notified"})
	}))
	defer srv.Close()

	f := newFixture(t, models.RoleCustomer, srv.URL)
	// Never connected: the send must take the fallback path.
	m, err := f.session.SendText(context.Background(), f.convID, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	conv, _ := f.store.Get(f.convID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, m.ID, conv.Messages[0].ID)
	assert.Equal(t, models.StatusDelivered, conv.Messages[0].Status)
	reply := conv.Messages[1]
	assert.Equal(t, models.RoleSeller, reply.Sender)
	assert.Equal(t, "seller notified", reply.Text)
}

func TestFallbackFailureKeepsMessageForRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newFixture(t, models.RoleCustomer, srv.URL)
	_, err := f.session.SendText(context.Background(), f.convID, "hello")
	assert.ErrorIs(t, err, transport.ErrDeliveryFailed)

	// The optimistic copy stays so the user can retry without re-typing.
	conv, _ := f.store.Get(f.convID)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.StatusSent, conv.Messages[0].Status)
}

// Offers never take the synchronous fallback: sent while the channel is down
// they stay queued at "sent", and repeated attempts must not trip the breaker
// against later text sends.
func TestOfferWhileDisconnectedStaysQueued(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(transport.ChatResponse{Success: true, Response: "seller notified"})
	}))
	defer srv.Close()

	f := newFixture(t, models.RoleCustomer, srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m, err := f.session.SendOffer(ctx, f.convID, 450000+int64(i))
		require.NotNil(t, m)
		assert.ErrorIs(t, err, transport.ErrTransportUnavailable)
	}
	assert.Equal(t, 0, calls)

	conv, _ := f.store.Get(f.convID)
	require.Len(t, conv.Messages, 3)
	for _, m := range conv.Messages {
		assert.Equal(t, models.StatusSent, m.Status)
		assert.Equal(t, models.OfferPending, m.Payload.Status)
	}

	// A text message still goes out over the fallback afterwards.
	_, err := f.session.SendText(ctx, f.convID, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// Scenario: customer offers 450000, seller counters 500000.
func TestOfferCounterFlow(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)
	ctx := context.Background()

	offerMsg, err := f.session.SendOffer(ctx, f.convID, 450000)
	require.NoError(t, err)

	// The seller's response arrives as an inbound offer frame.
	f.session.handleFrame(transport.Frame{
		Type:           transport.FrameOffer,
		ConversationID: f.convID,
		MessageID:      offerMsg.ID,
		Role:           models.RoleSeller,
		Response:       string(offer.ActionCounter),
		CounterPrice:   500000,
	})

	conv, _ := f.store.Get(f.convID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, models.OfferCountered, conv.Messages[0].Payload.Status)
	counter := conv.Messages[1]
	assert.Equal(t, models.RoleSeller, counter.Sender)
	assert.Equal(t, int64(500000), counter.Payload.OfferPrice)
	assert.Equal(t, models.OfferPending, counter.Payload.Status)
}

func TestRespondToOwnOfferRejected(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)
	ctx := context.Background()

	m, err := f.session.SendOffer(ctx, f.convID, 450000)
	require.NoError(t, err)

	_, err = f.session.RespondToOffer(ctx, f.convID, m.ID, offer.ActionAccept, 0)
	assert.ErrorIs(t, err, offer.ErrStaleOfferAction)
}

// Scenario: widget closed, inbound message arrives. The badge count updates
// but nothing reopens the transport.
func TestInboundWhileClosedUpdatesUnreadOnly(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)
	f.session.Close()
	require.Equal(t, transport.StateClosed, f.session.TransportState())

	inbound, err := models.NewTextMessage(models.RoleSeller, "still interested?")
	require.NoError(t, err)
	f.session.handleFrame(transport.Frame{
		Type:           transport.FrameMessage,
		ConversationID: f.convID,
		Message:        inbound,
	})

	assert.Equal(t, 1, f.session.UnreadCount(f.convID))
	assert.Equal(t, transport.StateClosed, f.session.TransportState())
}

func TestMarkReadPropagatesAndIsIdempotent(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)
	ctx := context.Background()

	inbound, err := models.NewTextMessage(models.RoleSeller, "hi")
	require.NoError(t, err)
	f.session.handleFrame(transport.Frame{Type: transport.FrameMessage, ConversationID: f.convID, Message: inbound})

	require.NoError(t, f.session.MarkRead(ctx, f.convID))
	require.NoError(t, f.session.MarkRead(ctx, f.convID))
	assert.Equal(t, 0, f.session.UnreadCount(f.convID))

	var reads int
	for _, fr := range f.conn.sentFrames(t) {
		if fr.Type == transport.FrameRead {
			reads++
		}
	}
	assert.Equal(t, 2, reads)
}

func TestCounterpartReadAdvancesDeliveryStatus(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)

	m, err := f.session.SendText(context.Background(), f.convID, "ping")
	require.NoError(t, err)

	f.session.handleFrame(transport.Frame{Type: transport.FrameRead, ConversationID: f.convID, Role: models.RoleSeller})

	conv, _ := f.store.Get(f.convID)
	assert.Equal(t, models.StatusRead, conv.FindMessage(m.ID).Status)
}

func TestHistoryMergeKeepsOptimisticMessages(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)

	// Sent over the live channel, not yet acknowledged by the server.
	local, err := f.session.SendText(context.Background(), f.convID, "just sent")
	require.NoError(t, err)

	older, err := models.NewTextMessage(models.RoleSeller, "from before the reconnect")
	require.NoError(t, err)
	older.Timestamp = local.Timestamp.Add(-time.Minute)

	f.session.handleFrame(transport.Frame{
		Type:           transport.FrameHistory,
		ConversationID: f.convID,
		Messages:       []*models.Message{older},
	})

	conv, _ := f.store.Get(f.convID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, older.ID, conv.Messages[0].ID)
	assert.Equal(t, local.ID, conv.Messages[1].ID, "replay must not drop the just-sent message")
}

func TestHistoryEchoActsAsAck(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)

	local, err := f.session.SendText(context.Background(), f.convID, "just sent")
	require.NoError(t, err)

	f.session.handleFrame(transport.Frame{
		Type:           transport.FrameHistory,
		ConversationID: f.convID,
		Messages:       []*models.Message{local},
	})

	conv, _ := f.store.Get(f.convID)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.StatusDelivered, conv.Messages[0].Status)
}

func TestServerEchoAcksPendingSend(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)

	local, err := f.session.SendText(context.Background(), f.convID, "hello")
	require.NoError(t, err)

	f.session.handleFrame(transport.Frame{Type: transport.FrameMessage, ConversationID: f.convID, Message: local})

	conv, _ := f.store.Get(f.convID)
	require.Len(t, conv.Messages, 1)
	assert.Equal(t, models.StatusDelivered, conv.Messages[0].Status)
}

func TestDuplicateInboundMessageIgnored(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)

	inbound, err := models.NewTextMessage(models.RoleSeller, "hi")
	require.NoError(t, err)
	frame := transport.Frame{Type: transport.FrameMessage, ConversationID: f.convID, Message: inbound}
	f.session.handleFrame(frame)
	f.session.handleFrame(frame)

	conv, _ := f.store.Get(f.convID)
	assert.Len(t, conv.Messages, 1)
}

func TestTypingSignalLifecycle(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	f.connect(t)

	f.session.handleFrame(transport.Frame{
		Type:           transport.FrameTyping,
		ConversationID: f.convID,
		Role:           models.RoleSeller,
		IsTyping:       true,
	})
	assert.True(t, f.session.PeerTyping(f.convID))

	// Sending a message clears the local slot.
	f.session.SignalTyping(f.convID)
	_, err := f.session.SendText(context.Background(), f.convID, "done typing")
	require.NoError(t, err)
	assert.False(t, f.session.PeerTyping(f.convID))
}

func TestFlagFiresHookOnce(t *testing.T) {
	f := newFixture(t, models.RoleCustomer, "")
	var flags []string
	f.session.hooks.OnFlagContent = func(kind, id, reason string) {
		flags = append(flags, reason)
	}
	ctx := context.Background()
	require.NoError(t, f.session.Flag(ctx, f.convID, "spam"))
	require.NoError(t, f.session.Flag(ctx, f.convID, "spam again"))
	assert.Equal(t, []string{"spam"}, flags)
}
