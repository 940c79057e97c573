package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hbkhrishi0412-afk/reride-sub004/internal/metrics"
	"github.com/hbkhrishi0412-afk/reride-sub004/internal/models"
)

var ErrTransportUnavailable = errors.New("transport unavailable")

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

// Conn is the minimal realtime channel surface the session needs. Satisfied by
// *websocket.Conn; tests inject fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Dialer func(ctx context.Context, url string) (Conn, error)

// DialWebsocket is the production dialer.
func DialWebsocket(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Identity is what the init frame carries: an authenticated user, or a
// generated anonymous session id.
type Identity struct {
	UserID    string
	UserName  string
	Role      models.Role
	SessionID string
}

// Session owns the realtime channel lifecycle: connect, reconnect after a
// backoff on error/close, and terminal close on explicit teardown. Transport
// callbacks may arrive in any order relative to user actions; a manual close
// suppresses any late auto-reopen.
type Session struct {
	url     string
	dial    Dialer
	handler func(Frame)
	onState func(State)
	log     *zap.SugaredLogger

	mu          sync.Mutex
	state       State
	manualClose bool
	conn        Conn
	timer       *time.Timer
	bo          *backoff.ExponentialBackOff
	identity    Identity

	// writeMu serializes frame writes; the socket allows one writer at a time.
	writeMu sync.Mutex
}

type Options struct {
	URL      string
	Dial     Dialer
	Identity Identity
	Handler  func(Frame)
	OnState  func(State)
	Logger   *zap.SugaredLogger

	// ReconnectInitial overrides the first reconnect delay; mainly for tests.
	ReconnectInitial time.Duration
}

func NewSession(opts Options) *Session {
	if opts.Dial == nil {
		opts.Dial = DialWebsocket
	}
	if opts.Identity.UserID == "" && opts.Identity.SessionID == "" {
		opts.Identity.SessionID = uuid.New().String()
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	if opts.ReconnectInitial > 0 {
		bo.InitialInterval = opts.ReconnectInitial
	}
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // keep retrying until closed
	return &Session{
		url:      opts.URL,
		dial:     opts.Dial,
		handler:  opts.Handler,
		onState:  opts.OnState,
		log:      opts.Logger,
		state:    StateDisconnected,
		bo:       bo,
		identity: opts.Identity,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Identity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Connect starts a connection attempt unless the session was explicitly
// closed or is already connecting/connected.
func (s *Session) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.manualClose || s.state == StateConnecting || s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()

	go s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) {
	conn, err := s.dial(ctx, s.url)

	s.mu.Lock()
	if s.manualClose {
		// Closed while the dial was in flight; discard the late connection.
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		if s.log != nil {
			s.log.Warnw("dial failed", "url", s.url, "err", err)
		}
		s.scheduleReconnectLocked(ctx)
		s.mu.Unlock()
		return
	}
	s.conn = conn
	s.bo.Reset()
	s.setStateLocked(StateConnected)
	id := s.identity
	s.mu.Unlock()

	s.sendInit(id)
	go s.readLoop(ctx, conn)
}

func (s *Session) sendInit(id Identity) {
	f := Frame{Type: FrameInit}
	if id.UserID != "" {
		f.UserID = id.UserID
		f.UserName = id.UserName
		f.Role = id.Role
	} else {
		f.SessionID = id.SessionID
	}
	if err := s.Send(f); err != nil && s.log != nil {
		s.log.Warnw("init frame send failed", "err", err)
	}
}

func (s *Session) readLoop(ctx context.Context, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(ctx, conn)
			return
		}
		f, err := DecodeFrame(data)
		if err != nil {
			if s.log != nil {
				s.log.Warnw("dropping malformed frame", "err", err)
			}
			continue
		}
		if f.Type == FrameSession && f.SessionID != "" {
			s.mu.Lock()
			s.identity.SessionID = f.SessionID
			s.mu.Unlock()
		}
		if s.handler != nil {
			s.handler(f)
		}
	}
}

// Send frames and writes a command over the live channel. Returns
// ErrTransportUnavailable when the channel is not connected; the caller then
// takes the synchronous fallback path.
func (s *Session) Send(f Frame) error {
	s.mu.Lock()
	conn := s.conn
	ok := s.state == StateConnected && conn != nil
	s.mu.Unlock()
	if !ok {
		return ErrTransportUnavailable
	}
	b, err := EncodeFrame(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (s *Session) handleDisconnect(ctx context.Context, conn Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		// A stale read loop from a previous connection; ignore.
		return
	}
	_ = conn.Close()
	s.conn = nil
	if s.manualClose {
		s.setStateLocked(StateClosed)
		return
	}
	s.setStateLocked(StateDisconnected)
	s.scheduleReconnectLocked(ctx)
}

func (s *Session) scheduleReconnectLocked(ctx context.Context) {
	s.setStateLocked(StateDisconnected)
	next := s.bo.NextBackOff()
	metrics.Reconnects.Inc()
	if s.log != nil {
		s.log.Infow("reconnect scheduled", "after", next)
	}
	s.timer = time.AfterFunc(next, func() {
		s.Connect(ctx)
	})
}

// Close tears the session down for good: cancels the reconnect timer, closes
// the socket, and moves to the terminal closed state. No auto-reconnect can
// fire afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manualClose = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.setStateLocked(StateClosed)
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.onState != nil {
		go s.onState(st)
	}
}
