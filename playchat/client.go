package playchat

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/playchat/internal"

	"github.com/coder/websocket"
)

// closeFlushTimeout bounds how long Close spends writing frames that were
// still queued.
const closeFlushTimeout = time.Second

// Client owns the single duplex channel to the relay for one user session.
type Client struct {
	cfg        *Config
	writeCh    chan outbound
	dispatcher Dispatcher

	mu        sync.Mutex
	logger    Logger
	conn      *internal.Conn
	state     ConnectionState
	cancel    context.CancelFunc
	stopWrite chan struct{}
	writeDone chan struct{}
}

// NewClient constructs a client with provided config.
// Use DefaultConfig() as a starting point and modify as needed.
func NewClient(cfg *Config) *Client {
	return &Client{
		cfg:     cfg,
		logger:  noopLogger{},
		writeCh: make(chan outbound, 16),
	}
}

// SetLogger overrides logger (optional). It may be called while connected.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.mu.Lock()
	c.logger = l
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// OnEvent registers the callback receiving every decoded event.
func (c *Client) OnEvent(fn func(Event)) { c.dispatcher.SetOnEvent(fn) }

// OnStateChanged registers callback for connection state transitions.
func (c *Client) OnStateChanged(fn func(StateEvent)) { c.dispatcher.SetOnState(fn) }

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the relay, announces join and starts internal loops.
// Calling Connect while connecting or connected is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.cfg.URL == "" {
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	if c.cfg.UserID == "" {
		return NewError(ErrorInvalidConfig, "empty user id")
	}
	dialURL, err := c.dialURL()
	if err != nil {
		return WrapError(ErrorInvalidConfig, "invalid URL", err)
	}

	// check and claim in one step so concurrent callers dial once
	c.mu.Lock()
	old := c.state
	switch old {
	case StateClosed:
		c.mu.Unlock()
		return NewError(ErrorClosed, "client is closed")
	case StateConnecting, StateConnected:
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.dispatcher.fireState(StateEvent{OldState: old, NewState: StateConnecting})

	ws, err := internal.Dial(ctx, dialURL, c.cfg.HandshakeTimeout)
	if err != nil {
		return c.failConnect(err)
	}
	conn := internal.NewConn(ws, c.cfg.ReadTimeout, c.cfg.WriteTimeout)

	if err := conn.Write(ctx, outbound{Event: eventJoin, Data: c.cfg.UserID}); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "join error")
		return c.failConnect(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.state == StateClosed {
		// Close raced with the dial.
		c.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
		return NewError(ErrorClosed, "client is closed")
	}
	stop, done := make(chan struct{}), make(chan struct{})
	c.conn = conn
	c.cancel = cancel
	c.stopWrite = stop
	c.writeDone = done
	c.mu.Unlock()

	go c.readLoop(runCtx, conn)
	go c.writeLoop(runCtx, conn, stop, done)

	c.setState(StateConnected, nil)
	c.log().Info("connected", map[string]any{"user": c.cfg.UserID})
	c.dispatcher.Fire(Connected{})
	return nil
}

// Emit queues an event for the relay.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	if c.State() != StateConnected {
		return NewError(ErrorNotConnected, "not connected")
	}

	select {
	case c.writeCh <- outbound{Event: event, Data: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendTyping announces the local composing state to recipientID.
func (c *Client) SendTyping(ctx context.Context, recipientID string, isTyping bool) error {
	return c.Emit(ctx, eventTyping, TypingPayload{RecipientID: recipientID, IsTyping: isTyping})
}

// BroadcastMessage hands a confirmed message to the relay so the peer
// receives it live.
func (c *Client) BroadcastMessage(ctx context.Context, m Message) error {
	return c.Emit(ctx, eventSendMessage, m)
}

// Close shuts down client, closes the channel and releases all callbacks.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.cancel = nil
	conn := c.conn
	c.conn = nil
	stop, done := c.stopWrite, c.writeDone
	c.stopWrite, c.writeDone = nil, nil
	c.mu.Unlock()

	c.setState(StateClosed, nil)
	c.dispatcher.Reset()

	var err error
	if conn != nil {
		// let the write loop drain what is queued, in order
		close(stop)
		<-done
		// close before cancelling so the handshake is not cut short by the read loop
		err = conn.Close(websocket.StatusNormalClosure, "client close")
	}
	if cancel != nil {
		cancel()
	}
	return err
}

// flush writes the frames still queued in writeCh, such as a trailing
// typing=false, before the channel is closed.
func (c *Client) flush(conn *internal.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	for {
		select {
		case out := <-c.writeCh:
			if err := conn.Write(ctx, out); err != nil {
				c.log().Debug("frame dropped on close", map[string]any{"event": out.Event, "error": err.Error()})
				return
			}
		default:
			return
		}
	}
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *Client) failConnect(err error) error {
	wrapped := WrapError(ErrorConnection, "connect failed", err)
	c.log().Error("connect error", map[string]any{"error": err.Error()})
	c.setState(StateError, wrapped)
	c.dispatcher.Fire(ConnectError{Err: wrapped})
	return wrapped
}

func (c *Client) setState(s ConnectionState, err error) {
	c.mu.Lock()
	old := c.state
	if old == StateClosed && s != StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	if old != s {
		c.dispatcher.fireState(StateEvent{OldState: old, NewState: s, Error: err})
	}
}

// detach forgets conn if it is still the current one and reports whether it was.
func (c *Client) detach(conn *internal.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != conn {
		return false
	}
	c.conn = nil
	c.stopWrite, c.writeDone = nil, nil
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return true
}

func (c *Client) readLoop(ctx context.Context, conn *internal.Conn) {
	for {
		var env Envelope
		if err := conn.Read(ctx, &env); err != nil {
			if ctx.Err() != nil {
				return
			}
			expected := isExpectedDisconnect(ctx, err)
			if !c.detach(conn) {
				return
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			if expected {
				c.log().Info("disconnected", nil)
				c.setState(StateDisconnected, nil)
				c.dispatcher.Fire(Disconnected{})
				return
			}
			wrapped := WrapError(ErrorDisconnected, "read failed", err)
			c.log().Warn("read loop exit", map[string]any{"error": err.Error()})
			c.setState(StateError, wrapped)
			c.dispatcher.Fire(Disconnected{Err: wrapped})
			return
		}
		c.dispatcher.Dispatch(env)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *internal.Conn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case out := <-c.writeCh:
			if err := conn.Write(ctx, out); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.dispatcher.Fire(ProtocolError{Err: WrapError(ErrorConnection, "write failed", err)})
				c.log().Warn("write loop exit", map[string]any{"error": err.Error(), "event": out.Event})
				return
			}
		case <-stop:
			c.flush(conn)
			return
		case <-ctx.Done():
			return
		}
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}
