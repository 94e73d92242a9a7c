package relay

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/playchat/rest"
)

const (
	eventJoin              = "join"
	eventTyping            = "typing"
	eventSendMessage       = "sendMessage"
	eventNewMessage        = "newMessage"
	eventMessageConfirmed  = "messageConfirmed"
	eventUserTyping        = "userTyping"
	eventUserOnline        = "userOnline"
	eventUserOffline       = "userOffline"
	eventUpdateUnreadCount = "updateUnreadCount"
	eventMessagesRead      = "messagesRead"
	eventError             = "error"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *protoError     `json:"error,omitempty"`
}

type protoError struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

type typingIn struct {
	RecipientID string `json:"recipientId"`
	IsTyping    bool   `json:"isTyping"`
}

type typingOut struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type unreadOut struct {
	SenderID  string `json:"senderId"`
	Increment bool   `json:"increment"`
}

type readOut struct {
	ReadBy string `json:"readBy"`
}

type inbound struct {
	client *Client
	frame  frame
}

type delivery struct {
	userID string
	data   []byte
}

// Hub routes events between connected users. All maps are owned by Run.
type Hub struct {
	clients map[*Client]struct{}
	users   map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	inbound    chan inbound
	deliver    chan delivery
	online     chan chan []string
	done       chan struct{}

	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		users:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 64),
		deliver:    make(chan delivery, 64),
		online:     make(chan chan []string),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes hub traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}

		case c := <-h.unregister:
			h.remove(c)

		case in := <-h.inbound:
			h.handle(in.client, in.frame)

		case d := <-h.deliver:
			h.sendToUser(d.userID, d.data)

		case reply := <-h.online:
			reply <- h.onlineIDs()
		}
	}
}

// Deliver sends event to every connection of userID.
func (h *Hub) Deliver(userID, event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	select {
	case h.deliver <- delivery{userID: userID, data: data}:
	case <-h.done:
	}
}

// OnlineUsers returns the joined user ids in ascending order.
func (h *Hub) OnlineUsers() []string {
	reply := make(chan []string, 1)
	select {
	case h.online <- reply:
		return <-reply
	case <-h.done:
		return nil
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)

	if c.userID == "" {
		return
	}
	conns := h.users[c.userID]
	delete(conns, c)
	if len(conns) > 0 {
		return
	}
	delete(h.users, c.userID)
	h.logger.Info().Str("user", c.userID).Msg("user offline")
	h.broadcast(eventUserOffline, c.userID, nil)
}

func (h *Hub) handle(c *Client, f frame) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	switch f.Event {
	case eventJoin:
		var userID string
		if err := json.Unmarshal(f.Data, &userID); err != nil || userID == "" {
			h.replyError(c, "bad_request", "join requires a user id")
			return
		}
		h.join(c, userID)

	case eventTyping:
		if c.userID == "" {
			h.replyError(c, "unauthorized", "join first")
			return
		}
		var p typingIn
		if err := json.Unmarshal(f.Data, &p); err != nil || p.RecipientID == "" {
			h.replyError(c, "bad_request", "typing requires recipientId")
			return
		}
		h.emitToUser(p.RecipientID, eventUserTyping, typingOut{UserID: c.userID, IsTyping: p.IsTyping})

	case eventSendMessage:
		if c.userID == "" {
			h.replyError(c, "unauthorized", "join first")
			return
		}
		var m rest.Message
		if err := json.Unmarshal(f.Data, &m); err != nil || m.Recipient.ID == "" {
			h.replyError(c, "invalid_message", "malformed message")
			return
		}
		if m.Sender.ID != "" && m.Sender.ID != c.userID {
			h.replyError(c, "unauthorized", "sender does not match session")
			return
		}
		m.Sender.ID = c.userID
		h.emitToUser(m.Recipient.ID, eventNewMessage, m)
		h.emitToUser(c.userID, eventMessageConfirmed, m)

	default:
		h.replyError(c, "bad_request", "unknown event "+f.Event)
	}
}

func (h *Hub) join(c *Client, userID string) {
	if c.claimed != "" && c.claimed != userID {
		h.replyError(c, "unauthorized", "user id does not match token")
		return
	}
	if c.userID == userID {
		return
	}
	if c.userID != "" {
		h.replyError(c, "bad_request", "connection already joined")
		return
	}
	c.userID = userID

	for id := range h.users {
		if id != userID {
			h.emitToClient(c, eventUserOnline, id)
		}
	}

	conns := h.users[userID]
	first := len(conns) == 0
	if conns == nil {
		conns = make(map[*Client]struct{})
		h.users[userID] = conns
	}
	conns[c] = struct{}{}
	if first {
		h.logger.Info().Str("user", userID).Msg("user online")
		h.broadcast(eventUserOnline, userID, c)
	}
}

// broadcast sends to every joined client except skip and the subject's own
// connections.
func (h *Hub) broadcast(event, userID string, skip *Client) {
	data, err := encodeFrame(event, userID)
	if err != nil {
		return
	}
	for id, conns := range h.users {
		if id == userID {
			continue
		}
		for c := range conns {
			if c != skip {
				h.push(c, data)
			}
		}
	}
}

func (h *Hub) emitToUser(userID, event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	h.sendToUser(userID, data)
}

func (h *Hub) emitToClient(c *Client, event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	h.push(c, data)
}

func (h *Hub) sendToUser(userID string, data []byte) {
	for c := range h.users[userID] {
		h.push(c, data)
	}
}

func (h *Hub) replyError(c *Client, code, msg string) {
	data, err := json.Marshal(frame{Event: eventError, Error: &protoError{Code: code, Msg: msg}})
	if err != nil {
		return
	}
	h.push(c, data)
}

// push never blocks the hub; a client that cannot keep up is dropped.
func (h *Hub) push(c *Client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn().Str("user", c.userID).Msg("send buffer full, dropping client")
		h.remove(c)
	}
}

func (h *Hub) onlineIDs() []string {
	ids := make([]string, 0, len(h.users))
	for id := range h.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Event: event, Data: data})
}

// Client is one websocket connection to the relay.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	userID  string // set by join
	claimed string // user id from the connection token, if any
}

func newClient(h *Hub, conn *websocket.Conn, claimed string) *Client {
	return &Client{hub: h, conn: conn, send: make(chan []byte, 256), claimed: claimed}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug().Err(err).Msg("websocket read")
			}
			return
		}
		select {
		case c.hub.inbound <- inbound{client: c, frame: f}:
		case <-c.hub.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
