package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/playchat/rest"
)

type testServer struct {
	srv   *Server
	ts    *httptest.Server
	store *MemoryStore
}

func newTestServer(t *testing.T, secret []byte) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := newTestStore()
	srv := NewServer(Config{JWTSecret: secret}, store, zerolog.Nop())
	srv.Start(ctx)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return &testServer{srv: srv, ts: ts, store: store}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, s.ts.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// testConn is a raw relay connection driven by the test.
type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *testServer) dial(t *testing.T, query string) (*testConn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/socket" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, resp, err
	}
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn}, resp, nil
}

func (s *testServer) join(t *testing.T, userID string) *testConn {
	t.Helper()
	c, _, err := s.dial(t, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.send(eventJoin, userID)
	return c
}

func (c *testConn) send(event string, payload any) {
	c.t.Helper()
	data, err := encodeFrame(event, payload)
	if err != nil {
		c.t.Fatal(err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// expect reads frames until one named event arrives.
func (c *testConn) expect(event string) frame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Event == event {
			return f
		}
	}
}

func waitOnline(t *testing.T, h *Hub, ids ...string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		online := h.OnlineUsers()
		if strings.Join(online, ",") == strings.Join(ids, ",") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("online = %v, want %v", online, ids)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListUsers(t *testing.T) {
	s := newTestServer(t, nil)
	resp := s.do(t, http.MethodGet, "/users/allusers", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var users []rest.User
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatal(err)
	}
	if len(users) != 3 || users[0].ID != "u1" {
		t.Fatalf("users = %+v", users)
	}
}

func TestMessageEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.do(t, http.MethodPost, "/api/messages", "", rest.CreateMessageRequest{Content: "hi", RecipientID: "u2", MessageUser: "u1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d", resp.StatusCode)
	}
	var created rest.Message
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.Sender.ID != "u1" || created.Recipient.ID != "u2" {
		t.Fatalf("created = %+v", created)
	}

	resp = s.do(t, http.MethodGet, "/api/messages/unread/u2", "", nil)
	var counts []rest.UnreadCount
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		t.Fatal(err)
	}
	if len(counts) != 1 || counts[0] != (rest.UnreadCount{PeerID: "u1", Count: 1}) {
		t.Fatalf("counts = %+v", counts)
	}

	resp = s.do(t, http.MethodPost, "/api/messages/mark-read?currentUserId=u2", "", rest.MarkReadRequest{SenderID: "u1"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark-read status %d", resp.StatusCode)
	}

	resp = s.do(t, http.MethodGet, "/api/messages/u1?currentUserId=u2", "", nil)
	var hist []rest.Message
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].ID != created.ID || !hist[0].Read {
		t.Fatalf("history = %+v", hist)
	}
}

func TestMessageEndpointErrors(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"unknown recipient", http.MethodPost, "/api/messages", rest.CreateMessageRequest{Content: "hi", RecipientID: "ghost", MessageUser: "u1"}, http.StatusNotFound},
		{"empty content", http.MethodPost, "/api/messages", rest.CreateMessageRequest{Content: " ", RecipientID: "u2", MessageUser: "u1"}, http.StatusBadRequest},
		{"missing sender", http.MethodPost, "/api/messages", rest.CreateMessageRequest{Content: "hi", RecipientID: "u2"}, http.StatusBadRequest},
		{"missing current user", http.MethodGet, "/api/messages/u2", nil, http.StatusBadRequest},
		{"mark-read without sender", http.MethodPost, "/api/messages/mark-read?currentUserId=u1", rest.MarkReadRequest{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := s.do(t, tt.method, tt.path, "", tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status %d, want %d", resp.StatusCode, tt.status)
			}
			var e rest.ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
				t.Fatalf("error body missing: %v", err)
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	secret := []byte("secret")
	s := newTestServer(t, secret)
	tok, err := IssueToken(secret, "u1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if resp := s.do(t, http.MethodGet, "/users/allusers", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodGet, "/users/allusers", tok, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token: status %d", resp.StatusCode)
	}
	if resp := s.do(t, http.MethodGet, "/api/messages/unread/u2", tok, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("other user's counters: status %d", resp.StatusCode)
	}
	// the acting user defaults to the token's
	resp := s.do(t, http.MethodPost, "/api/messages", tok, rest.CreateMessageRequest{Content: "hi", RecipientID: "u2"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create with token: status %d", resp.StatusCode)
	}

	if _, resp, err := s.dial(t, "?token=bogus"); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("websocket with bad token was accepted")
	}
	c, _, err := s.dial(t, "?token="+tok)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	c.send(eventJoin, "u2")
	f := c.expect(eventError)
	if f.Error == nil || f.Error.Code != "unauthorized" {
		t.Fatalf("join as another user: %+v", f.Error)
	}
}

func TestPresenceEvents(t *testing.T) {
	s := newTestServer(t, nil)
	hub := s.srv.Hub()

	alice := s.join(t, "u1")
	waitOnline(t, hub, "u1")
	bob := s.join(t, "u2")

	var who string
	if err := json.Unmarshal(alice.expect(eventUserOnline).Data, &who); err != nil || who != "u2" {
		t.Fatalf("alice got userOnline %q", who)
	}
	if err := json.Unmarshal(bob.expect(eventUserOnline).Data, &who); err != nil || who != "u1" {
		t.Fatalf("bob got userOnline %q", who)
	}
	waitOnline(t, hub, "u1", "u2")

	bob.conn.Close()
	if err := json.Unmarshal(alice.expect(eventUserOffline).Data, &who); err != nil || who != "u2" {
		t.Fatalf("alice got userOffline %q", who)
	}
	waitOnline(t, hub, "u1")
}

func TestTypingAndMessageRelay(t *testing.T) {
	s := newTestServer(t, nil)
	hub := s.srv.Hub()

	alice := s.join(t, "u1")
	bob := s.join(t, "u2")
	waitOnline(t, hub, "u1", "u2")

	alice.send(eventTyping, typingIn{RecipientID: "u2", IsTyping: true})
	var typing typingOut
	if err := json.Unmarshal(bob.expect(eventUserTyping).Data, &typing); err != nil {
		t.Fatal(err)
	}
	if typing != (typingOut{UserID: "u1", IsTyping: true}) {
		t.Fatalf("typing = %+v", typing)
	}

	alice.send(eventSendMessage, rest.Message{ID: "m1", Recipient: rest.UserRef{ID: "u2"}, Content: "hi"})
	var got rest.Message
	if err := json.Unmarshal(bob.expect(eventNewMessage).Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "m1" || got.Sender.ID != "u1" {
		t.Fatalf("relayed message = %+v", got)
	}
	if err := json.Unmarshal(alice.expect(eventMessageConfirmed).Data, &got); err != nil || got.ID != "m1" {
		t.Fatalf("confirmation = %+v (%v)", got, err)
	}

	// spoofed sender is refused
	alice.send(eventSendMessage, rest.Message{ID: "m2", Sender: rest.UserRef{ID: "u2"}, Recipient: rest.UserRef{ID: "u2"}, Content: "x"})
	if f := alice.expect(eventError); f.Error == nil || f.Error.Code != "unauthorized" {
		t.Fatalf("spoofed sender: %+v", f.Error)
	}
}

func TestRESTNotifiesRecipients(t *testing.T) {
	s := newTestServer(t, nil)
	hub := s.srv.Hub()

	alice := s.join(t, "u1")
	bob := s.join(t, "u2")
	waitOnline(t, hub, "u1", "u2")

	s.do(t, http.MethodPost, "/api/messages", "", rest.CreateMessageRequest{Content: "hi", RecipientID: "u2", MessageUser: "u1"})
	var unread unreadOut
	if err := json.Unmarshal(bob.expect(eventUpdateUnreadCount).Data, &unread); err != nil {
		t.Fatal(err)
	}
	if unread != (unreadOut{SenderID: "u1", Increment: true}) {
		t.Fatalf("unread = %+v", unread)
	}

	s.do(t, http.MethodPost, "/api/messages/mark-read?currentUserId=u2", "", rest.MarkReadRequest{SenderID: "u1"})
	if err := json.Unmarshal(bob.expect(eventUpdateUnreadCount).Data, &unread); err != nil {
		t.Fatal(err)
	}
	if unread != (unreadOut{SenderID: "u1", Increment: false}) {
		t.Fatalf("reset = %+v", unread)
	}
	var receipt readOut
	if err := json.Unmarshal(alice.expect(eventMessagesRead).Data, &receipt); err != nil || receipt.ReadBy != "u2" {
		t.Fatalf("receipt = %+v (%v)", receipt, err)
	}
}

func TestUnjoinedConnectionRejected(t *testing.T) {
	s := newTestServer(t, nil)
	c, _, err := s.dial(t, "")
	if err != nil {
		t.Fatal(err)
	}
	c.send(eventTyping, typingIn{RecipientID: "u2", IsTyping: true})
	if f := c.expect(eventError); f.Error == nil || f.Error.Code != "unauthorized" {
		t.Fatalf("typing before join: %+v", f.Error)
	}
	c.send("bogus", nil)
	if f := c.expect(eventError); f.Error == nil || f.Error.Code != "bad_request" {
		t.Fatalf("unknown event: %+v", f.Error)
	}
}
