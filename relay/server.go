package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/playchat/rest"
)

// Server exposes the relay websocket and the messaging REST API.
type Server struct {
	cfg      Config
	store    Store
	hub      *Hub
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg Config, store Store, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		store:  store,
		hub:    NewHub(logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // storefront runs on another origin in development
		},
	}
}

// Hub returns the event hub. It must be running (see Start) before
// websocket or message endpoints are used.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the hub until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
}

// Run starts the hub and serves HTTP on cfg.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.Start(ctx)

	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/socket", s.handleSocket)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/users/allusers", s.handleListUsers)
		r.Route("/api/messages", func(r chi.Router) {
			r.Post("/", s.handleCreateMessage)
			r.Post("/mark-read", s.handleMarkRead)
			r.Get("/unread/{userId}", s.handleUnread)
			r.Get("/{peerId}", s.handleHistory)
		})
	})
	return r
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	var claimed string
	if s.authEnabled() {
		id, err := s.verifyToken(r.URL.Query().Get("token"))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		claimed = id
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("upgrade")
		return
	}

	c := newClient(s.hub, conn, claimed)
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if users == nil {
		users = []rest.User{}
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerId")
	userID, ok := s.actor(w, r, r.URL.Query().Get("currentUserId"))
	if !ok {
		return
	}
	msgs, err := s.store.History(r.Context(), userID, peerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if msgs == nil {
		msgs = []rest.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var req rest.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	senderID, ok := s.actor(w, r, req.MessageUser)
	if !ok {
		return
	}
	if req.RecipientID == "" {
		writeError(w, http.StatusBadRequest, "recipientId is required")
		return
	}

	m, err := s.store.CreateMessage(r.Context(), senderID, req.RecipientID, req.Content)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.hub.Deliver(req.RecipientID, eventUpdateUnreadCount, unreadOut{SenderID: senderID, Increment: true})
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var req rest.MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SenderID == "" {
		writeError(w, http.StatusBadRequest, "senderId is required")
		return
	}
	readerID, ok := s.actor(w, r, r.URL.Query().Get("currentUserId"))
	if !ok {
		return
	}
	n, err := s.store.MarkRead(r.Context(), readerID, req.SenderID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.hub.Deliver(readerID, eventUpdateUnreadCount, unreadOut{SenderID: req.SenderID, Increment: false})
	if n > 0 {
		s.hub.Deliver(req.SenderID, eventMessagesRead, readOut{ReadBy: readerID})
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) handleUnread(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.actor(w, r, chi.URLParam(r, "userId"))
	if !ok {
		return
	}
	counts, err := s.store.UnreadCounts(r.Context(), userID)
	if err != nil {
		s.fail(w, err)
		return
	}
	if counts == nil {
		counts = []rest.UnreadCount{}
	}
	writeJSON(w, http.StatusOK, counts)
}

type ctxKey struct{}

// authenticate checks the bearer token when a secret is configured and
// stores the token's user id in the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() {
			next.ServeHTTP(w, r)
			return
		}
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		id, err := s.verifyToken(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// actor resolves the acting user id. With auth enabled it must match the
// token; an empty claimed id falls back to the token's.
func (s *Server) actor(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	tokenID, _ := r.Context().Value(ctxKey{}).(string)
	switch {
	case tokenID == "" && claimed == "":
		writeError(w, http.StatusBadRequest, "current user is required")
		return "", false
	case tokenID == "":
		return claimed, true
	case claimed == "" || claimed == tokenID:
		return tokenID, true
	default:
		writeError(w, http.StatusForbidden, "user does not match token")
		return "", false
	}
}

func (s *Server) authEnabled() bool { return len(s.cfg.JWTSecret) > 0 }

func (s *Server) verifyToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("missing token")
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.cfg.JWTSecret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	if id, ok := claims["user_id"].(string); ok && id != "" {
		return id, nil
	}
	return "", errors.New("token carries no user id")
}

// IssueToken signs an HS256 token for userID. Used by tooling and tests.
func IssueToken(secret []byte, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrEmptyContent):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error().Err(err).Msg("store")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, rest.ErrorResponse{Error: msg})
}
