package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vovakirdan/playchat-sdk/playchat-sdk-go/playchat/rest"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id    TEXT PRIMARY KEY,
	name  TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	sender_id    TEXT NOT NULL REFERENCES users(id),
	recipient_id TEXT NOT NULL REFERENCES users(id),
	content      TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	read_at      TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS messages_pair_idx ON messages (sender_id, recipient_id, created_at);
CREATE INDEX IF NOT EXISTS messages_unread_idx ON messages (recipient_id) WHERE read_at IS NULL;`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the tables if needed and upserts the seed users.
func (db *PostgresStore) Migrate(ctx context.Context, seed []rest.User) error {
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if len(seed) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range seed {
		batch.Queue(`
			INSERT INTO users (id, name, email) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`,
			u.ID, u.Name, u.Email)
	}
	if err := db.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}
	return nil
}

func (db *PostgresStore) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresStore) ListUsers(ctx context.Context) ([]rest.User, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, name, email FROM users ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []rest.User
	for rows.Next() {
		var u rest.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (db *PostgresStore) History(ctx context.Context, userID, peerID string) ([]rest.Message, error) {
	query := `
		SELECT m.id, m.sender_id, u.name, m.recipient_id, m.content, m.created_at, m.read_at IS NOT NULL
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE (m.sender_id = $1 AND m.recipient_id = $2)
		   OR (m.sender_id = $2 AND m.recipient_id = $1)
		ORDER BY m.created_at ASC, m.id ASC`

	rows, err := db.pool.Query(ctx, query, userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	var messages []rest.Message
	for rows.Next() {
		var m rest.Message
		if err := rows.Scan(&m.ID, &m.Sender.ID, &m.Sender.Name, &m.Recipient.ID, &m.Content, &m.CreatedAt, &m.Read); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (db *PostgresStore) CreateMessage(ctx context.Context, senderID, recipientID, content string) (rest.Message, error) {
	if strings.TrimSpace(content) == "" {
		return rest.Message{}, ErrEmptyContent
	}

	var recipientExists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, recipientID).Scan(&recipientExists); err != nil {
		return rest.Message{}, fmt.Errorf("failed to check recipient: %w", err)
	}
	if !recipientExists {
		return rest.Message{}, ErrUserNotFound
	}

	query := `
		INSERT INTO messages (id, sender_id, recipient_id, content, created_at)
		SELECT $1, u.id, $3, $4, $5 FROM users u WHERE u.id = $2
		RETURNING (SELECT name FROM users WHERE id = $2)`

	m := rest.Message{
		ID:        uuid.NewString(),
		Sender:    rest.UserRef{ID: senderID},
		Recipient: rest.UserRef{ID: recipientID},
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	err := db.pool.QueryRow(ctx, query, m.ID, senderID, recipientID, content, m.CreatedAt).Scan(&m.Sender.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return rest.Message{}, ErrUserNotFound
	}
	if err != nil {
		return rest.Message{}, fmt.Errorf("failed to create message: %w", err)
	}
	return m, nil
}

func (db *PostgresStore) MarkRead(ctx context.Context, readerID, senderID string) (int, error) {
	tag, err := db.pool.Exec(ctx, `
		UPDATE messages SET read_at = NOW()
		WHERE recipient_id = $1 AND sender_id = $2 AND read_at IS NULL`,
		readerID, senderID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (db *PostgresStore) UnreadCounts(ctx context.Context, userID string) ([]rest.UnreadCount, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT sender_id, COUNT(*)
		FROM messages
		WHERE recipient_id = $1 AND read_at IS NULL
		GROUP BY sender_id
		ORDER BY sender_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread: %w", err)
	}
	defer rows.Close()

	var counts []rest.UnreadCount
	for rows.Next() {
		var c rest.UnreadCount
		if err := rows.Scan(&c.PeerID, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}
