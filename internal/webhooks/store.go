// Package webhooks persists the raw inbound payloads queue items refer to.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/textmill/textmill/internal/db"
	"github.com/textmill/textmill/internal/queue"
)

// ErrWebhookNotFound indicates the source webhook does not exist.
var ErrWebhookNotFound = errors.New("source webhook not found")

// Webhook is a stored inbound payload from a messaging or email source.
type Webhook struct {
	ID         string          `json:"id"`
	Source     queue.Source    `json:"source"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Store provides source webhook persistence operations.
type Store struct {
	db     queue.DBTX
	logger *slog.Logger
}

// NewStore creates a webhook store.
func NewStore(log *slog.Logger, db queue.DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     db,
		logger: log.With(slog.String("service", "webhooks")),
	}
}

// Create stores an inbound payload and returns the assigned record.
func (s *Store) Create(ctx context.Context, source queue.Source, payload json.RawMessage) (Webhook, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	row := s.db.QueryRow(ctx, `INSERT INTO source_webhooks (source, payload)
		VALUES ($1, $2)
		RETURNING id, source, payload, received_at, created_at`,
		string(source), []byte(payload))
	return scanWebhook(row)
}

// GetByID returns the stored payload for diagnostics and resolution.
func (s *Store) GetByID(ctx context.Context, id string) (Webhook, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Webhook{}, fmt.Errorf("invalid webhook id: %w", err)
	}
	row := s.db.QueryRow(ctx, `SELECT id, source, payload, received_at, created_at
		FROM source_webhooks WHERE id = $1`, pgID)
	wh, err := scanWebhook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Webhook{}, ErrWebhookNotFound
		}
		return Webhook{}, err
	}
	return wh, nil
}

func scanWebhook(row pgx.Row) (Webhook, error) {
	var (
		id                    pgtype.UUID
		source                string
		payload               []byte
		receivedAt, createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &source, &payload, &receivedAt, &createdAt); err != nil {
		return Webhook{}, fmt.Errorf("scan webhook: %w", err)
	}
	return Webhook{
		ID:         id.String(),
		Source:     queue.Source(source),
		Payload:    json.RawMessage(payload),
		ReceivedAt: dbpkg.TimestamptzToTime(receivedAt),
		CreatedAt:  dbpkg.TimestamptzToTime(createdAt),
	}, nil
}
