// Package queue persists extraction queue items in Postgres.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	dbpkg "github.com/textmill/textmill/internal/db"
)

// DBTX is the subset of pgxpool.Pool the store needs. Tests substitute fakes.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides queue item persistence operations.
type Store struct {
	db     DBTX
	logger *slog.Logger
}

// NewStore creates a queue store.
func NewStore(log *slog.Logger, db DBTX) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:     db,
		logger: log.With(slog.String("service", "queue")),
	}
}

const itemColumns = `id, webhook_id, webhook_source, attachment_index, source_phone,
	media_url, media_file_name, media_mime_type, media_type,
	status, attempts, max_attempts, last_attempt_at, next_retry_at,
	extracted_text, processing_method, error, archive_url, archive_path,
	processed_at, received_at, created_at`

// Create inserts a new queued item. A duplicate (webhook_id, attachment_index)
// pair returns ErrAlreadyQueued.
func (s *Store) Create(ctx context.Context, input CreateInput) (Item, error) {
	webhookID, err := dbpkg.ParseUUID(input.WebhookID)
	if err != nil {
		return Item{}, fmt.Errorf("invalid webhook id: %w", err)
	}
	maxAttempts := input.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	row := s.db.QueryRow(ctx, `INSERT INTO queue_items (
		webhook_id, webhook_source, attachment_index, source_phone,
		media_url, media_file_name, media_mime_type, media_type,
		status, max_attempts, received_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	RETURNING `+itemColumns,
		webhookID,
		string(input.WebhookSource),
		dbpkg.ToInt4(input.AttachmentIndex),
		dbpkg.ToText(input.SourcePhone),
		dbpkg.ToText(input.MediaURL),
		dbpkg.ToText(input.MediaFileName),
		dbpkg.ToText(input.MediaMimeType),
		dbpkg.ToText(string(input.MediaType)),
		string(StatusQueued),
		int32(maxAttempts),
		dbpkg.ToTimestamptz(receivedAt),
	)
	item, err := scanItem(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Item{}, ErrAlreadyQueued
		}
		return Item{}, fmt.Errorf("create queue item: %w", err)
	}
	return item, nil
}

// GetByID returns an item by its id.
func (s *Store) GetByID(ctx context.Context, id string) (Item, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Item{}, fmt.Errorf("invalid item id: %w", err)
	}
	row := s.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = $1`, pgID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

// FindByAttachment returns the item for a webhook attachment, if any.
func (s *Store) FindByAttachment(ctx context.Context, webhookID string, attachmentIndex int) (Item, error) {
	pgID, err := dbpkg.ParseUUID(webhookID)
	if err != nil {
		return Item{}, fmt.Errorf("invalid webhook id: %w", err)
	}
	row := s.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM queue_items
		WHERE webhook_id = $1 AND COALESCE(attachment_index, -1) = $2`,
		pgID, int32(attachmentIndex))
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("find queue item: %w", err)
	}
	return item, nil
}

// List returns a filtered snapshot, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Item, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `SELECT `+itemColumns+` FROM queue_items
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR media_type = $2)
		ORDER BY received_at DESC, created_at DESC
		LIMIT $3`,
		string(filter.Status), string(filter.MediaType), int32(limit))
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// SelectEligible returns queued items whose retry delay has elapsed and that
// carry a media URL, oldest received first.
func (s *Store) SelectEligible(ctx context.Context, now time.Time, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(ctx, `SELECT `+itemColumns+` FROM queue_items
		WHERE status = $1
		  AND (next_retry_at IS NULL OR next_retry_at <= $2)
		  AND COALESCE(media_url, '') <> ''
		ORDER BY received_at ASC, created_at ASC
		LIMIT $3`,
		string(StatusQueued), dbpkg.ToTimestamptz(now), int32(limit))
	if err != nil {
		return nil, fmt.Errorf("select eligible items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// Claim conditionally moves a queued item to processing and stamps the
// attempt time. ErrItemNotFound means no such row exists; ErrNotClaimed
// means the row exists but was not in the queued state.
func (s *Store) Claim(ctx context.Context, id string, now time.Time) (Item, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Item{}, ErrItemNotFound
	}
	row := s.db.QueryRow(ctx, `UPDATE queue_items
		SET status = $1, last_attempt_at = $2
		WHERE id = $3 AND status = $4
		RETURNING `+itemColumns,
		string(StatusProcessing), dbpkg.ToTimestamptz(now), pgID, string(StatusQueued))
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The conditional UPDATE matches nothing for both a missing row
			// and a row in another state; look the row up to tell them apart.
			if _, getErr := s.GetByID(ctx, id); getErr != nil {
				return Item{}, getErr
			}
			return Item{}, ErrNotClaimed
		}
		return Item{}, fmt.Errorf("claim queue item: %w", err)
	}
	return item, nil
}

// MarkDone records a successful extraction and clears any prior error.
func (s *Store) MarkDone(ctx context.Context, id string, result ResultUpdate) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid item id: %w", err)
	}
	processedAt := result.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	tag, err := s.db.Exec(ctx, `UPDATE queue_items
		SET status = $1, extracted_text = $2, processing_method = $3,
			error = NULL, next_retry_at = NULL, processed_at = $4
		WHERE id = $5`,
		string(StatusDone),
		result.ExtractedText,
		dbpkg.ToText(result.ProcessingMethod),
		dbpkg.ToTimestamptz(processedAt),
		pgID)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// MarkFailure records a failed attempt: either queued with a retry delay or
// terminal error with the delay cleared.
func (s *Store) MarkFailure(ctx context.Context, id string, failure FailureUpdate) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid item id: %w", err)
	}
	tag, err := s.db.Exec(ctx, `UPDATE queue_items
		SET status = $1, attempts = $2, error = $3, next_retry_at = $4
		WHERE id = $5`,
		string(failure.Status),
		int32(failure.Attempts),
		dbpkg.ToText(failure.Error),
		dbpkg.ToTimestamptz(failure.NextRetryAt),
		pgID)
	if err != nil {
		return fmt.Errorf("mark failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// Retry resets an item for manual reprocessing, including terminal errors.
func (s *Store) Retry(ctx context.Context, id string) (Item, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return Item{}, fmt.Errorf("invalid item id: %w", err)
	}
	row := s.db.QueryRow(ctx, `UPDATE queue_items
		SET status = $1, attempts = 0, error = NULL, next_retry_at = NULL
		WHERE id = $2
		RETURNING `+itemColumns,
		string(StatusQueued), pgID)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, fmt.Errorf("retry queue item: %w", err)
	}
	return item, nil
}

// Delete removes an item.
func (s *Store) Delete(ctx context.Context, id string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid item id: %w", err)
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM queue_items WHERE id = $1`, pgID)
	if err != nil {
		return fmt.Errorf("delete queue item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// SetMedia persists a resolved media reference on the item.
func (s *Store) SetMedia(ctx context.Context, id, url, fileName, mimeType string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid item id: %w", err)
	}
	_, err = s.db.Exec(ctx, `UPDATE queue_items
		SET media_url = $1,
			media_file_name = COALESCE(NULLIF($2, ''), media_file_name),
			media_mime_type = COALESCE(NULLIF($3, ''), media_mime_type)
		WHERE id = $4`,
		url, fileName, mimeType, pgID)
	if err != nil {
		return fmt.Errorf("set media: %w", err)
	}
	return nil
}

// SetMediaType corrects the stored media type after byte-signature detection.
func (s *Store) SetMediaType(ctx context.Context, id string, mediaType MediaType) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid item id: %w", err)
	}
	_, err = s.db.Exec(ctx, `UPDATE queue_items SET media_type = $1 WHERE id = $2`,
		string(mediaType), pgID)
	if err != nil {
		return fmt.Errorf("set media type: %w", err)
	}
	return nil
}

// SetArchive records the best-effort archival copy location.
func (s *Store) SetArchive(ctx context.Context, id, url, path string) error {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return fmt.Errorf("invalid item id: %w", err)
	}
	_, err = s.db.Exec(ctx, `UPDATE queue_items SET archive_url = $1, archive_path = $2 WHERE id = $3`,
		dbpkg.ToText(url), dbpkg.ToText(path), pgID)
	if err != nil {
		return fmt.Errorf("set archive: %w", err)
	}
	return nil
}

// ReclaimStale resets processing items whose attempt stamp predates cutoff
// back to queued, covering a worker crash mid-item.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE queue_items
		SET status = $1
		WHERE status = $2 AND COALESCE(last_attempt_at, created_at) < $3`,
		string(StatusQueued), string(StatusProcessing), dbpkg.ToTimestamptz(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteMissingMedia removes queued and terminal-error items that carry no
// media URL; they can never be dispatched.
func (s *Store) DeleteMissingMedia(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM queue_items
		WHERE status IN ($1, $2) AND COALESCE(media_url, '') = ''`,
		string(StatusQueued), string(StatusError))
	if err != nil {
		return 0, fmt.Errorf("delete items without media: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Counts aggregates items per lifecycle state.
func (s *Store) Counts(ctx context.Context) (StatusCounts, error) {
	rows, err := s.db.Query(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()

	var counts StatusCounts
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return StatusCounts{}, fmt.Errorf("scan counts: %w", err)
		}
		switch Status(status) {
		case StatusQueued:
			counts.Queued = int(count)
		case StatusProcessing:
			counts.Processing = int(count)
		case StatusDone:
			counts.Done = int(count)
		case StatusError:
			counts.Error = int(count)
		}
	}
	return counts, rows.Err()
}

// --- scanning ---

func scanItem(row pgx.Row) (Item, error) {
	var (
		id, webhookID                            pgtype.UUID
		webhookSource, status                    string
		attachmentIndex                          pgtype.Int4
		sourcePhone, mediaURL, mediaFileName     pgtype.Text
		mediaMimeType, mediaType                 pgtype.Text
		attempts, maxAttempts                    int32
		lastAttemptAt, nextRetryAt, processedAt  pgtype.Timestamptz
		extractedText, processingMethod, errText pgtype.Text
		archiveURL, archivePath                  pgtype.Text
		receivedAt, createdAt                    pgtype.Timestamptz
	)
	err := row.Scan(
		&id, &webhookID, &webhookSource, &attachmentIndex, &sourcePhone,
		&mediaURL, &mediaFileName, &mediaMimeType, &mediaType,
		&status, &attempts, &maxAttempts, &lastAttemptAt, &nextRetryAt,
		&extractedText, &processingMethod, &errText, &archiveURL, &archivePath,
		&processedAt, &receivedAt, &createdAt,
	)
	if err != nil {
		return Item{}, err
	}
	item := Item{
		ID:               id.String(),
		WebhookID:        webhookID.String(),
		WebhookSource:    Source(webhookSource),
		AttachmentIndex:  -1,
		SourcePhone:      dbpkg.TextToString(sourcePhone),
		MediaURL:         dbpkg.TextToString(mediaURL),
		MediaFileName:    dbpkg.TextToString(mediaFileName),
		MediaMimeType:    dbpkg.TextToString(mediaMimeType),
		MediaType:        MediaType(dbpkg.TextToString(mediaType)),
		Status:           Status(status),
		Attempts:         int(attempts),
		MaxAttempts:      int(maxAttempts),
		LastAttemptAt:    dbpkg.TimestamptzToTime(lastAttemptAt),
		NextRetryAt:      dbpkg.TimestamptzToTime(nextRetryAt),
		ExtractedText:    dbpkg.TextToString(extractedText),
		ProcessingMethod: dbpkg.TextToString(processingMethod),
		Error:            dbpkg.TextToString(errText),
		ArchiveURL:       dbpkg.TextToString(archiveURL),
		ArchivePath:      dbpkg.TextToString(archivePath),
		ProcessedAt:      dbpkg.TimestamptzToTime(processedAt),
		ReceivedAt:       dbpkg.TimestamptzToTime(receivedAt),
		CreatedAt:        dbpkg.TimestamptzToTime(createdAt),
	}
	if attachmentIndex.Valid {
		item.AttachmentIndex = int(attachmentIndex.Int32)
	}
	return item, nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	items := make([]Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
