// Package worker schedules queue items through the extraction pipeline.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/textmill/textmill/internal/config"
	"github.com/textmill/textmill/internal/detect"
	"github.com/textmill/textmill/internal/extract"
	"github.com/textmill/textmill/internal/fetch"
	"github.com/textmill/textmill/internal/queue"
	"github.com/textmill/textmill/internal/resolve"
	"github.com/textmill/textmill/internal/webhooks"
)

// ErrItemBusy indicates the item is already held by a concurrent attempt in
// this process.
var ErrItemBusy = errors.New("item is being processed")

// Store is the queue persistence surface the scheduler drives.
type Store interface {
	GetByID(ctx context.Context, id string) (queue.Item, error)
	SelectEligible(ctx context.Context, now time.Time, limit int) ([]queue.Item, error)
	Claim(ctx context.Context, id string, now time.Time) (queue.Item, error)
	MarkDone(ctx context.Context, id string, result queue.ResultUpdate) error
	MarkFailure(ctx context.Context, id string, failure queue.FailureUpdate) error
	SetMedia(ctx context.Context, id, url, fileName, mimeType string) error
	SetMediaType(ctx context.Context, id string, mediaType queue.MediaType) error
	SetArchive(ctx context.Context, id, url, path string) error
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteMissingMedia(ctx context.Context) (int64, error)
}

// WebhookStore loads the original inbound payload an item refers to.
type WebhookStore interface {
	GetByID(ctx context.Context, id string) (webhooks.Webhook, error)
}

// MediaResolver reconstructs a media reference from a stored payload.
type MediaResolver interface {
	Resolve(ctx context.Context, item queue.Item, payload json.RawMessage) (resolve.Media, error)
}

// Fetcher downloads attachment bytes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetch.Result, error)
}

// Extractor turns classified bytes into text.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (extract.Result, error)
}

// Archiver stores the original binary; failures never fail the item.
type Archiver interface {
	Store(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Service owns the claim/process/release cycle. A cron tick and the manual
// HTTP triggers all funnel into the same per-item pipeline.
type Service struct {
	logger   *slog.Logger
	store    Store
	webhooks WebhookStore
	resolver MediaResolver
	fetcher  Fetcher
	engine   Extractor
	archive  Archiver
	cfg      config.WorkerConfig

	locks   *Locks
	cron    *cron.Cron
	passing atomic.Bool
	now     func() time.Time
}

// NewService wires the scheduler over its pipeline stages. archive may be
// nil when object storage is not configured.
func NewService(log *slog.Logger, store Store, webhookStore WebhookStore, resolver MediaResolver, fetcher Fetcher, engine Extractor, archive Archiver, cfg config.WorkerConfig) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		logger:   log.With(slog.String("service", "worker")),
		store:    store,
		webhooks: webhookStore,
		resolver: resolver,
		fetcher:  fetcher,
		engine:   engine,
		archive:  archive,
		cfg:      cfg,
		locks:    NewLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the startup hygiene sweep and begins the timer-driven
// scheduling loop.
func (s *Service) Start(ctx context.Context) error {
	s.sweep(ctx)

	c := cron.New()
	spec := fmt.Sprintf("@every %ds", s.cfg.PollIntervalSeconds)
	if _, err := c.AddFunc(spec, func() { s.Pass(context.Background()) }); err != nil {
		return fmt.Errorf("schedule worker pass: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("worker started", slog.String("interval", spec))
	return nil
}

// Stop halts the timer and waits for an in-flight pass to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.logger.Info("worker stopped")
}

// Pass runs one scheduling pass: hygiene sweeps, then a bounded batch of
// eligible items dispatched concurrently and joined before returning. Passes
// never overlap within a process.
func (s *Service) Pass(ctx context.Context) {
	if !s.passing.CompareAndSwap(false, true) {
		s.logger.Debug("pass skipped, previous pass still running")
		return
	}
	defer s.passing.Store(false)

	s.sweep(ctx)

	items, err := s.store.SelectEligible(ctx, s.now(), s.cfg.MaxItemsPerPass)
	if err != nil {
		s.logger.Error("select eligible items", slog.Any("error", err))
		return
	}
	if len(items) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, item := range items {
		g.Go(func() error {
			s.claimAndProcess(gctx, item.ID)
			return nil
		})
	}
	_ = g.Wait()
}

// ProcessNext claims and processes the single oldest eligible item. It
// returns nil when the queue has nothing eligible.
func (s *Service) ProcessNext(ctx context.Context) (*queue.Item, error) {
	s.sweep(ctx)

	items, err := s.store.SelectEligible(ctx, s.now(), 1)
	if err != nil {
		return nil, fmt.Errorf("select eligible items: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}
	if !s.claimAndProcess(ctx, items[0].ID) {
		return nil, nil
	}
	item, err := s.store.GetByID(ctx, items[0].ID)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ProcessItem forces one attempt on a specific queued item, ignoring any
// retry delay. Terminal items must be retried first.
func (s *Service) ProcessItem(ctx context.Context, id string) (*queue.Item, error) {
	if !s.locks.TryAcquire(id) {
		return nil, ErrItemBusy
	}
	defer s.locks.Release(id)

	claimed, err := s.store.Claim(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	s.process(ctx, claimed)

	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.StaleAfter())
	if n, err := s.store.ReclaimStale(ctx, cutoff); err != nil {
		s.logger.Error("reclaim stale items", slog.Any("error", err))
	} else if n > 0 {
		s.logger.Warn("reclaimed stale processing items", slog.Int64("count", n))
	}

	if n, err := s.store.DeleteMissingMedia(ctx); err != nil {
		s.logger.Error("delete items without media", slog.Any("error", err))
	} else if n > 0 {
		s.logger.Info("deleted items without media url", slog.Int64("count", n))
	}
}

// claimAndProcess reports whether this call won the item and ran an attempt.
func (s *Service) claimAndProcess(ctx context.Context, id string) bool {
	if !s.locks.TryAcquire(id) {
		return false
	}
	defer s.locks.Release(id)

	item, err := s.store.Claim(ctx, id, s.now())
	if err != nil {
		if !errors.Is(err, queue.ErrNotClaimed) {
			s.logger.Error("claim item", slog.String("item_id", id), slog.Any("error", err))
		}
		return false
	}
	s.process(ctx, item)
	return true
}

// process runs one attempt over a claimed item. Every pipeline error lands
// in the retry/terminal state machine; nothing escapes to the caller.
func (s *Service) process(ctx context.Context, item queue.Item) {
	log := s.logger.With(
		slog.String("item_id", item.ID),
		slog.String("webhook_id", item.WebhookID),
		slog.Int("attempt", item.Attempts+1))

	if !item.HasMediaURL() {
		media, err := s.resolveMedia(ctx, item)
		if err != nil {
			s.fail(ctx, log, item, fmt.Errorf("resolve media: %w", err))
			return
		}
		if err := s.store.SetMedia(ctx, item.ID, media.URL, media.FileName, media.MimeType); err != nil {
			s.fail(ctx, log, item, fmt.Errorf("persist media reference: %w", err))
			return
		}
		item.MediaURL = media.URL
		item.MediaFileName = media.FileName
		item.MediaMimeType = media.MimeType
	}

	fetched, err := s.fetcher.Fetch(ctx, item.MediaURL)
	if err != nil {
		s.fail(ctx, log, item, fmt.Errorf("fetch content: %w", err))
		return
	}

	kind := detect.Classify(fetched.Body, detect.Hint{
		ContentType: firstNonEmpty(item.MediaMimeType, fetched.ContentType),
		FileName:    item.MediaFileName,
	})
	if kind == detect.KindUnknown {
		s.fail(ctx, log, item, fmt.Errorf("%w: cannot classify %d bytes (declared %q)",
			extract.ErrUnsupportedFormat, len(fetched.Body), item.MediaMimeType))
		return
	}
	if mt := mediaTypeFor(kind); mt != item.MediaType {
		if item.MediaType != "" {
			log.Warn("correcting declared media type",
				slog.String("declared", string(item.MediaType)),
				slog.String("detected", string(mt)))
		}
		if err := s.store.SetMediaType(ctx, item.ID, mt); err != nil {
			log.Error("persist corrected media type", slog.Any("error", err))
		}
		item.MediaType = mt
	}

	result, err := s.engine.Extract(ctx, extract.Input{
		Kind:             kind,
		Body:             fetched.Body,
		FileName:         item.MediaFileName,
		SourceURL:        item.MediaURL,
		ArchiveKeyPrefix: fmt.Sprintf("%s/%s", item.MediaType, item.WebhookID),
	})
	if err != nil {
		s.fail(ctx, log, item, fmt.Errorf("extract text: %w", err))
		return
	}

	if err := s.store.MarkDone(ctx, item.ID, queue.ResultUpdate{
		ExtractedText:    result.Text,
		ProcessingMethod: result.Method,
		ProcessedAt:      s.now(),
	}); err != nil {
		log.Error("mark item done", slog.Any("error", err))
		return
	}
	log.Info("item processed",
		slog.String("method", result.Method),
		slog.Int("text_length", len(result.Text)),
		slog.Int("failed_pages", result.FailedPages))

	s.archiveOriginal(ctx, log, item, fetched)
}

func (s *Service) resolveMedia(ctx context.Context, item queue.Item) (resolve.Media, error) {
	webhook, err := s.webhooks.GetByID(ctx, item.WebhookID)
	if err != nil {
		return resolve.Media{}, fmt.Errorf("load source webhook: %w", err)
	}
	return s.resolver.Resolve(ctx, item, webhook.Payload)
}

// archiveOriginal uploads the fetched binary under a media-type/webhook key.
// Storage failures are logged and ignored; the item is already done.
func (s *Service) archiveOriginal(ctx context.Context, log *slog.Logger, item queue.Item, fetched fetch.Result) {
	if s.archive == nil {
		return
	}
	name := item.MediaFileName
	if name == "" {
		name = "attachment"
	}
	key := fmt.Sprintf("%s/%s/%s", item.MediaType, item.WebhookID, name)
	url, err := s.archive.Store(ctx, key, fetched.ContentType, fetched.Body)
	if err != nil {
		log.Warn("archive original failed", slog.Any("error", err))
		return
	}
	if err := s.store.SetArchive(ctx, item.ID, url, key); err != nil {
		log.Warn("persist archive location failed", slog.Any("error", err))
	}
}

func (s *Service) fail(ctx context.Context, log *slog.Logger, item queue.Item, cause error) {
	attempts := item.Attempts + 1
	update := queue.FailureUpdate{
		Attempts: attempts,
		Error:    cause.Error(),
	}
	if attempts >= s.maxAttemptsFor(item) {
		update.Status = queue.StatusError
		log.Error("item failed terminally",
			slog.Int("attempts", attempts), slog.Any("error", cause))
	} else {
		update.Status = queue.StatusQueued
		update.NextRetryAt = s.now().Add(backoff(attempts))
		log.Warn("item attempt failed",
			slog.Int("attempts", attempts),
			slog.Time("next_retry_at", update.NextRetryAt),
			slog.Any("error", cause))
	}
	if err := s.store.MarkFailure(ctx, item.ID, update); err != nil {
		log.Error("mark item failure", slog.Any("error", err))
	}
}

// maxAttemptsFor honors the limit stored on the item; the worker config only
// covers items created before the column was populated.
func (s *Service) maxAttemptsFor(item queue.Item) int {
	if item.MaxAttempts > 0 {
		return item.MaxAttempts
	}
	if s.cfg.MaxAttempts > 0 {
		return s.cfg.MaxAttempts
	}
	return 3
}

func mediaTypeFor(kind detect.Kind) queue.MediaType {
	switch kind {
	case detect.KindImage:
		return queue.MediaTypeImage
	case detect.KindAudio:
		return queue.MediaTypeAudio
	case detect.KindPDF:
		return queue.MediaTypePDF
	case detect.KindDocx:
		return queue.MediaTypeDocx
	default:
		return ""
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
