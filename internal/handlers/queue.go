package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/textmill/textmill/internal/queue"
	"github.com/textmill/textmill/internal/resolve"
	"github.com/textmill/textmill/internal/webhooks"
	"github.com/textmill/textmill/internal/worker"
)

// Enqueue result values, one per requested webhook id.
const (
	enqueueResultQueued        = "queued"
	enqueueResultAlreadyQueued = "already-queued"
	enqueueResultNoMedia       = "no-media"
)

// QueueStore is the persistence surface the queue handler needs.
type QueueStore interface {
	Create(ctx context.Context, input queue.CreateInput) (queue.Item, error)
	GetByID(ctx context.Context, id string) (queue.Item, error)
	List(ctx context.Context, filter queue.ListFilter) ([]queue.Item, error)
	Retry(ctx context.Context, id string) (queue.Item, error)
	Delete(ctx context.Context, id string) error
	Counts(ctx context.Context) (queue.StatusCounts, error)
}

// WebhookReader loads stored source payloads.
type WebhookReader interface {
	GetByID(ctx context.Context, id string) (webhooks.Webhook, error)
}

// Processor triggers extraction attempts outside the timer loop.
type Processor interface {
	ProcessNext(ctx context.Context) (*queue.Item, error)
	ProcessItem(ctx context.Context, id string) (*queue.Item, error)
}

// AttachmentResolver derives a media reference at enqueue time.
type AttachmentResolver interface {
	Resolve(ctx context.Context, item queue.Item, payload json.RawMessage) (resolve.Media, error)
}

// QueueHandler exposes the extraction queue over HTTP.
type QueueHandler struct {
	store       QueueStore
	webhooks    WebhookReader
	resolver    AttachmentResolver
	processor   Processor
	maxAttempts int
	logger      *slog.Logger
}

type enqueuePayload struct {
	WebhookIDs      []string `json:"webhook_ids"`
	Source          string   `json:"source"`
	AttachmentIndex *int     `json:"attachment_index,omitempty"`
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(log *slog.Logger, store QueueStore, webhookReader WebhookReader, resolver AttachmentResolver, processor Processor, maxAttempts int) *QueueHandler {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &QueueHandler{
		store:       store,
		webhooks:    webhookReader,
		resolver:    resolver,
		processor:   processor,
		maxAttempts: maxAttempts,
		logger:      log.With(slog.String("handler", "queue")),
	}
}

// Register registers queue routes.
func (h *QueueHandler) Register(e *echo.Echo) {
	g := e.Group("/queue")
	g.POST("/enqueue", h.Enqueue)
	g.POST("/process-next", h.ProcessNext)
	g.GET("/items", h.ListItems)
	g.GET("/stats", h.Stats)
	g.GET("/items/:id", h.GetItem)
	g.POST("/items/:id/process", h.ProcessItem)
	g.POST("/items/:id/retry", h.RetryItem)
	g.DELETE("/items/:id", h.DeleteItem)
	g.GET("/items/:id/webhook", h.GetItemWebhook)
}

// Enqueue creates queue items for the given source webhooks, resolving each
// attachment reference up front. The response maps every requested id to
// queued, already-queued, or no-media.
func (h *QueueHandler) Enqueue(c echo.Context) error {
	var payload enqueuePayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(payload.WebhookIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "webhook_ids is required")
	}
	source := queue.Source(strings.TrimSpace(payload.Source))
	if source != queue.SourceMessaging && source != queue.SourceEmail {
		return echo.NewHTTPError(http.StatusBadRequest, "source must be messaging or email")
	}
	attachmentIndex := -1
	if payload.AttachmentIndex != nil {
		attachmentIndex = *payload.AttachmentIndex
	}

	ctx := c.Request().Context()
	results := make(map[string]string, len(payload.WebhookIDs))
	for _, webhookID := range payload.WebhookIDs {
		result, err := h.enqueueOne(ctx, webhookID, source, attachmentIndex)
		if err != nil {
			h.logger.Error("enqueue webhook failed",
				slog.String("webhook_id", webhookID), slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "enqueue failed")
		}
		results[webhookID] = result
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

func (h *QueueHandler) enqueueOne(ctx context.Context, webhookID string, source queue.Source, attachmentIndex int) (string, error) {
	webhook, err := h.webhooks.GetByID(ctx, webhookID)
	if err != nil {
		if errors.Is(err, webhooks.ErrWebhookNotFound) {
			return enqueueResultNoMedia, nil
		}
		return "", err
	}

	probe := queue.Item{
		WebhookID:       webhookID,
		WebhookSource:   source,
		AttachmentIndex: attachmentIndex,
	}
	media, err := h.resolver.Resolve(ctx, probe, webhook.Payload)
	if err != nil {
		if errors.Is(err, resolve.ErrNoMediaURL) {
			return enqueueResultNoMedia, nil
		}
		return "", err
	}

	_, err = h.store.Create(ctx, queue.CreateInput{
		WebhookID:       webhookID,
		WebhookSource:   source,
		AttachmentIndex: attachmentIndex,
		MediaURL:        media.URL,
		MediaFileName:   media.FileName,
		MediaMimeType:   media.MimeType,
		MaxAttempts:     h.maxAttempts,
		ReceivedAt:      webhook.ReceivedAt,
	})
	if err != nil {
		if errors.Is(err, queue.ErrAlreadyQueued) {
			return enqueueResultAlreadyQueued, nil
		}
		return "", err
	}
	return enqueueResultQueued, nil
}

// ProcessNext claims and processes the oldest eligible item immediately.
func (h *QueueHandler) ProcessNext(c echo.Context) error {
	item, err := h.processor.ProcessNext(c.Request().Context())
	if err != nil {
		h.logger.Error("process next failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "process next failed")
	}
	if item == nil {
		return c.JSON(http.StatusOK, map[string]any{"processed": false})
	}
	return c.JSON(http.StatusOK, map[string]any{"processed": true, "item": item})
}

// ProcessItem forces one attempt on a specific item, ignoring retry delays.
func (h *QueueHandler) ProcessItem(c echo.Context) error {
	id := c.Param("id")
	item, err := h.processor.ProcessItem(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrItemNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "queue item not found")
		case errors.Is(err, queue.ErrNotClaimed):
			return echo.NewHTTPError(http.StatusConflict, "item is not in a processable state")
		case errors.Is(err, worker.ErrItemBusy):
			return echo.NewHTTPError(http.StatusConflict, "item is already being processed")
		}
		h.logger.Error("process item failed", slog.String("item_id", id), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "process item failed")
	}
	return c.JSON(http.StatusOK, item)
}

// RetryItem resets attempts and state so the scheduler picks the item up
// again, including terminal error items.
func (h *QueueHandler) RetryItem(c echo.Context) error {
	id := c.Param("id")
	item, err := h.store.Retry(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "queue item not found")
		}
		h.logger.Error("retry item failed", slog.String("item_id", id), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "retry failed")
	}
	return c.JSON(http.StatusOK, item)
}

// DeleteItem removes an item from the queue.
func (h *QueueHandler) DeleteItem(c echo.Context) error {
	id := c.Param("id")
	if err := h.store.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "queue item not found")
		}
		h.logger.Error("delete item failed", slog.String("item_id", id), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "delete failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// GetItem returns a single queue item.
func (h *QueueHandler) GetItem(c echo.Context) error {
	id := c.Param("id")
	item, err := h.store.GetByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "queue item not found")
		}
		h.logger.Error("get item failed", slog.String("item_id", id), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "get item failed")
	}
	return c.JSON(http.StatusOK, item)
}

// ListItems returns a filtered snapshot of the queue.
func (h *QueueHandler) ListItems(c echo.Context) error {
	filter := queue.ListFilter{
		Status:    queue.Status(strings.TrimSpace(c.QueryParam("status"))),
		MediaType: queue.MediaType(strings.TrimSpace(c.QueryParam("media_type"))),
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		filter.Limit = limit
	}

	items, err := h.store.List(c.Request().Context(), filter)
	if err != nil {
		h.logger.Error("list items failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list failed")
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "count": len(items)})
}

// GetItemWebhook returns the original inbound payload for diagnostics.
func (h *QueueHandler) GetItemWebhook(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	item, err := h.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, queue.ErrItemNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "queue item not found")
		}
		h.logger.Error("get item failed", slog.String("item_id", id), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "get item failed")
	}

	webhook, err := h.webhooks.GetByID(ctx, item.WebhookID)
	if err != nil {
		if errors.Is(err, webhooks.ErrWebhookNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "source webhook not found")
		}
		h.logger.Error("get webhook failed",
			slog.String("webhook_id", item.WebhookID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "get webhook failed")
	}
	return c.JSON(http.StatusOK, webhook)
}

// Stats aggregates item counts per lifecycle state.
func (h *QueueHandler) Stats(c echo.Context) error {
	counts, err := h.store.Counts(c.Request().Context())
	if err != nil {
		h.logger.Error("queue stats failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "stats failed")
	}
	return c.JSON(http.StatusOK, counts)
}
