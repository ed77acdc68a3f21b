// Package resolve reconstructs media references from stored webhook payloads.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/textmill/textmill/internal/queue"
)

// ErrNoMediaURL indicates no media reference could be derived from the payload.
var ErrNoMediaURL = errors.New("missing media reference")

// Media is a resolved attachment reference.
type Media struct {
	URL      string
	FileName string
	MimeType string
}

// DriveClient resolves cloud-drive file identifiers into download URLs.
type DriveClient interface {
	ResolveDownloadURL(ctx context.Context, fileID string) (string, error)
}

// Strategy extracts a media reference from one known payload shape. It
// returns a zero Media when the shape does not apply.
type Strategy struct {
	Name    string
	Extract func(payload map[string]any) Media
}

// Resolver tries ordered strategies against a webhook payload. New payload
// shapes are supported by appending a strategy, not by branching inline.
type Resolver struct {
	logger         *slog.Logger
	drive          DriveClient
	messaging      []Strategy
	maxEmailFields int
}

// NewResolver creates a resolver with the known messaging payload shapes.
func NewResolver(log *slog.Logger, drive DriveClient) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		logger:         log.With(slog.String("service", "resolve")),
		drive:          drive,
		messaging:      defaultMessagingStrategies(),
		maxEmailFields: 20,
	}
}

// AppendMessagingStrategy registers an additional payload shape, tried last.
func (r *Resolver) AppendMessagingStrategy(s Strategy) {
	r.messaging = append(r.messaging, s)
}

// Resolve derives the media reference for a queue item from its original
// inbound payload. Failure is permanent for the attempt and logged with full
// diagnostic context, since it signals an upstream schema change.
func (r *Resolver) Resolve(ctx context.Context, item queue.Item, payload json.RawMessage) (Media, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Media{}, fmt.Errorf("decode webhook payload: %w", err)
	}

	var media Media
	var err error
	switch item.WebhookSource {
	case queue.SourceEmail:
		media, err = r.resolveEmail(ctx, item, doc)
	default:
		media, err = r.resolveMessaging(doc)
	}
	if err != nil {
		r.logDiagnostics(item, doc)
		return Media{}, err
	}
	return media, nil
}

func (r *Resolver) resolveMessaging(doc map[string]any) (Media, error) {
	for _, strategy := range r.messaging {
		if media := strategy.Extract(doc); media.URL != "" {
			return media, nil
		}
	}
	return Media{}, ErrNoMediaURL
}

// resolveEmail walks the flatly-numbered attachment fields
// (file_001..file_020). Values are either direct URLs or cloud-drive file
// ids; unresolved template placeholders are skipped.
func (r *Resolver) resolveEmail(ctx context.Context, item queue.Item, doc map[string]any) (Media, error) {
	type attachment struct {
		index int
		value string
	}
	var candidates []attachment
	for i := 1; i <= r.maxEmailFields; i++ {
		key := fmt.Sprintf("file_%03d", i)
		raw, ok := doc[key]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" || isPlaceholder(value) {
			continue
		}
		candidates = append(candidates, attachment{index: i - 1, value: value})
	}
	if len(candidates) == 0 {
		return Media{}, ErrNoMediaURL
	}

	selected := candidates[0]
	if item.AttachmentIndex >= 0 {
		found := false
		for _, c := range candidates {
			if c.index == item.AttachmentIndex {
				selected = c
				found = true
				break
			}
		}
		if !found {
			return Media{}, ErrNoMediaURL
		}
	}

	if isURL(selected.value) {
		return Media{URL: selected.value, FileName: item.MediaFileName}, nil
	}
	if r.drive == nil {
		return Media{}, fmt.Errorf("%w: drive resolver not configured for file id", ErrNoMediaURL)
	}
	url, err := r.drive.ResolveDownloadURL(ctx, selected.value)
	if err != nil {
		return Media{}, fmt.Errorf("resolve drive file %q: %w", selected.value, err)
	}
	return Media{URL: url, FileName: item.MediaFileName}, nil
}

// isPlaceholder recognizes unresolved template values the mail pipeline
// sometimes leaves behind, e.g. "{file_001}" or "{{attachment_url}}".
func isPlaceholder(value string) bool {
	return strings.HasPrefix(value, "{") || strings.Contains(value, "{{")
}

func isURL(value string) bool {
	return strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://")
}

// logDiagnostics dumps the payload's root keys and every url-named field so
// an operator can spot the schema drift without replaying the webhook.
func (r *Resolver) logDiagnostics(item queue.Item, doc map[string]any) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	urlFields := map[string]string{}
	scanURLFields("", doc, urlFields)

	r.logger.Error("no media reference in payload",
		slog.String("item_id", item.ID),
		slog.String("webhook_id", item.WebhookID),
		slog.String("source", string(item.WebhookSource)),
		slog.Any("root_keys", keys),
		slog.Any("url_fields", urlFields),
	)
}

func scanURLFields(prefix string, value any, out map[string]string) {
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			if strings.Contains(strings.ToLower(k), "url") {
				if s, ok := child.(string); ok {
					out[path] = s
				}
			}
			scanURLFields(path, child, out)
		}
	case []any:
		for i, child := range v {
			scanURLFields(fmt.Sprintf("%s[%d]", prefix, i), child, out)
		}
	}
}

// --- messaging payload shapes ---

func defaultMessagingStrategies() []Strategy {
	return []Strategy{
		{Name: "message.file.url", Extract: nestedFile("message")},
		{Name: "lastMessage.file.url", Extract: nestedFile("lastMessage")},
		{Name: "file.url", Extract: rootFile},
		{Name: "mediaUrl", Extract: flatMediaURL},
	}
}

func nestedFile(root string) func(map[string]any) Media {
	return func(doc map[string]any) Media {
		node, ok := doc[root].(map[string]any)
		if !ok {
			return Media{}
		}
		return fileNode(node)
	}
}

func rootFile(doc map[string]any) Media {
	return fileNode(doc)
}

func fileNode(node map[string]any) Media {
	file, ok := node["file"].(map[string]any)
	if !ok {
		return Media{}
	}
	url, _ := file["url"].(string)
	if strings.TrimSpace(url) == "" {
		return Media{}
	}
	name, _ := file["fileName"].(string)
	mime, _ := file["mimeType"].(string)
	return Media{URL: url, FileName: name, MimeType: mime}
}

func flatMediaURL(doc map[string]any) Media {
	url, _ := doc["mediaUrl"].(string)
	if strings.TrimSpace(url) == "" {
		return Media{}
	}
	name, _ := doc["mediaFileName"].(string)
	mime, _ := doc["mediaMimeType"].(string)
	return Media{URL: url, FileName: name, MimeType: mime}
}
