package queue

import "time"

// Status represents the lifecycle of a queue item.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Source identifies the origin of the inbound webhook.
type Source string

const (
	SourceMessaging Source = "messaging"
	SourceEmail     Source = "email"
)

// MediaType classifies the kind of attachment to extract from.
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeAudio MediaType = "audio"
	MediaTypePDF   MediaType = "pdf"
	MediaTypeDocx  MediaType = "docx"
	MediaTypeVideo MediaType = "video"
)

// Item is the persisted unit of extraction work for one attachment.
type Item struct {
	ID              string    `json:"id"`
	WebhookID       string    `json:"webhook_id"`
	WebhookSource   Source    `json:"webhook_source"`
	AttachmentIndex int       `json:"attachment_index,omitempty"`
	SourcePhone     string    `json:"source_phone,omitempty"`
	MediaURL        string    `json:"media_url,omitempty"`
	MediaFileName   string    `json:"media_file_name,omitempty"`
	MediaMimeType   string    `json:"media_mime_type,omitempty"`
	MediaType       MediaType `json:"media_type,omitempty"`

	Status        Status    `json:"status"`
	Attempts      int       `json:"attempts"`
	MaxAttempts   int       `json:"max_attempts"`
	LastAttemptAt time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt   time.Time `json:"next_retry_at,omitempty"`

	ExtractedText    string    `json:"extracted_text,omitempty"`
	ProcessingMethod string    `json:"processing_method,omitempty"`
	Error            string    `json:"error,omitempty"`
	ArchiveURL       string    `json:"archive_url,omitempty"`
	ArchivePath      string    `json:"archive_path,omitempty"`
	ProcessedAt      time.Time `json:"processed_at,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// HasMediaURL reports whether the item carries a fetchable media reference.
func (i Item) HasMediaURL() bool {
	return i.MediaURL != ""
}

// Eligible reports whether a queued item may be claimed at the given time.
func (i Item) Eligible(now time.Time) bool {
	if i.Status != StatusQueued {
		return false
	}
	return i.NextRetryAt.IsZero() || !i.NextRetryAt.After(now)
}

// CreateInput carries the fields for enqueueing a new item.
type CreateInput struct {
	WebhookID       string
	WebhookSource   Source
	AttachmentIndex int // negative means absent
	SourcePhone     string
	MediaURL        string
	MediaFileName   string
	MediaMimeType   string
	MediaType       MediaType
	MaxAttempts     int
	ReceivedAt      time.Time
}

// ListFilter narrows List results. Zero values mean no filtering.
type ListFilter struct {
	Status    Status
	MediaType MediaType
	Limit     int
}

// ResultUpdate carries the fields written on a successful extraction.
type ResultUpdate struct {
	ExtractedText    string
	ProcessingMethod string
	ProcessedAt      time.Time
}

// FailureUpdate carries the fields written on a failed attempt.
type FailureUpdate struct {
	Status      Status
	Attempts    int
	Error       string
	NextRetryAt time.Time // zero clears the column
}

// StatusCounts aggregates queue items per lifecycle state.
type StatusCounts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Error      int `json:"error"`
}
