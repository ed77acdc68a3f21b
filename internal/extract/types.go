package extract

import (
	"context"

	"github.com/textmill/textmill/internal/detect"
)

// Method tags identify which extraction path produced the text.
const (
	MethodImageOCR      = "image-ocr"
	MethodTranscription = "audio-transcription"
	MethodEmbeddedText  = "embedded-text"
	MethodPageOCR       = "page-ocr"
	MethodDocumentOCR   = "document-ocr"
	MethodDocxText      = "docx-text"
	MethodLegacyDocText = "legacy-doc-text"
)

// Input is one extraction attempt over fetched attachment bytes.
type Input struct {
	Kind     detect.Kind
	Body     []byte
	FileName string
	// SourceURL is the fetchable origin, used by the whole-document OCR
	// fallback.
	SourceURL string
	// ArchiveKeyPrefix is where page images are archived, e.g.
	// "pdf/<webhook_id>".
	ArchiveKeyPrefix string
}

// Result is the outcome of a successful extraction.
type Result struct {
	Text   string
	Method string
	// Pages and FailedPages describe the page-OCR path when it ran.
	Pages       int
	FailedPages int
}

// TextDetector is the remote OCR service.
type TextDetector interface {
	DetectText(ctx context.Context, image []byte) (string, error)
	DetectDocumentURL(ctx context.Context, url string) (string, error)
}

// Transcriber is the remote speech-to-text service.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// PageRenderer rasterizes a single PDF page to an image.
type PageRenderer interface {
	RenderPage(ctx context.Context, document []byte, page int, scale float64) ([]byte, error)
}

// Archiver stores page images; failures are tolerated.
type Archiver interface {
	Store(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Config tunes the PDF extraction ladder.
type Config struct {
	// RenderScale is the rasterization scale for page images.
	RenderScale float64
	// PageConcurrency bounds concurrent page OCR calls.
	PageConcurrency int
	// MaxPages caps how many pages are rasterized and OCRed.
	MaxPages int
}
