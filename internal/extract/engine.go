// Package extract turns classified attachment bytes into plain text.
package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/textmill/textmill/internal/detect"
)

// Engine dispatches extraction by media category.
type Engine struct {
	ocr        TextDetector
	transcribe Transcriber
	renderer   PageRenderer
	archiver   Archiver
	cfg        Config
	logger     *slog.Logger

	// readEmbedded is the PDF text-layer reader; swappable in tests.
	readEmbedded func(data []byte) (text string, pageCount int)
}

// NewEngine creates an extraction engine.
func NewEngine(log *slog.Logger, ocr TextDetector, transcribe Transcriber, renderer PageRenderer, archiver Archiver, cfg Config) *Engine {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RenderScale <= 0 {
		cfg.RenderScale = 2.0
	}
	if cfg.PageConcurrency <= 0 {
		cfg.PageConcurrency = 3
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	return &Engine{
		ocr:          ocr,
		transcribe:   transcribe,
		renderer:     renderer,
		archiver:     archiver,
		cfg:          cfg,
		logger:       log.With(slog.String("service", "extract")),
		readEmbedded: readEmbeddedText,
	}
}

// Extract runs the format-appropriate extraction strategy. Errors are
// returned to the scheduler, which owns the retry machinery; only per-page
// OCR failures inside the PDF ladder are tolerated here.
func (e *Engine) Extract(ctx context.Context, in Input) (Result, error) {
	switch in.Kind {
	case detect.KindImage:
		return e.extractImage(ctx, in)
	case detect.KindAudio:
		return e.extractAudio(ctx, in)
	case detect.KindPDF:
		return e.extractPDF(ctx, in)
	case detect.KindDocx:
		return e.extractDoc(ctx, in)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, in.Kind)
	}
}

func (e *Engine) extractImage(ctx context.Context, in Input) (Result, error) {
	text, err := e.ocr.DetectText(ctx, in.Body)
	if err != nil {
		return Result{}, fmt.Errorf("image ocr: %w", err)
	}
	// An image without text is a valid empty result, not a failure.
	return Result{Text: text, Method: MethodImageOCR}, nil
}

func (e *Engine) extractAudio(ctx context.Context, in Input) (Result, error) {
	text, err := e.transcribe.Transcribe(ctx, in.Body)
	if err != nil {
		return Result{}, fmt.Errorf("transcribe audio: %w", err)
	}
	return Result{Text: text, Method: MethodTranscription}, nil
}
