package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/sync/errgroup"
)

// embeddedTextThreshold separates genuine digital PDFs from print-to-PDF and
// scanned documents that embed little or no text.
const embeddedTextThreshold = 50

// extractPDF walks the fallback ladder: embedded text, then per-page
// rasterize-and-OCR, then whole-document OCR via the original URL. The
// strongest non-empty result wins.
func (e *Engine) extractPDF(ctx context.Context, in Input) (Result, error) {
	embedded, pageCount := e.readEmbedded(in.Body)
	if utf8.RuneCountInString(embedded) > embeddedTextThreshold {
		return Result{Text: embedded, Method: MethodEmbeddedText, Pages: pageCount}, nil
	}

	best := Result{Text: embedded, Method: MethodEmbeddedText, Pages: pageCount}

	if pageCount > 0 && e.renderer != nil {
		pageResult, err := e.ocrPages(ctx, in, pageCount)
		if err != nil {
			e.logger.Warn("page ocr pass failed", slog.Any("error", err))
		} else if len(pageResult.Text) > len(best.Text) {
			best = pageResult
		}
	}

	// Whole-document OCR only when the page pass did not beat the embedded
	// text layer.
	if best.Method == MethodEmbeddedText && in.SourceURL != "" {
		text, err := e.ocr.DetectDocumentURL(ctx, in.SourceURL)
		if err != nil {
			e.logger.Warn("document ocr fallback failed", slog.Any("error", err))
		} else if len(text) > len(best.Text) {
			best = Result{Text: text, Method: MethodDocumentOCR, Pages: pageCount}
		}
	}

	if strings.TrimSpace(best.Text) == "" {
		return Result{}, fmt.Errorf("%w from pdf (%d pages)", ErrNoText, pageCount)
	}
	return best, nil
}

// ocrPages renders and OCRs up to MaxPages pages in bounded-concurrency
// batches. A failing page stays empty and is counted, not fatal, so one slow
// or corrupt page cannot abort the rest.
func (e *Engine) ocrPages(ctx context.Context, in Input, pageCount int) (Result, error) {
	pages := pageCount
	if pages > e.cfg.MaxPages {
		pages = e.cfg.MaxPages
	}

	texts := make([]string, pages)
	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PageConcurrency)
	for i := 0; i < pages; i++ {
		page := i + 1
		g.Go(func() error {
			text, err := e.ocrPage(gctx, in, page)
			if err != nil {
				e.logger.Warn("page ocr failed",
					slog.Int("page", page), slog.Any("error", err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			texts[page-1] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var b strings.Builder
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- Page %d ---\n%s", i+1, strings.TrimSpace(text))
	}

	return Result{
		Text:        b.String(),
		Method:      MethodPageOCR,
		Pages:       pages,
		FailedPages: failed,
	}, nil
}

func (e *Engine) ocrPage(ctx context.Context, in Input, page int) (string, error) {
	image, err := e.renderer.RenderPage(ctx, in.Body, page, e.cfg.RenderScale)
	if err != nil {
		return "", fmt.Errorf("render page %d: %w", page, err)
	}

	if e.archiver != nil && in.ArchiveKeyPrefix != "" {
		key := fmt.Sprintf("%s/pages/page-%03d.png", in.ArchiveKeyPrefix, page)
		if _, err := e.archiver.Store(ctx, key, "image/png", image); err != nil {
			e.logger.Warn("archive page image failed",
				slog.Int("page", page), slog.Any("error", err))
		}
	}

	text, err := e.ocr.DetectText(ctx, image)
	if err != nil {
		return "", fmt.Errorf("ocr page %d: %w", page, err)
	}
	return text, nil
}

// readEmbeddedText reads the PDF's native text layer. The pdf library can
// panic on malformed documents, so every step is recover-guarded; a
// malformed PDF simply yields no embedded text and falls to the OCR ladder.
func readEmbeddedText(data []byte) (text string, pageCount int) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0
	}

	func() {
		defer func() { _ = recover() }()
		pageCount = reader.NumPage()
	}()
	if pageCount <= 0 {
		return "", 0
	}

	var b strings.Builder
	for i := 1; i <= pageCount; i++ {
		func() {
			defer func() { _ = recover() }()
			page := reader.Page(i)
			if page.V.IsNull() {
				return
			}
			content := page.Content()
			for _, item := range content.Text {
				b.WriteString(item.S)
				b.WriteString(" ")
			}
			b.WriteString("\n")
		}()
	}
	return strings.TrimSpace(b.String()), pageCount
}
