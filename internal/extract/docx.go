package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
)

var (
	xmlTags    = regexp.MustCompile(`<[^>]*>`)
	paragraphs = regexp.MustCompile(`</w:p>`)
	multiSpace = regexp.MustCompile(`[ \t]+`)
)

var ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0}

// extractDoc handles both word-processor containers: the modern zip-based
// format and the legacy OLE2 binary. A container mismatch is structural and
// fatal for the attempt.
func (e *Engine) extractDoc(_ context.Context, in Input) (Result, error) {
	if bytes.HasPrefix(in.Body, ole2Magic) {
		text, err := extractLegacyDocText(in.Body)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: text, Method: MethodLegacyDocText}, nil
	}

	text, err := extractDocxText(in.Body)
	if err != nil {
		return Result{}, err
	}
	return Result{Text: text, Method: MethodDocxText}, nil
}

// extractDocxText pulls the main document part out of the zip container and
// strips the WordprocessingML markup.
func extractDocxText(data []byte) (string, error) {
	zipReader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: not a zip container: %v", ErrMalformedDocument, err)
	}

	for _, file := range zipReader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open document part: %w", err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document part: %w", err)
		}
		text := paragraphs.ReplaceAllString(string(content), "\n")
		text = xmlTags.ReplaceAllString(text, " ")
		text = multiSpace.ReplaceAllString(text, " ")
		return normalizeLines(text), nil
	}
	return "", fmt.Errorf("%w: zip container without word/document.xml", ErrMalformedDocument)
}

// extractLegacyDocText scans the OLE2 binary for readable text runs. The
// legacy format interleaves text with binary records; runs of printable
// characters of a minimum length approximate the document body.
func extractLegacyDocText(data []byte) (string, error) {
	const minRun = 4

	var b strings.Builder
	var run []rune
	flush := func() {
		if len(run) >= minRun {
			b.WriteString(strings.TrimSpace(string(run)))
			b.WriteString("\n")
		}
		run = run[:0]
	}

	// Legacy Word stores body text as UTF-16LE; walk 2-byte units and keep
	// printable BMP characters.
	for i := 0; i+1 < len(data); i += 2 {
		r := rune(uint16(data[i]) | uint16(data[i+1])<<8)
		if r == '\r' || r == '\n' {
			run = append(run, '\n')
			continue
		}
		if unicode.IsPrint(r) && r != unicode.ReplacementChar {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()

	text := normalizeLines(b.String())
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no readable text in legacy container", ErrMalformedDocument)
	}
	return text, nil
}

func normalizeLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
