// Package detect classifies attachment bytes into canonical media categories.
package detect

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Kind is the canonical media category of an attachment.
type Kind string

const (
	KindPDF     Kind = "pdf"
	KindDocx    Kind = "docx"
	KindImage   Kind = "image"
	KindAudio   Kind = "audio"
	KindUnknown Kind = ""
)

// Hint carries declared metadata consulted only when byte signatures are
// inconclusive, plus the exceptions for OLE2 containers we cannot parse.
type Hint struct {
	ContentType string
	FileName    string
}

type signature struct {
	prefix []byte
	kind   Kind
}

// Ordered table, first match wins. RIFF/WAV and WebP share the RIFF prefix,
// so those two are resolved on the format tag at offset 8.
var signatures = []signature{
	{[]byte("%PDF"), KindPDF},
	{[]byte("PK"), KindDocx},
	{[]byte{0x89, 0x50, 0x4E, 0x47}, KindImage}, // PNG
	{[]byte{0xFF, 0xD8, 0xFF}, KindImage},       // JPEG
	{[]byte("GIF8"), KindImage},
	{[]byte("ID3"), KindAudio},
	{[]byte{0xFF, 0xFB}, KindAudio}, // MP3 frame sync
	{[]byte{0xFF, 0xF3}, KindAudio},
	{[]byte{0xFF, 0xF2}, KindAudio},
	{[]byte("OggS"), KindAudio},
}

var ole2Magic = []byte{0xD0, 0xCF, 0x11, 0xE0}

// Classify inspects the leading bytes of buf, falling back to the declared
// metadata in hint when no signature matches. Buffers shorter than 8 bytes
// are classified on the hint alone.
func Classify(buf []byte, hint Hint) Kind {
	if kind := classifyBytes(buf, hint); kind != KindUnknown {
		return kind
	}
	if len(buf) >= 8 && isOLE2(buf) {
		// Recognized container with no parser for this hint.
		return KindUnknown
	}
	return ClassifyDeclared(hint)
}

func classifyBytes(buf []byte, hint Hint) Kind {
	if len(buf) < 8 {
		return KindUnknown
	}
	for _, sig := range signatures {
		if bytes.HasPrefix(buf, sig.prefix) {
			return sig.kind
		}
	}
	if isOLE2(buf) {
		if isUnsupportedOLE2(hint) {
			return KindUnknown
		}
		// Legacy binary Word container.
		return KindDocx
	}
	if bytes.HasPrefix(buf, []byte("RIFF")) && len(buf) >= 12 {
		switch string(buf[8:12]) {
		case "WEBP":
			return KindImage
		case "WAVE":
			return KindAudio
		}
	}
	return KindUnknown
}

func isOLE2(buf []byte) bool {
	return bytes.HasPrefix(buf, ole2Magic)
}

// isUnsupportedOLE2 reports whether the OLE2 container is an Outlook message
// or a legacy spreadsheet, neither of which has a text parser here.
func isUnsupportedOLE2(hint Hint) bool {
	ext := strings.ToLower(filepath.Ext(hint.FileName))
	ct := strings.ToLower(strings.TrimSpace(hint.ContentType))
	if ext == ".msg" || strings.Contains(ct, "ms-outlook") {
		return true
	}
	if ext == ".xls" || strings.Contains(ct, "ms-excel") {
		return true
	}
	return false
}

// ClassifyDeclared maps a declared content type onto a category. Video is
// deliberately routed to image so a frame-level OCR attempt is still made.
func ClassifyDeclared(hint Hint) Kind {
	ct := strings.ToLower(strings.TrimSpace(hint.ContentType))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case strings.HasPrefix(ct, "audio/"):
		return KindAudio
	case strings.HasPrefix(ct, "video/"):
		return KindImage
	case ct == "application/pdf" || ct == "application/x-pdf":
		return KindPDF
	case ct == "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		ct == "application/msword":
		return KindDocx
	}
	return KindUnknown
}
