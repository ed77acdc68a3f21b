// Package clients holds the HTTP clients for the remote extraction services:
// OCR text detection, speech transcription, page rasterization and the
// cloud-drive download resolver.
package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OCRClient calls the remote text-detection service.
type OCRClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOCRClient creates an OCR client.
func NewOCRClient(log *slog.Logger, baseURL, apiKey string, timeout time.Duration) *OCRClient {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OCRClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("client", "ocr")),
	}
}

type ocrRequest struct {
	Image   string `json:"image,omitempty"`
	URL     string `json:"url,omitempty"`
	Feature string `json:"feature"`
}

type ocrResponse struct {
	Annotations []struct {
		Description string `json:"description"`
	} `json:"text_annotations"`
	Error string `json:"error,omitempty"`
}

// DetectText runs text detection over image bytes and returns the
// concatenated detected text, empty when nothing was detected.
func (c *OCRClient) DetectText(ctx context.Context, image []byte) (string, error) {
	return c.detect(ctx, ocrRequest{
		Image:   base64.StdEncoding.EncodeToString(image),
		Feature: "TEXT_DETECTION",
	})
}

// DetectDocumentURL runs whole-document text detection against a remotely
// fetchable URL.
func (c *OCRClient) DetectDocumentURL(ctx context.Context, url string) (string, error) {
	return c.detect(ctx, ocrRequest{
		URL:     url,
		Feature: "DOCUMENT_TEXT_DETECTION",
	})
}

func (c *OCRClient) detect(ctx context.Context, reqBody ocrRequest) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("ocr base url not configured")
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("encode ocr request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/text:detect", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024*1024))
	if err != nil {
		return "", fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ocr service status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var decoded ocrResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("ocr service: %s", decoded.Error)
	}
	if len(decoded.Annotations) == 0 {
		return "", nil
	}
	// The first annotation is the full-text aggregate when present.
	return strings.TrimSpace(decoded.Annotations[0].Description), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
