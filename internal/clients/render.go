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

// RenderClient calls the page rasterization service, which turns a single
// PDF page into a PNG at the requested scale.
type RenderClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRenderClient creates a page render client.
func NewRenderClient(log *slog.Logger, baseURL string, timeout time.Duration) *RenderClient {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RenderClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With(slog.String("client", "render")),
	}
}

type renderRequest struct {
	Document string  `json:"document"`
	Page     int     `json:"page"`
	Scale    float64 `json:"scale"`
}

type renderResponse struct {
	Image string `json:"image"`
	Error string `json:"error,omitempty"`
}

// RenderPage rasterizes one page (1-based) of the PDF document.
func (c *RenderClient) RenderPage(ctx context.Context, document []byte, page int, scale float64) ([]byte, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("render base url not configured")
	}
	payload, err := json.Marshal(renderRequest{
		Document: base64.StdEncoding.EncodeToString(document),
		Page:     page,
		Scale:    scale,
	})
	if err != nil {
		return nil, fmt.Errorf("encode render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/pages:render", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read render response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("render service status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var decoded renderResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode render response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("render service: %s", decoded.Error)
	}
	image, err := base64.StdEncoding.DecodeString(decoded.Image)
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	return image, nil
}
