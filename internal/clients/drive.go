package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DriveClient resolves cloud-drive file identifiers (as they appear in email
// webhook attachment fields) into direct download URLs.
type DriveClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewDriveClient creates a drive resolver client.
func NewDriveClient(log *slog.Logger, baseURL, apiKey string) *DriveClient {
	if log == nil {
		log = slog.Default()
	}
	return &DriveClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.With(slog.String("client", "drive")),
	}
}

type driveFileResponse struct {
	DownloadURL string `json:"download_url"`
	Error       string `json:"error,omitempty"`
}

// ResolveDownloadURL turns an opaque drive file id into a download URL.
func (c *DriveClient) ResolveDownloadURL(ctx context.Context, fileID string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("drive base url not configured")
	}
	endpoint := c.baseURL + "/v1/files/" + url.PathEscape(fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build drive request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("drive request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("read drive response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("drive service status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var decoded driveFileResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode drive response: %w", err)
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("drive service: %s", decoded.Error)
	}
	if decoded.DownloadURL == "" {
		return "", fmt.Errorf("drive response missing download url")
	}
	return decoded.DownloadURL, nil
}
