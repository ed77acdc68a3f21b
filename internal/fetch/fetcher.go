// Package fetch downloads attachment bytes, unwrapping the meta-refresh
// indirection some link shorteners return instead of a real redirect.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// metaRefreshScanBytes bounds the scan for a meta-refresh target.
	metaRefreshScanBytes = 2048
	defaultTimeout       = 60 * time.Second
	maxBodyBytes         = 100 * 1024 * 1024
)

var metaRefreshURL = regexp.MustCompile(`url=['"]([^'"]+)['"]`)

// Result is the outcome of a fetch.
type Result struct {
	Body        []byte
	ContentType string
	// Redirected is set when the body was an HTML meta-refresh shim and the
	// real target was fetched instead.
	Redirected bool
}

// Fetcher retrieves attachment bytes over HTTP.
type Fetcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewFetcher creates a fetcher with the given per-download timeout.
func NewFetcher(log *slog.Logger, timeout time.Duration) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		logger: log.With(slog.String("service", "fetch")),
	}
}

// Fetch downloads the URL. A body starting with '<' is treated as a
// disguised redirect: the first 2KB are scanned for a meta-refresh
// url='...' target, which is fetched once.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Result, error) {
	body, contentType, err := f.download(ctx, url)
	if err != nil {
		return Result{}, err
	}

	if len(body) > 0 && body[0] == '<' {
		target := findMetaRefreshTarget(body)
		if target != "" && target != url {
			f.logger.Debug("following meta-refresh target",
				slog.String("from", url), slog.String("to", target))
			body, contentType, err = f.download(ctx, target)
			if err != nil {
				return Result{}, fmt.Errorf("follow meta-refresh: %w", err)
			}
			return Result{Body: body, ContentType: sniffType(body, contentType), Redirected: true}, nil
		}
	}

	return Result{Body: body, ContentType: sniffType(body, contentType)}, nil
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("download %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func findMetaRefreshTarget(body []byte) string {
	head := body
	if len(head) > metaRefreshScanBytes {
		head = head[:metaRefreshScanBytes]
	}
	match := metaRefreshURL.FindSubmatch(head)
	if match == nil {
		return ""
	}
	return strings.TrimSpace(string(match[1]))
}

// sniffType falls back to magic-byte detection when the response did not
// declare a usable content type.
func sniffType(body []byte, declared string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && !strings.HasPrefix(declared, "application/octet-stream") {
		return declared
	}
	if len(body) == 0 {
		return declared
	}
	return mimetype.Detect(body).String()
}
