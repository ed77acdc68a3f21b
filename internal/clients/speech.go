package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrTranscriptionTimeout indicates the maximum number of polls elapsed before
// transcription job finished.
var ErrTranscriptionTimeout = errors.New("transcription timed out")

// SpeechClient drives the submit/poll/retrieve cycle of the remote
// transcription service.
type SpeechClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	maxPolls     int
	logger       *slog.Logger
}

// NewSpeechClient creates a transcription client. pollInterval and maxPolls
// bound the job wait (defaults: 5s x 60 polls).
func NewSpeechClient(log *slog.Logger, baseURL, apiKey string, pollInterval time.Duration, maxPolls int) *SpeechClient {
	if log == nil {
		log = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if maxPolls <= 0 {
		maxPolls = 60
	}
	return &SpeechClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: pollInterval,
		maxPolls:     maxPolls,
		logger:       log.With(slog.String("client", "speech")),
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type jobRequest struct {
	AudioURL string `json:"audio_url"`
}

type jobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Text   string `json:"text"`
	Error  string `json:"error"`
}

// Transcribe uploads the audio, creates a transcription job and polls it to
// completion. The context bounds the whole cycle.
func (c *SpeechClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("speech base url not configured")
	}

	audioURL, err := c.upload(ctx, audio)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}

	job, err := c.createJob(ctx, audioURL)
	if err != nil {
		return "", fmt.Errorf("create transcription job: %w", err)
	}

	return c.waitForJob(ctx, job.ID)
}

func (c *SpeechClient) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.authorize(req)

	var decoded uploadResponse
	if err := c.do(req, &decoded); err != nil {
		return "", err
	}
	if decoded.UploadURL == "" {
		return "", fmt.Errorf("upload response missing url")
	}
	return decoded.UploadURL, nil
}

func (c *SpeechClient) createJob(ctx context.Context, audioURL string) (jobResponse, error) {
	payload, err := json.Marshal(jobRequest{AudioURL: audioURL})
	if err != nil {
		return jobResponse{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transcript", bytes.NewReader(payload))
	if err != nil {
		return jobResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	var decoded jobResponse
	if err := c.do(req, &decoded); err != nil {
		return jobResponse{}, err
	}
	if decoded.ID == "" {
		return jobResponse{}, fmt.Errorf("job response missing id")
	}
	return decoded, nil
}

// waitForJob polls the job until it completes, errors out or hits the poll
// limit. Context cancellation aborts between polls.
func (c *SpeechClient) waitForJob(ctx context.Context, jobID string) (string, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for poll := 0; poll < c.maxPolls; poll++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		job, err := c.getJob(ctx, jobID)
		if err != nil {
			return "", fmt.Errorf("poll transcription job: %w", err)
		}
		switch job.Status {
		case "completed":
			return strings.TrimSpace(job.Text), nil
		case "error", "failed":
			return "", fmt.Errorf("transcription job failed: %s", job.Error)
		}
		c.logger.Debug("transcription pending",
			slog.String("job_id", jobID), slog.String("status", job.Status), slog.Int("poll", poll+1))
	}
	return "", fmt.Errorf("%w after %d polls", ErrTranscriptionTimeout, c.maxPolls)
}

func (c *SpeechClient) getJob(ctx context.Context, jobID string) (jobResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+jobID, nil)
	if err != nil {
		return jobResponse{}, err
	}
	c.authorize(req)

	var decoded jobResponse
	if err := c.do(req, &decoded); err != nil {
		return jobResponse{}, err
	}
	return decoded, nil
}

func (c *SpeechClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}
}

func (c *SpeechClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("speech service status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
