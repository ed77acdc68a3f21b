package clients

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestOCRDetectText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/text:detect" {
			http.NotFound(w, r)
			return
		}
		var req ocrRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Feature != "TEXT_DETECTION" || req.Image == "" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"text_annotations": []map[string]string{
				{"description": "detected text"},
				{"description": "detected"},
			},
		})
	}))
	defer srv.Close()

	c := NewOCRClient(testLogger(), srv.URL, "key", 5*time.Second)
	text, err := c.DetectText(context.Background(), []byte("image bytes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "detected text" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestOCRNoTextDetected(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"text_annotations": []any{}})
	}))
	defer srv.Close()

	c := NewOCRClient(testLogger(), srv.URL, "", 5*time.Second)
	text, err := c.DetectText(context.Background(), []byte("blank"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty text, got %q", text)
	}
}

func TestSpeechTranscribe(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"upload_url": srv.URL + "/audio/1"})
	})
	mux.HandleFunc("/v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	})
	mux.HandleFunc("/v2/transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "processing"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "completed", "text": "hello world"})
	})

	c := NewSpeechClient(testLogger(), srv.URL, "key", 10*time.Millisecond, 10)
	text, err := c.Transcribe(context.Background(), []byte("audio"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("unexpected text: %q", text)
	}
	if polls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", polls.Load())
	}
}

func TestSpeechTranscribeTimesOut(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"upload_url": srv.URL + "/audio/1"})
	})
	mux.HandleFunc("/v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	})
	mux.HandleFunc("/v2/transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "processing"})
	})

	c := NewSpeechClient(testLogger(), srv.URL, "", time.Millisecond, 3)
	_, err := c.Transcribe(context.Background(), []byte("audio"))
	if !errors.Is(err, ErrTranscriptionTimeout) {
		t.Fatalf("expected ErrTranscriptionTimeout, got %v", err)
	}
}

func TestSpeechTranscribeJobError(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/v2/upload", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"upload_url": srv.URL + "/audio/1"})
	})
	mux.HandleFunc("/v2/transcript", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "queued"})
	})
	mux.HandleFunc("/v2/transcript/job-1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "error", "error": "unsupported codec"})
	})

	c := NewSpeechClient(testLogger(), srv.URL, "", time.Millisecond, 3)
	_, err := c.Transcribe(context.Background(), []byte("audio"))
	if err == nil || errors.Is(err, ErrTranscriptionTimeout) {
		t.Fatalf("expected job error, got %v", err)
	}
}

func TestRenderPage(t *testing.T) {
	t.Parallel()

	image := []byte{0x89, 0x50, 0x4E, 0x47}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req renderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Page != 2 || req.Scale != 2.0 {
			http.Error(w, "unexpected params", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"image": base64.StdEncoding.EncodeToString(image),
		})
	}))
	defer srv.Close()

	c := NewRenderClient(testLogger(), srv.URL, 5*time.Second)
	got, err := c.RenderPage(context.Background(), []byte("%PDF-1.4"), 2, 2.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != string(image) {
		t.Fatalf("unexpected image bytes: %v", got)
	}
}

func TestDriveResolveDownloadURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/files/drv-9" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"download_url": "https://drive.example/dl/drv-9"})
	}))
	defer srv.Close()

	c := NewDriveClient(testLogger(), srv.URL, "key")
	url, err := c.ResolveDownloadURL(context.Background(), "drv-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://drive.example/dl/drv-9" {
		t.Fatalf("unexpected url: %q", url)
	}
}
