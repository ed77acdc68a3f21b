package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestFetchBinary(t *testing.T) {
	t.Parallel()

	payload := []byte("%PDF-1.7 binary content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f := NewFetcher(testLogger(), 5*time.Second)
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Body) != string(payload) {
		t.Fatalf("unexpected body: %q", res.Body)
	}
	if res.ContentType != "application/pdf" {
		t.Fatalf("unexpected content type: %q", res.ContentType)
	}
	if res.Redirected {
		t.Fatalf("unexpected redirect flag")
	}
}

func TestFetchFollowsMetaRefresh(t *testing.T) {
	t.Parallel()

	payload := []byte("\x89PNG\r\n\x1a\nimage bytes")
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/real", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	})
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `<html><head><meta http-equiv="refresh" content="0; url='%s/real'"></head></html>`, srv.URL)
	})

	f := NewFetcher(testLogger(), 5*time.Second)
	res, err := f.Fetch(context.Background(), srv.URL+"/short")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Redirected {
		t.Fatalf("expected redirect flag")
	}
	if string(res.Body) != string(payload) {
		t.Fatalf("unexpected body: %q", res.Body)
	}
}

func TestFetchMetaRefreshDoubleQuotes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/real", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ID3 audio bytes"))
	})
	mux.HandleFunc("/short", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<meta http-equiv="refresh" content="0; url=%q">`, srv.URL+"/real")
	})

	f := NewFetcher(testLogger(), 5*time.Second)
	res, err := f.Fetch(context.Background(), srv.URL+"/short")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Redirected {
		t.Fatalf("expected redirect flag")
	}
	if !strings.HasPrefix(string(res.Body), "ID3") {
		t.Fatalf("unexpected body: %q", res.Body)
	}
}

func TestFetchHTMLWithoutTargetIsReturnedAsIs(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>no refresh here</body></html>"))
	}))
	defer srv.Close()

	f := NewFetcher(testLogger(), 5*time.Second)
	res, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Redirected {
		t.Fatalf("unexpected redirect flag")
	}
	if !strings.Contains(string(res.Body), "no refresh") {
		t.Fatalf("unexpected body: %q", res.Body)
	}
}

func TestFetchNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	f := NewFetcher(testLogger(), 5*time.Second)
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected error for non-2xx response")
	}
}

func TestSniffTypeFallsBackToMagicBytes(t *testing.T) {
	t.Parallel()

	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	if got := sniffType(png, ""); !strings.HasPrefix(got, "image/png") {
		t.Fatalf("sniffType = %q, want image/png", got)
	}
	if got := sniffType(png, "application/octet-stream"); !strings.HasPrefix(got, "image/png") {
		t.Fatalf("sniffType = %q, want image/png", got)
	}
	if got := sniffType(png, "image/x-custom"); got != "image/x-custom" {
		t.Fatalf("declared type should win, got %q", got)
	}
}
