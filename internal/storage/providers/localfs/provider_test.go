package localfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/textmill/textmill/internal/storage"
)

func TestStoreAndDelete(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	p, err := New(root, "https://files.example")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	url, err := p.Store(context.Background(), "pdf/wh-1/original.pdf", "application/pdf", []byte("%PDF"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if url != "https://files.example/pdf/wh-1/original.pdf" {
		t.Fatalf("unexpected url: %q", url)
	}

	data, err := os.ReadFile(filepath.Join(root, "pdf", "wh-1", "original.pdf"))
	if err != nil {
		t.Fatalf("read stored object: %v", err)
	}
	if string(data) != "%PDF" {
		t.Fatalf("unexpected content: %q", data)
	}

	if err := p.Delete(context.Background(), "pdf/wh-1/original.pdf"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "pdf", "wh-1", "original.pdf")); !os.IsNotExist(err) {
		t.Fatalf("object still exists after delete")
	}
}

func TestStoreRejectsTraversal(t *testing.T) {
	t.Parallel()

	p, err := New(t.TempDir(), "https://files.example")
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = p.Store(context.Background(), "../outside.bin", "", []byte("x"))
	if !errors.Is(err, storage.ErrPathTraversal) {
		t.Fatalf("expected ErrPathTraversal, got %v", err)
	}
}
