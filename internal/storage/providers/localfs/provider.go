// Package localfs implements storage.ObjectStore on a local directory tree,
// serving archived binaries from a configured public base URL.
package localfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/textmill/textmill/internal/storage"
)

// Provider stores archived binaries under a root directory.
type Provider struct {
	root      string
	publicURL string
}

// New creates a filesystem-backed object store. publicURL is the base under
// which stored keys are reachable by consumers.
func New(root, publicURL string) (*Provider, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &Provider{
		root:      abs,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Store writes data under key and returns its public URL.
func (p *Provider) Store(_ context.Context, key, _ string, data []byte) (string, error) {
	dest, err := p.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write object: %w", err)
	}
	return p.publicURL + "/" + filepath.ToSlash(filepath.Clean(key)), nil
}

// Delete removes the object at key.
func (p *Provider) Delete(_ context.Context, key string) error {
	dest, err := p.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (p *Provider) path(key string) (string, error) {
	clean := filepath.Clean(key)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", storage.ErrPathTraversal, key)
	}
	return filepath.Join(p.root, clean), nil
}
