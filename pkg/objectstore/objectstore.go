// Package objectstore implements the object store facade: resolving a
// content-addressed file handle to a byte stream, writing result artifacts
// to disk, and exposing the URL path a client can fetch them from.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/formy/core/internal/apperr"
)

// Store resolves file handles under a root directory and serves them back
// under a public URL prefix.
type Store struct {
	rootDir   string
	urlPrefix string
}

// NewStore creates a Store rooted at rootDir, serving files under urlPrefix.
func NewStore(rootDir, urlPrefix string) *Store {
	return &Store{rootDir: rootDir, urlPrefix: urlPrefix}
}

// Resolve returns the local filesystem path for a file handle, verifying it
// exists and is readable.
func (s *Store) Resolve(ctx context.Context, fileID string) (string, error) {
	path, err := s.localPath(fileID)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", apperr.New(apperr.KindInvalidInput, "file handle does not resolve to a readable file")
		}
		return "", fmt.Errorf("statting file %q: %w", fileID, err)
	}

	return path, nil
}

// Open resolves fileID and opens it for reading.
func (s *Store) Open(ctx context.Context, fileID string) (io.ReadCloser, error) {
	path, err := s.Resolve(ctx, fileID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file %q: %w", fileID, err)
	}
	return f, nil
}

// WriteArtifact writes data under the given file handle and returns its
// public URL.
func (s *Store) WriteArtifact(ctx context.Context, handle string, data []byte) (url string, err error) {
	path, err := s.PreparePath(handle)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact %q: %w", handle, err)
	}

	return s.URLFor(handle), nil
}

// PreparePath returns the local filesystem path a handle will be written
// to, creating its parent directory so a caller can stream/download
// directly into it without a separate WriteArtifact call.
func (s *Store) PreparePath(handle string) (string, error) {
	path, err := s.localPath(handle)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	return path, nil
}

// URLFor returns the public URL path a client can fetch fileID from.
func (s *Store) URLFor(fileID string) string {
	return fmt.Sprintf("%s/%s", s.urlPrefix, fileID)
}

// localPath joins fileID onto the root directory, rejecting any handle that
// would escape it.
func (s *Store) localPath(fileID string) (string, error) {
	cleaned := filepath.Clean("/" + fileID)[1:]
	if cleaned == "" || cleaned == "." {
		return "", apperr.New(apperr.KindInvalidInput, "invalid file handle")
	}
	return filepath.Join(s.rootDir, cleaned), nil
}
