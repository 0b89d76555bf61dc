package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"chat-core/internal/models"
)

// ProgressFunc reports upload progress as bytes written out of total; total
// is negative when unknown.
type ProgressFunc func(written, total int64)

// ObjectStorage is the external binary-storage collaborator. Paths are
// namespaced by conversation or user id so uploads cannot collide.
type ObjectStorage interface {
	Put(ctx context.Context, objectPath string, r io.Reader, total int64, progress ProgressFunc) (url string, err error)
	Delete(ctx context.Context, objectPath string) error
}

// FileStorage is the local reference implementation: objects live under a
// root directory and are served back over the /files/ route.
type FileStorage struct {
	root    string
	baseURL string
}

func NewFileStorage(root, baseURL string) (*FileStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &FileStorage{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (s *FileStorage) Put(ctx context.Context, objectPath string, r io.Reader, total int64, progress ProgressFunc) (string, error) {
	clean, err := s.cleanPath(objectPath)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUpload, err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrUpload, err)
	}
	defer f.Close()

	var written int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			os.Remove(dst)
			return "", fmt.Errorf("%w: %v", models.ErrUpload, err)
		}

		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				os.Remove(dst)
				return "", fmt.Errorf("%w: %v", models.ErrUpload, err)
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			os.Remove(dst)
			return "", fmt.Errorf("%w: %v", models.ErrUpload, readErr)
		}
	}

	return s.baseURL + "/files/" + clean, nil
}

func (s *FileStorage) Delete(ctx context.Context, objectPath string) error {
	clean, err := s.cleanPath(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(clean))); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Root is the directory the file-serving route exposes.
func (s *FileStorage) Root() string { return s.root }

func (s *FileStorage) cleanPath(objectPath string) (string, error) {
	clean := path.Clean("/" + objectPath)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." || strings.Contains(clean, "..") {
		return "", fmt.Errorf("%w: invalid object path %q", models.ErrValidation, objectPath)
	}
	return clean, nil
}
