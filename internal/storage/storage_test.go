package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"chat-core/internal/models"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	s, err := NewFileStorage(t.TempDir(), "http://localhost:8080/")
	if err != nil {
		t.Fatalf("NewFileStorage: %v", err)
	}
	return s
}

func TestPutWritesFileAndReturnsURL(t *testing.T) {
	s := newTestStorage(t)
	body := []byte("hello attachment")

	var calls int
	var lastWritten, lastTotal int64
	url, err := s.Put(context.Background(), "chatFiles/general/hello.txt",
		bytes.NewReader(body), int64(len(body)), func(written, total int64) {
			calls++
			lastWritten, lastTotal = written, total
		})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if url != "http://localhost:8080/files/chatFiles/general/hello.txt" {
		t.Fatalf("url = %q", url)
	}

	got, err := os.ReadFile(filepath.Join(s.Root(), "chatFiles", "general", "hello.txt"))
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("stored %q, want %q", got, body)
	}

	if calls == 0 || lastWritten != int64(len(body)) || lastTotal != int64(len(body)) {
		t.Fatalf("progress calls=%d written=%d total=%d", calls, lastWritten, lastTotal)
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	s := newTestStorage(t)

	for _, p := range []string{"../outside.txt", "a/../../outside.txt", "", "."} {
		_, err := s.Put(context.Background(), p, bytes.NewReader([]byte("x")), 1, nil)
		if !errors.Is(err, models.ErrValidation) {
			t.Fatalf("Put(%q) err = %v, want validation error", p, err)
		}
	}
}

func TestPutAbortsOnCancelledContext(t *testing.T) {
	s := newTestStorage(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "chatFiles/general/a.txt", bytes.NewReader([]byte("x")), 1, nil)
	if !errors.Is(err, models.ErrUpload) {
		t.Fatalf("err = %v, want upload error", err)
	}
	if _, statErr := os.Stat(filepath.Join(s.Root(), "chatFiles", "general", "a.txt")); !os.IsNotExist(statErr) {
		t.Fatal("partial file left behind after cancelled upload")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "avatars/u1/a.png", bytes.NewReader([]byte("png")), 3, nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "avatars/u1/a.png"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), "avatars", "u1", "a.png")); !os.IsNotExist(err) {
		t.Fatal("file still present after delete")
	}

	// Deleting an absent object is not an error.
	if err := s.Delete(ctx, "avatars/u1/missing.png"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
}
