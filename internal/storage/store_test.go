package storage

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCreateUniqueNames(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		path, err := s.Create([]byte("jpeg"))
		if err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
		if seen[path] {
			t.Fatalf("duplicate artifact path %s", path)
		}
		seen[path] = true
		if filepath.Dir(path) != s.Dir() || !strings.HasSuffix(path, ".jpg") {
			t.Fatalf("unexpected path %s", path)
		}
	}
}

func TestCreateFromRemovesOnFailure(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	boom := errors.New("boom")
	_, err = s.CreateFrom(func(w io.Writer) error {
		w.Write([]byte("partial"))
		return boom
	})
	if !errors.Is(err, ErrIO) || !errors.Is(err, boom) {
		t.Fatalf("expected ErrIO wrapping cause, got %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("partial artifact left behind: %v", entries)
	}
}

func TestOpenAndRemove(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	path, err := s.Create([]byte("hello"))
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	f, err := s.Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	data, _ := io.ReadAll(f)
	f.Close()
	if string(data) != "hello" {
		t.Fatalf("read %q", data)
	}

	if err := s.Remove(path); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if err := s.Remove(path); err != nil {
		t.Fatalf("second Remove() should be a no-op, got %v", err)
	}
	if _, err := s.Open(path); !errors.Is(err, ErrIO) {
		t.Fatalf("expected ErrIO opening removed artifact, got %v", err)
	}
}
