package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewRejectsEmptyInputs(t *testing.T) {
	if _, err := New("", func() error { return nil }); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := New("/tmp/rules.yaml", nil); err == nil {
		t.Fatalf("expected error for nil callback")
	}
}

func TestReloadFiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("configs: []\n"), 0600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	var calls atomic.Int64
	rw, err := New(path, func() error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := rw.Start(context.Background()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer func() { _ = rw.Stop() }()

	if err := os.WriteFile(path, []byte("configs: []\n# updated\n"), 0600); err != nil {
		t.Fatalf("rewrite rules: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("reload callback never fired")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestUnrelatedFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("configs: []\n"), 0600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	var calls atomic.Int64
	rw, err := New(path, func() error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := rw.Start(context.Background()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	defer func() { _ = rw.Stop() }()

	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(other, []byte("scratch\n"), 0600); err != nil {
		t.Fatalf("write other file: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	if got := calls.Load(); got != 0 {
		t.Fatalf("expected no reloads for unrelated file, got %d", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(path, []byte("configs: []\n"), 0600); err != nil {
		t.Fatalf("write rules: %v", err)
	}

	rw, err := New(path, func() error { return nil })
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := rw.Start(context.Background()); err != nil {
		t.Fatalf("start watcher: %v", err)
	}
	if err := rw.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := rw.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}
