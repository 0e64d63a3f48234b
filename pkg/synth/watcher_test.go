package synth

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestWatcherRerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	tree := filepath.Join(dir, "tree.cue")
	policies := filepath.Join(dir, "policies")
	output := filepath.Join(policies, "out.json")
	writeFile(t, tree, `app: {id: "App", type: "core.App"}`)
	writeFile(t, filepath.Join(policies, "a.rego"), "package a\n")

	var runs atomic.Int32
	changed := make(chan struct{}, 8)
	w, err := NewWatcher([]string{tree, policies}, func(context.Context) error {
		runs.Add(1)
		changed <- struct{}{}
		return nil
	}, WithDebounce(50*time.Millisecond), WithIgnore(output))
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	wait := func(what string) {
		t.Helper()
		select {
		case <-changed:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", what)
		}
	}

	wait("initial pass")

	writeFile(t, tree, `app: {id: "App", type: "core.App", props: x: 1}`)
	wait("tree change")

	writeFile(t, filepath.Join(policies, "b.rego"), "package b\n")
	wait("policy change")

	// ignored and unrelated files do not trigger a pass
	before := runs.Load()
	writeFile(t, output, "{}")
	writeFile(t, filepath.Join(dir, "notes.txt"), "hi")
	time.Sleep(200 * time.Millisecond)
	if got := runs.Load(); got != before {
		t.Errorf("expected no extra pass, got %d more", got-before)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch returned %v", err)
	}
}

func TestWatcherRejectsMissingPath(t *testing.T) {
	_, err := NewWatcher([]string{filepath.Join(t.TempDir(), "missing.cue")}, func(context.Context) error { return nil })
	if err == nil {
		t.Error("expected error for missing path")
	}
}
