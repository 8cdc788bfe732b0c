package etl

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []RunInput
	done  chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, in)
	f.mu.Unlock()
	select {
	case f.done <- struct{}{}:
	default:
	}
	return &RunResult{Accepted: 1, Total: 1}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestWatcherDebouncesInboxWrites(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := filepath.Join(t.TempDir(), "in")
	r := &fakeRunner{done: make(chan struct{}, 1)}
	w := newWatcher(dir, r, "watcher", 150*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Watch(ctx) }()

	// Give the watcher time to register the directory.
	require.Eventually(t, func() bool { return dirExists(dir) }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "a.csv", csvHeader)
	writeFile(t, dir, "b.csv", csvHeader)

	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never ran the pipeline")
	}
	time.Sleep(300 * time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
	require.Equal(t, 1, r.count(), "burst of writes should trigger one run")
	require.Equal(t, "watcher", r.calls[0].Author)
}

func TestWatcherStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := newWatcher(filepath.Join(t.TempDir(), "in"), &fakeRunner{done: make(chan struct{}, 1)}, "", 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, w.Watch(ctx))
}
