package etl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"quizbank/internal/logger"

	"github.com/fsnotify/fsnotify"
)

type runner interface {
	Run(ctx context.Context, in RunInput) (*RunResult, error)
}

type Watcher struct {
	dir      string
	run      runner
	author   string
	debounce time.Duration
	log      *logger.Logger
}

func NewWatcher(p *Pipeline, author string, debounce time.Duration, log *logger.Logger) *Watcher {
	return newWatcher(p.InboxDir(), p, author, debounce, log)
}

func newWatcher(dir string, r runner, author string, debounce time.Duration, log *logger.Logger) *Watcher {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Watcher{dir: dir, run: r, author: author, debounce: debounce, log: log}
}

// Watch runs the pipeline once the inbox has been quiet for the debounce
// period after a supported file was created or written. It returns when ctx
// is cancelled.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create inbox: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch inbox: %w", err)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	w.log.Info("watching inbox", "dir", w.dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !isSupportedExt(ev.Name) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("inbox watcher error", "error", err)
		case <-timer.C:
			res, err := w.run.Run(ctx, RunInput{Author: w.author})
			switch {
			case errors.Is(err, ErrEmptyInput):
				w.log.Warn("inbox import had no valid rows")
			case err != nil:
				w.log.Error("inbox import failed", "error", err)
			default:
				w.log.Info("inbox import done", "accepted", res.Accepted, "rejected", res.Rejected, "total", res.Total)
			}
		}
	}
}
