package watcher

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/stepdocs/api/internal/service"
)

// EventHandler ingests one newly created file
type EventHandler func(ctx context.Context, path string) error

// Watcher turns video files dropped into a directory into jobs
type Watcher struct {
	dir       string
	handler   EventHandler
	watcher   *fsnotify.Watcher
	semaphore chan struct{}
	settle    time.Duration
	wg        sync.WaitGroup
}

// New watches dir and runs at most maxConcurrent handlers at once
func New(dir string, handler EventHandler, maxConcurrent int) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("add watch path: %w", err)
	}

	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}

	return &Watcher{
		dir:       dir,
		handler:   handler,
		watcher:   fw,
		semaphore: make(chan struct{}, maxConcurrent),
		settle:    500 * time.Millisecond,
	}, nil
}

// Start blocks until ctx is done or the underlying watcher closes
func (w *Watcher) Start(ctx context.Context) error {
	log.Printf("Watching %s for new videos", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				w.wg.Wait()
				return fmt.Errorf("watcher events channel closed")
			}
			if !event.Has(fsnotify.Create) || !isVideoFile(event.Name) {
				continue
			}

			select {
			case w.semaphore <- struct{}{}:
			case <-ctx.Done():
				w.wg.Wait()
				return ctx.Err()
			}

			w.wg.Add(1)
			go func(path string) {
				defer w.wg.Done()
				defer func() { <-w.semaphore }()
				w.handle(ctx, path)
			}(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.wg.Wait()
				return fmt.Errorf("watcher errors channel closed")
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string) {
	if err := w.waitStable(ctx, path); err != nil {
		if ctx.Err() == nil {
			log.Printf("Skipping %s: %v", path, err)
		}
		return
	}

	log.Printf("Ingesting %s", path)
	if err := w.handler(ctx, path); err != nil {
		log.Printf("Failed to ingest %s: %v", path, err)
	}
}

// waitStable returns once the file is non-empty and its size has not
// changed over one settle interval, so a video still being copied in is not
// ingested truncated.
func (w *Watcher) waitStable(ctx context.Context, path string) error {
	last := int64(-1)
	for {
		select {
		case <-time.After(w.settle):
		case <-ctx.Done():
			return ctx.Err()
		}

		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		size := info.Size()
		if size > 0 && size == last {
			return nil
		}
		last = size
	}
}

// Stop closes the underlying watcher
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func isVideoFile(path string) bool {
	return strings.HasPrefix(service.TypeByExtension(path), "video/")
}
