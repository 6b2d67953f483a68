// Package fswatch implements the abstract filesystem-change-notification
// capability the segment buffer depends on: watch(dir) -> stream of
// (path, kind) where kind is "created" or "closed-write". It is the one
// OS-specific dependency the buffer talks to only through this interface,
// so platform differences (inotify vs kqueue) never leak into the buffer.
package fswatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

// Kind distinguishes the two notifications the buffer cares about.
type Kind int

const (
	// Created fires as soon as a new file appears.
	Created Kind = iota
	// ClosedWrite fires once a file has gone quiet long enough that it is
	// very likely done being written.
	ClosedWrite
)

func (k Kind) String() string {
	if k == Created {
		return "created"
	}
	return "closed-write"
}

// Event is one filesystem notification.
type Event struct {
	Path string
	Kind Kind
}

// Watcher is the capability the segment buffer consumes.
type Watcher interface {
	Watch(ctx context.Context, dir string) (<-chan Event, error)
	Close() error
}

// FSNotifyWatcher implements Watcher on top of fsnotify. fsnotify itself
// does not expose a native "closed after write" event, so ClosedWrite is
// synthesized: a file is considered closed once quietPeriod elapses with
// no further Write events against it.
type FSNotifyWatcher struct {
	quietPeriod time.Duration
	limiter     *rate.Limiter

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timers  map[string]*time.Timer
}

// New creates a watcher that treats a file as closed-write after
// quietPeriod has passed with no new writes to it.
func New(quietPeriod time.Duration) *FSNotifyWatcher {
	return &FSNotifyWatcher{
		quietPeriod: quietPeriod,
		limiter:     rate.NewLimiter(rate.Limit(200), 200),
		timers:      make(map[string]*time.Timer),
	}
}

// Watch begins watching dir and returns a channel of events. The channel
// is closed when ctx is cancelled or Close is called.
func (w *FSNotifyWatcher) Watch(ctx context.Context, dir string) (<-chan Event, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w.mu.Lock()
	w.watcher = fsw
	w.mu.Unlock()

	out := make(chan Event, 64)

	go func() {
		defer close(out)
		defer fsw.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if !w.limiter.Allow() {
					continue
				}
				w.handle(ctx, ev, out)
			case _, ok := <-fsw.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, nil
}

func (w *FSNotifyWatcher) handle(ctx context.Context, ev fsnotify.Event, out chan<- Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		select {
		case out <- Event{Path: ev.Name, Kind: Created}:
		case <-ctx.Done():
		}
		w.armQuietTimer(ctx, ev.Name, out)
	case ev.Op&fsnotify.Write != 0:
		w.armQuietTimer(ctx, ev.Name, out)
	}
}

func (w *FSNotifyWatcher) armQuietTimer(ctx context.Context, path string, out chan<- Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, exists := w.timers[path]; exists {
		t.Stop()
	}

	w.timers[path] = time.AfterFunc(w.quietPeriod, func() {
		select {
		case out <- Event{Path: path, Kind: ClosedWrite}:
		case <-ctx.Done():
		}
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
	})
}

// Close stops the underlying fsnotify watcher and any pending timers.
func (w *FSNotifyWatcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)

	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
