// Package watcher observes iteration status files under the task tree and
// publishes debounced change events. The engine's other components never
// talk to subscribers directly; everything flows through the event bus.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"

	"github.com/taskweave/taskweave/internal/event"
	"github.com/taskweave/taskweave/internal/iteration"
)

type EventType string

const (
	EventAdd    EventType = "add"
	EventChange EventType = "change"
	EventUnlink EventType = "unlink"
	EventError  EventType = "error"
)

// Event is one observation of a status file. Parse failures are delivered
// with Error set rather than dropped: subscribers always see something for
// every filesystem change.
type Event struct {
	Type      EventType         `json:"type"`
	TaskID    int               `json:"taskId"`
	Iteration int               `json:"iteration"`
	Data      *iteration.Status `json:"data,omitempty"`
	FilePath  string            `json:"filePath"`
	Timestamp time.Time         `json:"timestamp"`
	Error     string            `json:"error,omitempty"`
}

const (
	statusFileName = "status.json"
	// DefaultDebounce is the per-path window that collapses a burst of
	// writes into one event.
	DefaultDebounce = 300 * time.Millisecond
	// stabilizeWindow delays a read until the file has stopped changing,
	// the mitigation for readers racing a writer mid-write.
	stabilizeWindow = 100 * time.Millisecond
	// rootPollInterval is how often a missing watch root is re-checked.
	rootPollInterval = 500 * time.Millisecond
)

// Watcher observes <root>/tasks/<id>/iterations/<n>/status.json. One
// instance per process, with an explicit Start/Stop lifecycle owned by the
// top-level wiring.
type Watcher struct {
	root     string
	bus      *event.Bus
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	seen    map[string]bool
	started bool
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
}

func New(root string, bus *event.Bus, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		root:     root,
		bus:      bus,
		debounce: debounce,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
		seen:     make(map[string]bool),
	}
}

func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg = conc.NewWaitGroup()
	w.started = true
	w.wg.Go(func() {
		w.run(ctx)
	})
	return nil
}

func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	w.cancel()
	for path, timer := range w.timers {
		timer.Stop()
		delete(w.timers, path)
	}
	wg := w.wg
	w.mu.Unlock()
	wg.Wait()
}

// Events subscribes to every status event. The channel closes when ctx is
// canceled.
func (w *Watcher) Events(ctx context.Context) (<-chan Event, error) {
	return event.SubscribeTyped[Event](ctx, w.bus, event.TopicStatus)
}

// TaskEvents is the per-task filtered view.
func (w *Watcher) TaskEvents(ctx context.Context, taskID int) (<-chan Event, error) {
	return event.SubscribeTyped[Event](ctx, w.bus, event.TaskStatusTopic(taskID))
}

func (w *Watcher) run(ctx context.Context) {
	tasksDir := filepath.Join(w.root, "tasks")

	// The task tree may not exist yet. Produce no events until it does;
	// never crash.
	for {
		if info, err := os.Stat(tasksDir); err == nil && info.IsDir() {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(rootPollInterval):
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("failed to create fsnotify watcher", "error", err)
		w.publishError("", err)
		return
	}
	defer fsw.Close()

	if err := w.addRecursive(fsw, tasksDir); err != nil {
		w.logger.Error("failed to watch task tree", "dir", tasksDir, "error", err)
		w.publishError("", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("fsnotify error", "error", err)
			w.publishError("", err)
		}
	}
}

// addRecursive watches dir and every subdirectory, and schedules add
// events for status files that already exist.
func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				w.logger.Warn("failed to watch directory", "dir", path, "error", err)
			}
			return nil
		}
		if filepath.Base(path) == statusFileName {
			w.scheduleEmit(path)
		}
		return nil
	})
}

func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			// New task or iteration directory appeared.
			if err := w.addRecursive(fsw, ev.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", ev.Name, "error", err)
			}
			return
		}
	}

	if filepath.Base(ev.Name) != statusFileName {
		return
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.scheduleEmit(ev.Name)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.cancelPending(ev.Name)
		w.emitUnlink(ev.Name)
	}
}

// scheduleEmit debounces per path: concurrently running tasks never hold
// back each other's events, while a burst of writes to one file collapses
// into a single event.
func (w *Watcher) scheduleEmit(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.emitChange(path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.timers[path]; ok {
		timer.Stop()
		delete(w.timers, path)
	}
}

func (w *Watcher) emitChange(path string) {
	waitForWriteFinished(path)

	taskID, iter, err := parseStatusPath(w.root, path)
	if err != nil {
		w.logger.Warn("ignoring status file with unexpected path", "path", path, "error", err)
		return
	}

	w.mu.Lock()
	eventType := EventChange
	if !w.seen[path] {
		eventType = EventAdd
		w.seen[path] = true
	}
	w.mu.Unlock()

	ev := Event{
		Type:      eventType,
		TaskID:    taskID,
		Iteration: iter,
		FilePath:  path,
		Timestamp: time.Now(),
	}

	data, readErr := os.ReadFile(path)
	if readErr != nil {
		ev.Error = readErr.Error()
	} else {
		var st iteration.Status
		if parseErr := json.Unmarshal(data, &st); parseErr != nil {
			ev.Error = fmt.Sprintf("failed to parse status file: %v", parseErr)
		} else {
			ev.Data = &st
		}
	}

	w.publish(ev)
}

func (w *Watcher) emitUnlink(path string) {
	taskID, iter, err := parseStatusPath(w.root, path)
	if err != nil {
		return
	}
	w.mu.Lock()
	delete(w.seen, path)
	w.mu.Unlock()
	w.publish(Event{
		Type:      EventUnlink,
		TaskID:    taskID,
		Iteration: iter,
		FilePath:  path,
		Timestamp: time.Now(),
	})
}

func (w *Watcher) publishError(path string, err error) {
	w.publish(Event{
		Type:      EventError,
		FilePath:  path,
		Timestamp: time.Now(),
		Error:     err.Error(),
	})
}

func (w *Watcher) publish(ev Event) {
	if err := w.bus.Publish(event.TopicStatus, ev); err != nil {
		w.logger.Warn("failed to publish watch event", "error", err)
	}
	if ev.TaskID > 0 {
		if err := w.bus.Publish(event.TaskStatusTopic(ev.TaskID), ev); err != nil {
			w.logger.Warn("failed to publish watch event", "error", err)
		}
	}
}

// waitForWriteFinished holds the read back until the file size stays put
// for one stabilization window. Writers use atomic renames, but status
// files are written by external agent processes that may not.
func waitForWriteFinished(path string) {
	var lastSize int64 = -1
	for i := 0; i < 5; i++ {
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.Size() == lastSize {
			return
		}
		lastSize = info.Size()
		time.Sleep(stabilizeWindow)
	}
}

// parseStatusPath extracts task id and iteration number from
// <root>/tasks/<id>/iterations/<n>/status.json.
func parseStatusPath(root, path string) (int, int, error) {
	rel, err := filepath.Rel(filepath.Join(root, "tasks"), path)
	if err != nil {
		return 0, 0, err
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 4 || parts[1] != "iterations" || parts[3] != statusFileName {
		return 0, 0, fmt.Errorf("not an iteration status path: %s", rel)
	}
	taskID, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid task id %q: %w", parts[0], err)
	}
	iter, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid iteration %q: %w", parts[2], err)
	}
	return taskID, iter, nil
}
