package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/steveyegge/campaign/internal/store"
)

// EventKind tells what a watcher event carries.
type EventKind int

const (
	// EventMeta carries a "# key: value" line.
	EventMeta EventKind = iota
	// EventRow carries a data row.
	EventRow
	// EventReset means the stream was truncated, removed or replaced and
	// is read again from the start.
	EventReset
)

// String returns a human-readable representation of the kind.
func (k EventKind) String() string {
	switch k {
	case EventMeta:
		return "meta"
	case EventRow:
		return "row"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event is one change of a watched result stream.
type Event struct {
	Kind   EventKind
	Meta   store.Meta
	Header []string
	Values []string
}

// Row returns the values of a row event keyed by column. Values beyond
// the header are dropped.
func (e Event) Row() map[string]string {
	row := make(map[string]string, len(e.Header))
	for i, h := range e.Header {
		if i < len(e.Values) {
			row[h] = e.Values[i]
		}
	}
	return row
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Path is the result stream to follow. It does not need to exist yet.
	Path string

	// FromStart emits the content already in the file. Otherwise only
	// what is appended after Start is emitted.
	FromStart bool

	Logger *log.Logger
}

// Watcher follows a result stream while another process appends to it.
// It watches the parent directory so that a stream created or replaced
// after Start is picked up.
type Watcher struct {
	path      string
	fromStart bool
	logger    *log.Logger

	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Owned by the event loop.
	offset  int64
	partial []byte
	header  []string
}

// NewWatcher creates a watcher. It must be started with Start before it
// emits events.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watcher needs a path")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", cfg.Path, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		path:      path,
		fromStart: cfg.FromStart,
		logger:    logger,
		watcher:   fsw,
		events:    make(chan Event, 100),
		errors:    make(chan error, 10),
		done:      make(chan struct{}),
	}, nil
}

// Path returns the absolute path of the followed stream.
func (w *Watcher) Path() string { return w.path }

// Start begins watching.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	w.running = true
	w.wg.Add(1)
	go w.processEvents()
	return nil
}

// Stop stops watching and closes the Events and Errors channels. It blocks
// until the event loop has exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()

	close(w.events)
	close(w.errors)
	return nil
}

// Events returns the channel of stream changes. It is closed by Stop.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of read and watch errors. It is closed by
// Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	if !w.drain(w.fromStart) {
		return
	}

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				if !w.reset() {
					return
				}
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				if !w.drain(true) {
					return
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if !w.sendErr(err) {
				return
			}
		}
	}
}

func (w *Watcher) send(ev Event) bool {
	select {
	case w.events <- ev:
		return true
	case <-w.done:
		return false
	}
}

func (w *Watcher) sendErr(err error) bool {
	select {
	case w.errors <- err:
		return true
	case <-w.done:
		return false
	}
}

func (w *Watcher) reset() bool {
	w.offset = 0
	w.partial = nil
	w.header = nil
	return w.send(Event{Kind: EventReset})
}

// drain reads what was appended since the last call. With emit false the
// content only advances the offset and establishes the header.
func (w *Watcher) drain(emit bool) bool {
	f, err := os.Open(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return true
	}
	if err != nil {
		return w.sendErr(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return w.sendErr(err)
	}
	if info.Size() < w.offset {
		if !w.reset() {
			return false
		}
	}
	if _, err := f.Seek(w.offset, io.SeekStart); err != nil {
		return w.sendErr(err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return w.sendErr(err)
	}
	w.offset += int64(len(data))

	buf := append(w.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimRight(buf[:i], "\r"))
		buf = buf[i+1:]
		ev, ok, err := w.parse(line)
		if err != nil {
			if !w.sendErr(err) {
				return false
			}
			continue
		}
		if ok && emit && !w.send(ev) {
			return false
		}
	}
	w.partial = append([]byte(nil), buf...)
	return true
}

func (w *Watcher) parse(line string) (Event, bool, error) {
	if line == "" {
		return Event{}, false, nil
	}
	if line[0] == '#' {
		m, ok := store.ParseMetaLine(line)
		return Event{Kind: EventMeta, Meta: m}, ok, nil
	}
	values, err := store.SplitRow(line)
	if err != nil {
		return Event{}, false, fmt.Errorf("%s: %w", w.path, err)
	}
	if w.header == nil {
		w.header = values
		return Event{}, false, nil
	}
	return Event{Kind: EventRow, Header: w.header, Values: values}, true, nil
}

// RowData is the payload of row messages.
type RowData struct {
	Path string            `json:"path"`
	Row  map[string]string `json:"row"`
}

// Forward publishes the rows of w to out until ctx is done or the watcher
// stops. Errors are logged.
func Forward(ctx context.Context, w *Watcher, out Broadcaster, logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			if ev.Kind != EventRow {
				continue
			}
			msg, err := NewMessage(MessageTypeRow, RowData{Path: w.Path(), Row: ev.Row()})
			if err != nil {
				logger.Printf("Warning: %v", err)
				continue
			}
			out.Broadcast(msg)
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			logger.Printf("Watch error: %v", err)
		}
	}
}
