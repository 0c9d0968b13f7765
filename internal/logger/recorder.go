package logger

import (
	"context"
	"sync"
	"time"
)

// RecordedEntry is one entry captured by a Recorder
type RecordedEntry struct {
	Time      time.Time
	Level     LogLevel
	Message   string
	Component Component
	Source    LogSource
	Fields    map[string]interface{}
}

// Recorder is a Logger that keeps entries in memory.
// Loggers derived with With* share the same entry list.
type Recorder struct {
	store      *recordStore
	baseFields map[string]interface{}
	component  Component
	source     LogSource
}

type recordStore struct {
	mu      sync.Mutex
	entries []RecordedEntry
	notify  chan struct{}
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{
		store: &recordStore{notify: make(chan struct{}, 1)},
	}
}

func (r *Recorder) Debug(msg string, args ...interface{}) {
	r.record(context.Background(), LevelDebug, msg, args)
}

func (r *Recorder) Info(msg string, args ...interface{}) {
	r.record(context.Background(), LevelInfo, msg, args)
}

func (r *Recorder) Warn(msg string, args ...interface{}) {
	r.record(context.Background(), LevelWarn, msg, args)
}

func (r *Recorder) Error(msg string, args ...interface{}) {
	r.record(context.Background(), LevelError, msg, args)
}

func (r *Recorder) DebugContext(ctx context.Context, msg string, args ...interface{}) {
	r.record(ctx, LevelDebug, msg, args)
}

func (r *Recorder) InfoContext(ctx context.Context, msg string, args ...interface{}) {
	r.record(ctx, LevelInfo, msg, args)
}

func (r *Recorder) WarnContext(ctx context.Context, msg string, args ...interface{}) {
	r.record(ctx, LevelWarn, msg, args)
}

func (r *Recorder) ErrorContext(ctx context.Context, msg string, args ...interface{}) {
	r.record(ctx, LevelError, msg, args)
}

func (r *Recorder) WithFields(fields map[string]interface{}) Logger {
	clone := *r
	clone.baseFields = mergeFields(r.baseFields, fields)
	return &clone
}

func (r *Recorder) WithComponent(component Component) Logger {
	clone := *r
	clone.component = component
	return &clone
}

func (r *Recorder) WithSource(source LogSource) Logger {
	clone := *r
	clone.source = source
	return &clone
}

func (r *Recorder) Close() error { return nil }

func (r *Recorder) record(ctx context.Context, level LogLevel, msg string, args []interface{}) {
	entry := RecordedEntry{
		Time:      time.Now(),
		Level:     level,
		Message:   msg,
		Component: r.component,
		Source:    r.source,
		Fields:    buildFields(ctx, r.baseFields, args),
	}

	r.store.mu.Lock()
	r.store.entries = append(r.store.entries, entry)
	r.store.mu.Unlock()

	select {
	case r.store.notify <- struct{}{}:
	default:
	}
}

// Entries returns a copy of everything recorded so far
func (r *Recorder) Entries() []RecordedEntry {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	out := make([]RecordedEntry, len(r.store.entries))
	copy(out, r.store.entries)
	return out
}

// Find returns the entries with the given level and message
func (r *Recorder) Find(level LogLevel, msg string) []RecordedEntry {
	var out []RecordedEntry
	for _, e := range r.Entries() {
		if e.Level == level && e.Message == msg {
			out = append(out, e)
		}
	}
	return out
}

// WaitFor blocks until an entry with the given level and message is recorded or the timeout
// elapses. It returns the first match.
func (r *Recorder) WaitFor(level LogLevel, msg string, timeout time.Duration) (RecordedEntry, bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if found := r.Find(level, msg); len(found) > 0 {
			return found[0], true
		}
		select {
		case <-r.store.notify:
		case <-deadline.C:
			if found := r.Find(level, msg); len(found) > 0 {
				return found[0], true
			}
			return RecordedEntry{}, false
		}
	}
}

var _ Logger = (*Recorder)(nil)
