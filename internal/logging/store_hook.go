package logging

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogSink persists log lines, e.g. the bot_logs table
type LogSink interface {
	SaveLog(ctx context.Context, level, message string) error
}

// StoreHook mirrors log events at or above MinLevel into a LogSink.
// Writes happen on a background goroutine; when the buffer is full
// entries are dropped rather than blocking the caller.
type StoreHook struct {
	sink     LogSink
	minLevel zerolog.Level
	entries  chan logLine
	done     chan struct{}
	mu       sync.RWMutex
	closed   bool
}

type logLine struct {
	level   string
	message string
}

// NewStoreHook starts the background writer
func NewStoreHook(sink LogSink, minLevel zerolog.Level) *StoreHook {
	h := &StoreHook{
		sink:     sink,
		minLevel: minLevel,
		entries:  make(chan logLine, 256),
		done:     make(chan struct{}),
	}
	go h.run()
	return h
}

// Run implements zerolog.Hook
func (h *StoreHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level < h.minLevel || msg == "" {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.entries <- logLine{level: level.String(), message: msg}:
	default:
	}
}

func (h *StoreHook) run() {
	defer close(h.done)
	for line := range h.entries {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		// sink errors are swallowed; logging them would loop back here
		_ = h.sink.SaveLog(ctx, line.level, line.message)
		cancel()
	}
}

// Close flushes pending entries and stops the writer
func (h *StoreHook) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.entries)
	h.mu.Unlock()
	<-h.done
}
