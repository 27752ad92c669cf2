// Package events delivers session lifecycle events to registered handlers.
// It is the explicit publish/subscribe replacement for the reactive
// view-state the UI observes: the manager emits an event on every state
// change and interested code subscribes with a handler.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Actions emitted by the session manager.
const (
	ActionSignedIn       = "signed_in"
	ActionSignedOut      = "signed_out"
	ActionGuestCreated   = "guest_created"
	ActionUpgraded       = "upgraded"
	ActionDeleted        = "account_deleted"
	ActionUploadRecorded = "upload_recorded"
	ActionReconciled     = "reconciled"
	ActionPurchase       = "purchase"
)

// Event is one session lifecycle occurrence.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	UserID    string    `json:"user_id,omitempty"`
	Guest     bool      `json:"guest,omitempty"`
	Result    string    `json:"result"` // success, failure
	Details   string    `json:"details,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Handler processes events. Handlers run on the logger's dispatch goroutine
// and should not block.
type Handler func(event Event)

// Logger emits events to configured handlers through a buffered queue, so
// emission never blocks a session operation.
type Logger struct {
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	closed   sync.Once
	wg       sync.WaitGroup
}

// Option configures Logger behavior.
type Option func(*Logger)

// WithStdoutHandler adds a handler that writes JSON events to stdout.
func WithStdoutHandler() Option {
	return func(l *Logger) {
		l.AddHandler(func(e Event) {
			data, _ := json.Marshal(e)
			fmt.Fprintf(os.Stdout, "%s\n", data)
		})
	}
}

// WithHandler adds a custom event handler.
func WithHandler(h Handler) Option {
	return func(l *Logger) {
		l.AddHandler(h)
	}
}

// New creates an event logger with buffered async emission.
// bufferSize: event queue buffer size (default: 256).
func New(bufferSize int, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = 256
	}

	logger := &Logger{
		handlers: make([]Handler, 0),
		queue:    make(chan Event, bufferSize),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(logger)
	}

	logger.wg.Add(1)
	go logger.process()

	return logger
}

// AddHandler adds a handler to receive events. Call before events start
// flowing; handlers are not synchronized against Emit.
func (l *Logger) AddHandler(h Handler) {
	l.handlers = append(l.handlers, h)
}

// Emit queues an event asynchronously. Events emitted during shutdown, or
// past a full buffer, are dropped.
func (l *Logger) Emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case l.queue <- event:
	case <-l.done:
	default:
	}
}

func (l *Logger) process() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.queue:
			for _, h := range l.handlers {
				h(event)
			}
		case <-l.done:
			// Drain remaining events.
			for {
				select {
				case event := <-l.queue:
					for _, h := range l.handlers {
						h(event)
					}
				default:
					return
				}
			}
		}
	}
}

// Close flushes pending events and stops the logger. Idempotent.
func (l *Logger) Close() error {
	l.closed.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}
