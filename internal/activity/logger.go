// Package activity implements the fire-and-forget audit sink. Callers hand
// over an event and move on; persistence happens on a background worker and
// every failure is swallowed after being logged. Nothing in this package
// may ever block or fail a request.
package activity

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openmetro/parcelview/internal/queue"
)

// Store is the durable side of the sink — in production the activity_log
// table via repository.ActivityRepo.
type Store interface {
	Insert(ctx context.Context, userID *uint64, eventType string, metadata []byte) error
}

type entry struct {
	eventType string
	userID    *uint64
	metadata  []byte
	at        time.Time
}

// Logger buffers audit events and drains them on a single background
// worker: one insert into activity_log plus one best-effort broker publish
// per event. When the buffer is full the event is dropped and counted —
// losing an audit line is preferable to stalling a login or a search.
type Logger struct {
	store   Store
	log     *zap.SugaredLogger
	publish bool
	done    chan struct{}

	mu     sync.Mutex
	ch     chan entry
	closed bool
}

// New starts the worker. publish controls whether events are also fanned
// out to the activity.logged queue; pass false when no broker is deployed.
func New(store Store, log *zap.SugaredLogger, publish bool) *Logger {
	l := &Logger{
		store:   store,
		log:     log,
		publish: publish,
		ch:      make(chan entry, 256),
		done:    make(chan struct{}),
	}
	go l.run()
	return l
}

// Log enqueues one audit fact. Metadata is marshalled here so the caller's
// map is not shared with the worker goroutine. Never blocks; events arriving
// after Close are dropped instead of panicking on the closed channel.
func (l *Logger) Log(eventType string, userID *uint64, metadata map[string]any) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		l.log.Warnw("activity: drop event with unmarshalable metadata", "event", eventType, "err", err)
		return
	}
	e := entry{eventType: eventType, userID: userID, metadata: raw, at: time.Now().UTC()}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.log.Warnw("activity: logger closed, dropping event", "event", eventType)
		return
	}
	select {
	case l.ch <- e:
	default:
		l.log.Warnw("activity: buffer full, dropping event", "event", eventType)
	}
}

// Close drains the buffer and stops the worker. Intended for shutdown;
// idempotent, and Log calls racing it are dropped rather than panicking.
func (l *Logger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.ch)
	l.mu.Unlock()
	<-l.done
}

func (l *Logger) run() {
	defer close(l.done)
	for e := range l.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := l.store.Insert(ctx, e.userID, e.eventType, e.metadata); err != nil {
			l.log.Warnw("activity: insert failed", "event", e.eventType, "err", err)
		}
		if l.publish {
			ev := queue.ActivityEvent{
				EventType:  e.eventType,
				UserID:     e.userID,
				Metadata:   e.metadata,
				OccurredAt: e.at.Format(time.RFC3339),
			}
			_ = queue.PublishActivity(ctx, ev) // best-effort, already logged inside
		}
		cancel()
	}
}
