package profiling

import (
	"context"
	"sync"
	"time"
)

// EventKind tells a span start from a span end.
type EventKind int

const (
	Begin EventKind = iota
	End
)

// Event is one recorded span boundary.
type Event struct {
	Kind EventKind
	Name string
	At   time.Time
	Err  error
}

// Recorder keeps span boundaries in memory, in the order they happened. It
// is meant for tests and debugging sessions.
type Recorder struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

// NewRecorder keeps at most limit events; zero means unlimited.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) add(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && len(r.events) >= r.limit {
		copy(r.events, r.events[1:])
		r.events = r.events[:len(r.events)-1]
	}
	r.events = append(r.events, ev)
}

// BeginSpan records a Begin event.
func (r *Recorder) BeginSpan(ctx context.Context, name string) (context.Context, Span) {
	r.add(Event{Kind: Begin, Name: name, At: time.Now()})
	return ctx, &recordedSpan{r: r, name: name}
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type recordedSpan struct {
	r    *Recorder
	name string
	once sync.Once
}

func (s *recordedSpan) End(err error) {
	s.once.Do(func() {
		s.r.add(Event{Kind: End, Name: s.name, At: time.Now(), Err: err})
	})
}
