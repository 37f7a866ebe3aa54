package audit

import (
	"context"
	"sort"
	"sync"
)

// Recorder keeps events in memory. It backs tests and the memory store mode.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	nextID int64
	err    error
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes every subsequent Log return err; nil restores normal behavior
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Log implements Logger
func (r *Recorder) Log(_ context.Context, event *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}
	if err := event.Validate(); err != nil {
		return err
	}
	event.normalize()

	r.nextID++
	event.ID = r.nextID
	stored := *event
	r.events = append(r.events, stored)
	return nil
}

// Events returns a copy of every recorded event in insertion order
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were recorded
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Reset drops every recorded event
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Search implements Searcher with the same filtering as the database sink
func (r *Recorder) Search(_ context.Context, filter SearchFilter) ([]*Event, error) {
	if filter.TenantID == "" {
		return nil, ErrTenantRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kinds := make(map[Kind]bool, len(filter.Kinds))
	for _, k := range filter.Kinds {
		kinds[k] = true
	}

	var out []*Event
	for i := range r.events {
		e := r.events[i]
		if e.TenantID != filter.TenantID {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if len(kinds) > 0 && !kinds[e.Kind] {
			continue
		}
		if filter.Result != "" && e.Result != filter.Result {
			continue
		}
		if filter.StartTime != nil && e.Timestamp.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && e.Timestamp.After(*filter.EndTime) {
			continue
		}
		out = append(out, &e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if filter.Offset >= len(out) {
		return []*Event{}, nil
	}
	out = out[filter.Offset:]
	if limit := filter.effectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close implements Logger
func (r *Recorder) Close() error {
	return nil
}
