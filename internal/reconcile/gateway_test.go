package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/beekhof/busysync/internal/calendar"
)

// fakeGateway is an in-memory calendar.Gateway recording every mutation.
type fakeGateway struct {
	events  map[string][]*calendar.Event // calendarID -> events in gateway order
	missing map[string]bool              // calendars that fail to resolve
	nextID  int

	created []*calendar.Event
	updated []*calendar.Event
	deleted []string

	// failures keyed by "op" or "op:eventID"
	failures map[string]error
	// onList runs at the start of every ListEvents call
	onList func(calendarID string)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		events:   make(map[string][]*calendar.Event),
		missing:  make(map[string]bool),
		failures: make(map[string]error),
	}
}

func (f *fakeGateway) add(calendarID string, ev *calendar.Event) *calendar.Event {
	if ev.ID == "" {
		f.nextID++
		ev.ID = fmt.Sprintf("evt-%d", f.nextID)
	}
	f.events[calendarID] = append(f.events[calendarID], ev)
	return ev
}

func (f *fakeGateway) remove(calendarID, eventID string) bool {
	events := f.events[calendarID]
	for i, ev := range events {
		if ev.ID == eventID {
			f.events[calendarID] = append(events[:i:i], events[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeGateway) failure(op, eventID string) error {
	if err, ok := f.failures[op+":"+eventID]; ok {
		return err
	}
	return f.failures[op]
}

func (f *fakeGateway) ResolveCalendar(ctx context.Context, calendarID string) error {
	if f.missing[calendarID] {
		return fmt.Errorf("calendar %s: %w", calendarID, calendar.ErrNotFound)
	}
	return nil
}

func (f *fakeGateway) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*calendar.Event, error) {
	if f.onList != nil {
		f.onList(calendarID)
	}
	if err := f.failure("list", calendarID); err != nil {
		return nil, err
	}
	var out []*calendar.Event
	for _, ev := range f.events[calendarID] {
		if ev.Overlaps(start, end) {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeGateway) CreateEvent(ctx context.Context, calendarID string, draft *calendar.Event) (*calendar.Event, error) {
	if err := f.failure("create", ""); err != nil {
		return nil, err
	}
	ev := *draft
	ev.ID = ""
	created := f.add(calendarID, &ev)
	f.created = append(f.created, created)
	return created, nil
}

func (f *fakeGateway) UpdateEvent(ctx context.Context, calendarID string, event *calendar.Event) error {
	if err := f.failure("update", event.ID); err != nil {
		return err
	}
	for i, ev := range f.events[calendarID] {
		if ev.ID == event.ID {
			cp := *event
			f.events[calendarID][i] = &cp
			f.updated = append(f.updated, &cp)
			return nil
		}
	}
	return fmt.Errorf("event %s: %w", event.ID, calendar.ErrNotFound)
}

func (f *fakeGateway) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := f.failure("delete", eventID); err != nil {
		return err
	}
	if !f.remove(calendarID, eventID) {
		return fmt.Errorf("event %s: %w", eventID, calendar.ErrNotFound)
	}
	f.deleted = append(f.deleted, eventID)
	return nil
}

func (f *fakeGateway) resetCalls() {
	f.created, f.updated, f.deleted = nil, nil, nil
}

var _ calendar.Gateway = (*fakeGateway)(nil)
