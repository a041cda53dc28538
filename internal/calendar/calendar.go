package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned (wrapped) by a Gateway when the calendar or event
// addressed by a call does not exist, including events that were already
// deleted.
var ErrNotFound = errors.New("not found")

// Visibility is the privacy setting of an event.
type Visibility string

const (
	VisibilityDefault Visibility = "default"
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Event is the provider-neutral view of a calendar event.
type Event struct {
	ID          string // Provider-assigned ID, empty until the event is created
	Title       string
	Description string // Free text; managed blocks carry their sync markers here
	Start       time.Time
	End         time.Time
	Visibility  Visibility
	Transparent bool // The event does not mark its owner as busy
	AllDay      bool
}

// Overlaps reports whether the event intersects the closed range [start, end].
// An event ending exactly at start does not overlap; one starting exactly at
// end does.
func (e *Event) Overlaps(start, end time.Time) bool {
	return e.End.After(start) && !e.Start.After(end)
}

// Gateway is the small CRUD surface the reconciler needs from a calendar
// provider. Both the Google Calendar and CalDAV clients implement it.
//
// ListEvents returns every event overlapping [start, end], ordered by start
// time. Recurring series are expanded into individual instances; each
// instance is an independent event with its own stable ID.
type Gateway interface {
	ResolveCalendar(ctx context.Context, calendarID string) error
	ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*Event, error)
	CreateEvent(ctx context.Context, calendarID string, draft *Event) (*Event, error)
	UpdateEvent(ctx context.Context, calendarID string, event *Event) error
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}
