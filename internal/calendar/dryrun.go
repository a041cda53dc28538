package calendar

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/beekhof/busysync/internal/logging"
)

// DryRun wraps a Gateway so that reads go through and mutations are only
// logged.
type DryRun struct {
	Gateway
	seq atomic.Int64
}

// NewDryRun returns a read-only view of gw.
func NewDryRun(gw Gateway) *DryRun {
	return &DryRun{Gateway: gw}
}

func (d *DryRun) CreateEvent(ctx context.Context, calendarID string, draft *Event) (*Event, error) {
	logging.FromContext(ctx).Info().
		Str("calendar", calendarID).
		Time("start", draft.Start).
		Time("end", draft.End).
		Msg("[DRY RUN] Would create event")

	out := *draft
	out.ID = fmt.Sprintf("dry-run-%d", d.seq.Add(1))
	return &out, nil
}

func (d *DryRun) UpdateEvent(ctx context.Context, calendarID string, event *Event) error {
	logging.FromContext(ctx).Info().
		Str("calendar", calendarID).
		Str("event_id", event.ID).
		Str("start", event.Start.Format(time.RFC3339)).
		Str("end", event.End.Format(time.RFC3339)).
		Msg("[DRY RUN] Would update event")
	return nil
}

func (d *DryRun) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	logging.FromContext(ctx).Info().
		Str("calendar", calendarID).
		Str("event_id", eventID).
		Msg("[DRY RUN] Would delete event")
	return nil
}
