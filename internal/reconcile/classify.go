package reconcile

import (
	"time"

	"github.com/beekhof/busysync/internal/calendar"
)

// Window is the closed time range [Start, End] a pass reconciles.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow returns the window starting at now and spanning lookAhead.
func NewWindow(now time.Time, lookAhead time.Duration) Window {
	return Window{Start: now, End: now.Add(lookAhead)}
}

// Contains reports whether ev overlaps the window. An event starting exactly
// at End is inside; one ending exactly at Start is not.
func (w Window) Contains(ev *calendar.Event) bool {
	return ev.Overlaps(w.Start, w.End)
}

// Classify narrows the target calendar's events down to the managed blocks
// inside the window. Events the strategy does not recognise are dropped and
// never touched afterwards.
//
// Recognised blocks whose key cannot be derived are returned as orphans; the
// caller deletes them instead of feeding them to the diff.
func Classify(events []*calendar.Event, w Window, s Strategy) (blocks, orphans []*calendar.Event) {
	for _, ev := range events {
		if !w.Contains(ev) || !s.Recognizes(ev) {
			continue
		}
		if _, ok := s.BlockKey(ev); !ok {
			orphans = append(orphans, ev)
			continue
		}
		blocks = append(blocks, ev)
	}
	return blocks, orphans
}
