package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/beekhof/busysync/internal/logging"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GoogleClient is a Gateway backed by the Google Calendar API.
type GoogleClient struct {
	service *gcal.Service
}

// NewGoogleClient creates a Google Calendar gateway using the provided HTTP
// client. Extra options are mainly for tests (option.WithEndpoint).
func NewGoogleClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*GoogleClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return &GoogleClient{service: service}, nil
}

// ResolveCalendar checks that the calendar exists and is readable.
func (c *GoogleClient) ResolveCalendar(ctx context.Context, calendarID string) error {
	if _, err := c.service.Calendars.Get(calendarID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("Google: failed to get calendar %q: %w", calendarID, translateGoogleError(err))
	}
	return nil
}

// ListEvents retrieves events overlapping [start, end].
// Important: SingleEvents is set so recurring series come back as instances.
func (c *GoogleClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*Event, error) {
	// The API treats timeMax as an exclusive bound on the event start; pad it
	// by a second so an event starting exactly at end is returned.
	call := c.service.Events.List(calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Add(time.Second).Format(time.RFC3339)).
		SingleEvents(true). // Expand recurring events
		OrderBy("startTime").
		ShowDeleted(false)

	var events []*Event
	err := call.Pages(ctx, func(page *gcal.Events) error {
		loc := time.UTC
		if page.TimeZone != "" {
			if l, err := time.LoadLocation(page.TimeZone); err == nil {
				loc = l
			}
		}
		for _, item := range page.Items {
			if item.Status == "cancelled" {
				continue
			}
			ev, err := fromGoogleEvent(item, loc)
			if err != nil {
				logging.FromContext(ctx).Warn().Err(err).
					Str("calendar", calendarID).
					Str("event_id", item.Id).
					Msg("Skipping event with unreadable times")
				continue
			}
			events = append(events, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", translateGoogleError(err))
	}

	return events, nil
}

// CreateEvent inserts a new event and returns it with its assigned ID.
// Important: sendUpdates is "none" so nobody gets notified.
func (c *GoogleClient) CreateEvent(ctx context.Context, calendarID string, draft *Event) (*Event, error) {
	created, err := c.service.Events.Insert(calendarID, toGoogleEvent(draft)).
		SendUpdates("none"). // Disable notifications
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", translateGoogleError(err))
	}

	out := *draft
	out.ID = created.Id
	return &out, nil
}

// UpdateEvent patches the time range and description of an existing event.
func (c *GoogleClient) UpdateEvent(ctx context.Context, calendarID string, event *Event) error {
	patch := &gcal.Event{
		Description: event.Description,
		Start:       &gcal.EventDateTime{DateTime: event.Start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: event.End.Format(time.RFC3339)},
	}
	_, err := c.service.Events.Patch(calendarID, event.ID, patch).
		SendUpdates("none"). // Disable notifications
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to update event: %w", translateGoogleError(err))
	}

	return nil
}

// DeleteEvent deletes an event from a calendar.
func (c *GoogleClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.service.Events.Delete(calendarID, eventID).
		SendUpdates("none"). // Disable notifications
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", translateGoogleError(err))
	}

	return nil
}

func fromGoogleEvent(item *gcal.Event, loc *time.Location) (*Event, error) {
	if item.Start == nil || item.End == nil {
		return nil, fmt.Errorf("event %s has no start or end", item.Id)
	}

	ev := &Event{
		ID:          item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Visibility:  Visibility(item.Visibility),
		Transparent: item.Transparency == "transparent",
	}
	if ev.Visibility == "" {
		ev.Visibility = VisibilityDefault
	}

	var err error
	if item.Start.DateTime == "" {
		// All-day event: the dates are in the calendar's zone.
		ev.AllDay = true
		if ev.Start, err = time.ParseInLocation(time.DateOnly, item.Start.Date, loc); err != nil {
			return nil, err
		}
		if ev.End, err = time.ParseInLocation(time.DateOnly, item.End.Date, loc); err != nil {
			return nil, err
		}
		return ev, nil
	}

	if ev.Start, err = time.Parse(time.RFC3339, item.Start.DateTime); err != nil {
		return nil, err
	}
	if ev.End, err = time.Parse(time.RFC3339, item.End.DateTime); err != nil {
		return nil, err
	}
	return ev, nil
}

func toGoogleEvent(ev *Event) *gcal.Event {
	out := &gcal.Event{
		Summary:      ev.Title,
		Description:  ev.Description,
		Start:        &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339)},
		End:          &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339)},
		Transparency: "opaque",
		// Blocks never carry reminders of their own
		Reminders: &gcal.EventReminders{UseDefault: false, ForceSendFields: []string{"UseDefault"}},
	}
	if ev.Visibility != "" {
		out.Visibility = string(ev.Visibility)
	}
	return out
}

// translateGoogleError maps "gone" responses onto ErrNotFound.
func translateGoogleError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
