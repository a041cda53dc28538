package calendar

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beekhof/busysync/internal/logging"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"
)

const prodID = "-//busysync//EN"

// CalDAVClient is a Gateway for CalDAV servers such as iCloud.
//
// Calendar IDs are either collection paths or display names; ResolveCalendar
// maps them onto collection paths. Event IDs are object paths, with a
// "#<unix start>" suffix for instances of recurring series.
type CalDAVClient struct {
	client   *caldav.Client
	location *time.Location // used for floating times

	mu    sync.Mutex
	paths map[string]string // calendar ID -> collection path
}

// NewCalDAVClient creates a CalDAV gateway authenticating with basic auth.
// serverURL should be the CalDAV endpoint (e.g. "https://caldav.icloud.com").
// For iCloud the password must be an app-specific password.
func NewCalDAVClient(httpClient *http.Client, serverURL, username, password string) (*CalDAVClient, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	client, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(httpClient, username, password), serverURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	return &CalDAVClient{
		client:   client,
		location: time.Local,
		paths:    make(map[string]string),
	}, nil
}

// ResolveCalendar discovers the user's calendars and remembers the collection
// path of the one matching calendarID by path or display name.
func (c *CalDAVClient) ResolveCalendar(ctx context.Context, calendarID string) error {
	principal, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return fmt.Errorf("CalDAV: failed to find principal: %w", err)
	}

	homeSet, err := c.client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return fmt.Errorf("CalDAV: failed to find calendar home set: %w", err)
	}

	calendars, err := c.client.FindCalendars(ctx, homeSet)
	if err != nil {
		return fmt.Errorf("CalDAV: failed to list calendars: %w", err)
	}

	want := strings.TrimSuffix(calendarID, "/")
	for _, cal := range calendars {
		if strings.TrimSuffix(cal.Path, "/") == want || cal.Name == calendarID {
			c.mu.Lock()
			c.paths[calendarID] = cal.Path
			c.mu.Unlock()
			return nil
		}
	}

	return fmt.Errorf("CalDAV: calendar %q: %w", calendarID, ErrNotFound)
}

// ListEvents queries VEVENTs overlapping [start, end] and expands recurring
// series into instances.
func (c *CalDAVClient) ListEvents(ctx context.Context, calendarID string, start, end time.Time) ([]*Event, error) {
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Comps: []caldav.CalendarCompRequest{{Name: ical.CompEvent, AllProps: true}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: start,
				// time-range end is exclusive on the server
				End: end.Add(time.Second),
			}},
		},
	}

	objects, err := c.client.QueryCalendar(ctx, c.collection(calendarID), query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar: %w", translateCalDAVError(err))
	}

	var events []*Event
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		expanded, err := expandCalendarObject(obj.Path, obj.Data, start, end, c.location)
		if err != nil {
			logging.FromContext(ctx).Warn().Err(err).Str("path", obj.Path).Msg("Skipping unreadable calendar object")
			continue
		}
		events = append(events, expanded...)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

// CreateEvent PUTs a new calendar object named after a fresh UID.
func (c *CalDAVClient) CreateEvent(ctx context.Context, calendarID string, draft *Event) (*Event, error) {
	uid := uuid.NewString()
	objectPath := strings.TrimSuffix(c.collection(calendarID), "/") + "/" + uid + ".ics"

	if _, err := c.client.PutCalendarObject(ctx, objectPath, toICalendar(draft, uid)); err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", translateCalDAVError(err))
	}

	out := *draft
	out.ID = objectPath
	return &out, nil
}

// UpdateEvent rewrites the time range and description of an existing object,
// keeping every other property as stored on the server.
func (c *CalDAVClient) UpdateEvent(ctx context.Context, calendarID string, event *Event) error {
	if strings.Contains(event.ID, "#") {
		return fmt.Errorf("cannot update a single instance of recurring event %s", event.ID)
	}

	obj, err := c.client.GetCalendarObject(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to get event: %w", translateCalDAVError(err))
	}

	events := obj.Data.Events()
	if len(events) == 0 {
		return fmt.Errorf("no VEVENT found in %s", event.ID)
	}
	vevent := events[0]
	vevent.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	vevent.Props.Del(ical.PropDuration)
	if event.Description != "" {
		vevent.Props.SetText(ical.PropDescription, event.Description)
	} else {
		vevent.Props.Del(ical.PropDescription)
	}
	vevent.Props.SetDateTime(ical.PropLastModified, time.Now().UTC())

	if _, err := c.client.PutCalendarObject(ctx, event.ID, obj.Data); err != nil {
		return fmt.Errorf("failed to update event: %w", translateCalDAVError(err))
	}
	return nil
}

// DeleteEvent removes a calendar object.
func (c *CalDAVClient) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if strings.Contains(eventID, "#") {
		return fmt.Errorf("cannot delete a single instance of recurring event %s", eventID)
	}
	if err := c.client.RemoveAll(ctx, eventID); err != nil {
		return fmt.Errorf("failed to delete event: %w", translateCalDAVError(err))
	}
	return nil
}

func (c *CalDAVClient) collection(calendarID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.paths[calendarID]; ok {
		return p
	}
	return calendarID
}

// expandCalendarObject converts the VEVENTs of one calendar object into
// events overlapping [start, end]. Recurring masters are expanded with their
// RRULE/RDATE/EXDATE set; RECURRENCE-ID overrides replace the generated
// instance they point at.
func expandCalendarObject(objectPath string, cal *ical.Calendar, start, end time.Time, loc *time.Location) ([]*Event, error) {
	var masters, overrides []ical.Event
	for _, ve := range cal.Events() {
		if ve.Props.Get(ical.PropRecurrenceID) != nil {
			overrides = append(overrides, ve)
		} else {
			masters = append(masters, ve)
		}
	}

	overridden := make(map[int64]bool)
	var out []*Event
	for _, ve := range overrides {
		rid, err := ve.Props.Get(ical.PropRecurrenceID).DateTime(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid RECURRENCE-ID: %w", err)
		}
		overridden[rid.Unix()] = true

		ev, err := fromICalEvent(ve, loc)
		if err != nil {
			return nil, err
		}
		ev.ID = instanceID(objectPath, rid)
		if ev.Overlaps(start, end) {
			out = append(out, ev)
		}
	}

	for _, ve := range masters {
		ev, err := fromICalEvent(ve, loc)
		if err != nil {
			return nil, err
		}

		set, err := ve.RecurrenceSet(loc)
		if err != nil {
			return nil, fmt.Errorf("invalid recurrence rule: %w", err)
		}
		if set == nil {
			ev.ID = objectPath
			if ev.Overlaps(start, end) {
				out = append(out, ev)
			}
			continue
		}

		duration := ev.End.Sub(ev.Start)
		for _, occ := range occurrences(set, start, end, duration) {
			if overridden[occ.Unix()] {
				continue
			}
			inst := *ev
			inst.ID = instanceID(objectPath, occ)
			inst.Start = occ
			inst.End = occ.Add(duration)
			if inst.Overlaps(start, end) {
				out = append(out, &inst)
			}
		}
	}

	return out, nil
}

// occurrences returns the instance starts of set whose events can overlap
// [start, end] given their duration.
func occurrences(set *rrule.Set, start, end time.Time, duration time.Duration) []time.Time {
	return set.Between(start.Add(-duration), end, true)
}

func instanceID(objectPath string, occ time.Time) string {
	return objectPath + "#" + strconv.FormatInt(occ.Unix(), 10)
}

func fromICalEvent(ve ical.Event, loc *time.Location) (*Event, error) {
	ev := &Event{Visibility: VisibilityDefault}

	var err error
	if ev.Title, err = ve.Props.Text(ical.PropSummary); err != nil {
		return nil, err
	}
	if ev.Description, err = ve.Props.Text(ical.PropDescription); err != nil {
		return nil, err
	}
	if ev.Start, err = ve.DateTimeStart(loc); err != nil {
		return nil, fmt.Errorf("invalid DTSTART: %w", err)
	}
	if ev.End, err = ve.DateTimeEnd(loc); err != nil {
		return nil, fmt.Errorf("invalid DTEND: %w", err)
	}

	if dtstart := ve.Props.Get(ical.PropDateTimeStart); dtstart != nil && dtstart.ValueType() == ical.ValueDate {
		ev.AllDay = true
		if !ev.End.After(ev.Start) {
			ev.End = ev.Start.AddDate(0, 0, 1)
		}
	}

	if class := ve.Props.Get(ical.PropClass); class != nil {
		switch strings.ToUpper(class.Value) {
		case "PRIVATE", "CONFIDENTIAL":
			ev.Visibility = VisibilityPrivate
		case "PUBLIC":
			ev.Visibility = VisibilityPublic
		}
	}

	if transp := ve.Props.Get(ical.PropTransparency); transp != nil && strings.EqualFold(transp.Value, "TRANSPARENT") {
		ev.Transparent = true
	}

	return ev, nil
}

func toICalendar(ev *Event, uid string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)

	vevent := ical.NewComponent(ical.CompEvent)
	now := time.Now().UTC()
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, now)
	vevent.Props.SetDateTime(ical.PropCreated, now)
	vevent.Props.SetDateTime(ical.PropLastModified, now)
	vevent.Props.SetText(ical.PropSummary, ev.Title)
	vevent.Props.SetDateTime(ical.PropDateTimeStart, ev.Start.UTC())
	vevent.Props.SetDateTime(ical.PropDateTimeEnd, ev.End.UTC())
	vevent.Props.SetText(ical.PropTransparency, "OPAQUE")
	if ev.Description != "" {
		vevent.Props.SetText(ical.PropDescription, ev.Description)
	}
	switch ev.Visibility {
	case VisibilityPrivate:
		vevent.Props.SetText(ical.PropClass, "PRIVATE")
	case VisibilityPublic:
		vevent.Props.SetText(ical.PropClass, "PUBLIC")
	}

	cal.Children = append(cal.Children, vevent)
	return cal
}

// translateCalDAVError maps 404/410 responses onto ErrNotFound. go-webdav
// does not export its HTTP error type, so the status text is matched.
func translateCalDAVError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "404 "+http.StatusText(http.StatusNotFound)) ||
		strings.Contains(msg, "410 "+http.StatusText(http.StatusGone)) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}
