package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestGoogleClient(t *testing.T, handler http.HandlerFunc) *GoogleClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewGoogleClient(context.Background(), srv.Client(), option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return client
}

func TestGoogleClient_ListEvents(t *testing.T) {
	var gotQuery map[string][]string
	client := newTestGoogleClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/calendars/primary/events", r.URL.Path)
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"timeZone": "UTC",
			"items": [
				{"id": "a", "summary": "Dentist", "status": "confirmed",
				 "start": {"dateTime": "2024-01-15T09:00:00Z"}, "end": {"dateTime": "2024-01-15T10:00:00Z"}},
				{"id": "b", "summary": "Gone", "status": "cancelled",
				 "start": {"dateTime": "2024-01-15T11:00:00Z"}, "end": {"dateTime": "2024-01-15T12:00:00Z"}},
				{"id": "c", "summary": "Holiday", "transparency": "transparent",
				 "start": {"date": "2024-01-16"}, "end": {"date": "2024-01-17"}}
			]
		}`)
	})

	start := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 7)
	events, err := client.ListEvents(context.Background(), "primary", start, end)
	require.NoError(t, err)

	assert.Equal(t, []string{"true"}, gotQuery["singleEvents"])
	assert.Equal(t, []string{"startTime"}, gotQuery["orderBy"])
	assert.Equal(t, []string{end.Add(time.Second).Format(time.RFC3339)}, gotQuery["timeMax"])

	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].ID)
	assert.True(t, events[0].Start.Equal(time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)))
	assert.False(t, events[0].AllDay)

	assert.Equal(t, "c", events[1].ID)
	assert.True(t, events[1].AllDay)
	assert.True(t, events[1].Transparent)
	assert.True(t, events[1].End.Equal(time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)))
}

func TestGoogleClient_CreateEvent(t *testing.T) {
	var body map[string]any
	client := newTestGoogleClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "none", r.URL.Query().Get("sendUpdates"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id": "new-1"}`)
	})

	draft := &Event{
		Title:      "Busy",
		Start:      time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
		End:        time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Visibility: VisibilityPrivate,
	}
	created, err := client.CreateEvent(context.Background(), "work", draft)
	require.NoError(t, err)

	assert.Equal(t, "new-1", created.ID)
	assert.Empty(t, draft.ID, "draft must not be mutated")
	assert.Equal(t, "Busy", body["summary"])
	assert.Equal(t, "private", body["visibility"])
	assert.Equal(t, "opaque", body["transparency"])
}

func TestGoogleClient_DeleteEvent_NotFound(t *testing.T) {
	client := newTestGoogleClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGone)
		io.WriteString(w, `{"error": {"code": 410, "message": "Resource has been deleted"}}`)
	})

	err := client.DeleteEvent(context.Background(), "work", "evt-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGoogleClient_ResolveCalendar_Missing(t *testing.T) {
	client := newTestGoogleClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error": {"code": 404, "message": "Not Found"}}`)
	})

	err := client.ResolveCalendar(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
