package schedule

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(buf *bytes.Buffer) *zerolog.Logger {
	l := zerolog.New(zerolog.SyncWriter(buf)).Level(zerolog.DebugLevel)
	return &l
}

func TestNew_Validates(t *testing.T) {
	var buf bytes.Buffer
	noop := func(context.Context) error { return nil }

	_, err := New("*/30 * * * *", time.Minute, noop, testLogger(&buf))
	require.NoError(t, err)

	_, err = New("every half hour", time.Minute, noop, testLogger(&buf))
	assert.ErrorContains(t, err, "invalid schedule")

	_, err = New("0 * * * * *", time.Minute, noop, testLogger(&buf))
	assert.Error(t, err, "six-field specs are not standard")

	_, err = New("@hourly", 0, noop, testLogger(&buf))
	assert.ErrorContains(t, err, "run timeout must be positive")
}

func TestRunOnce_AppliesTimeout(t *testing.T) {
	var buf bytes.Buffer
	s, err := New("@hourly", 20*time.Millisecond, func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(20*time.Millisecond), deadline, 20*time.Millisecond)
		<-ctx.Done()
		return ctx.Err()
	}, testLogger(&buf))
	require.NoError(t, err)

	err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), "Scheduled run finished")
}

func TestRun_RunsAtStartAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	var runs atomic.Int32
	ran := make(chan struct{}, 1)

	s, err := New("@hourly", time.Minute, func(ctx context.Context) error {
		runs.Add(1)
		ran <- struct{}{}
		return nil
	}, testLogger(&buf))
	require.NoError(t, err)
	s.RunAtStart = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run at start")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, int32(1), runs.Load())
	assert.Contains(t, buf.String(), "Scheduler started")
}

func TestRun_WaitsForRunningJob(t *testing.T) {
	var buf bytes.Buffer
	started := make(chan struct{})
	var finished atomic.Bool

	s, err := New("@hourly", time.Minute, func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return errors.New("calendar unavailable")
	}, testLogger(&buf))
	require.NoError(t, err)
	s.RunAtStart = true

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-started
	cancel()
	require.NoError(t, <-done)
	assert.True(t, finished.Load(), "Run returned before the job finished")
	assert.Contains(t, buf.String(), "calendar unavailable")
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{log: testLogger(&buf)}

	l.Info("skip")
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "previous run still in progress")

	buf.Reset()
	l.Info("wake", "now", "2024-01-15T00:00:00Z")
	assert.Contains(t, buf.String(), `"level":"debug"`)
	assert.Contains(t, buf.String(), `"now":"2024-01-15T00:00:00Z"`)

	buf.Reset()
	l.Error(errors.New("boom"), "panic", "stack", "...")
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
}
