// Package reconcile mirrors busy time from a source calendar onto a target
// calendar as opaque blocks.
//
// A pass lists both calendars over a forward window, narrows the target down
// to managed blocks, collapses duplicate blocks, then creates, updates and
// deletes blocks until the target matches the source. Passes are stateless
// and idempotent; an interrupted pass is repaired by the next one.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/beekhof/busysync/internal/calendar"
	"github.com/beekhof/busysync/internal/logging"

	"github.com/rs/zerolog"
)

// Options is the immutable configuration of a Reconciler.
type Options struct {
	SourceCalendarID string
	TargetCalendarID string
	LookAhead        time.Duration
	BlockTitle       string
	SyncTag          string
	Strategy         StrategyKind
	// FailFast aborts the pass at the first failed gateway mutation instead
	// of recording it and moving on to the next event.
	FailFast bool
	// SkipFreeEvents ignores source events that do not mark their owner busy.
	SkipFreeEvents bool
}

// Result summarises one pass. The counts are informational only.
type Result struct {
	Window       Window
	SourceEvents int
	Created      int
	Updated      int
	Deleted      int // expired blocks
	Duplicates   int
	Orphans      int
	Skipped      int
	Failures     []*GatewayError
}

// Reconciler runs reconciliation passes. Run may be called from several
// goroutines; overlapping calls are rejected rather than queued.
type Reconciler struct {
	source   calendar.Gateway
	target   calendar.Gateway
	opts     Options
	strategy Strategy
	now      func() time.Time

	running sync.Mutex
}

// New validates opts and returns a Reconciler reading from source and
// writing to target. Both may be the same gateway.
func New(source, target calendar.Gateway, opts Options) (*Reconciler, error) {
	if opts.SourceCalendarID == "" {
		return nil, &ConfigurationError{Field: "source calendar", Err: errors.New("must be set")}
	}
	if opts.TargetCalendarID == "" {
		return nil, &ConfigurationError{Field: "target calendar", Err: errors.New("must be set")}
	}
	if opts.LookAhead <= 0 {
		return nil, &ConfigurationError{Field: "look ahead", Err: fmt.Errorf("must be positive, got %s", opts.LookAhead)}
	}
	if opts.BlockTitle == "" {
		return nil, &ConfigurationError{Field: "block title", Err: errors.New("must be set")}
	}

	strategy, err := NewStrategy(opts.Strategy, opts.BlockTitle, opts.SyncTag)
	if err != nil {
		return nil, &ConfigurationError{Field: "strategy", Err: err}
	}

	return &Reconciler{
		source:   source,
		target:   target,
		opts:     opts,
		strategy: strategy,
		now:      time.Now,
	}, nil
}

// Run performs one full pass over the window starting now.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	if !r.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer r.running.Unlock()

	log := logging.FromContext(ctx).With().
		Str("strategy", string(r.strategy.Kind())).
		Str("source", r.opts.SourceCalendarID).
		Str("target", r.opts.TargetCalendarID).
		Logger()
	ctx = logging.WithLogger(ctx, &log)

	p := &pass{r: r, log: &log, result: &Result{Window: NewWindow(r.now(), r.opts.LookAhead)}}
	w := p.result.Window
	log.Info().Time("window_start", w.Start).Time("window_end", w.End).Msg("Starting reconciliation pass")

	if err := r.source.ResolveCalendar(ctx, r.opts.SourceCalendarID); err != nil {
		return p.result, &ConfigurationError{Field: "source calendar", Err: err}
	}
	if err := r.target.ResolveCalendar(ctx, r.opts.TargetCalendarID); err != nil {
		return p.result, &ConfigurationError{Field: "target calendar", Err: err}
	}

	sourceEvents, err := r.source.ListEvents(ctx, r.opts.SourceCalendarID, w.Start, w.End)
	if err != nil {
		return p.result, &GatewayError{Op: "list", CalendarID: r.opts.SourceCalendarID, Err: err}
	}
	targetEvents, err := r.target.ListEvents(ctx, r.opts.TargetCalendarID, w.Start, w.End)
	if err != nil {
		return p.result, &GatewayError{Op: "list", CalendarID: r.opts.TargetCalendarID, Err: err}
	}
	log.Debug().Int("source_events", len(sourceEvents)).Int("target_events", len(targetEvents)).Msg("Listed calendars")

	sources := p.selectSources(sourceEvents)

	blocks, orphans := Classify(targetEvents, w, r.strategy)
	for _, orphan := range orphans {
		ok, err := p.deleteBlock(ctx, orphan, "orphan")
		if err != nil {
			return p.result, err
		}
		if ok {
			p.result.Orphans++
		}
	}

	kept, duplicates := Dedupe(blocks, r.strategy)
	for _, dup := range duplicates {
		ok, err := p.deleteBlock(ctx, dup, "duplicate")
		if err != nil {
			return p.result, err
		}
		if ok {
			p.result.Duplicates++
		}
	}

	if err := p.reconcile(ctx, sources, kept); err != nil {
		return p.result, err
	}

	res := p.result
	log.Info().
		Int("source_events", res.SourceEvents).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("deleted", res.Deleted).
		Int("duplicates", res.Duplicates).
		Int("orphans", res.Orphans).
		Int("skipped", res.Skipped).
		Int("failures", len(res.Failures)).
		Msg("Reconciliation pass complete")

	if len(res.Failures) > 0 {
		return res, &RunError{Failures: res.Failures}
	}
	return res, nil
}

// Reconcile converges the target calendar onto sources given the deduplicated
// managed blocks. Blocks matched by a source event are taken out of kept;
// whatever is left afterwards is deleted as expired.
func (r *Reconciler) Reconcile(ctx context.Context, sources []*calendar.Event, kept *BlockSet) (*Result, error) {
	log := logging.FromContext(ctx)
	p := &pass{r: r, log: log, result: &Result{SourceEvents: len(sources)}}
	if err := p.reconcile(ctx, sources, kept); err != nil {
		return p.result, err
	}
	if len(p.result.Failures) > 0 {
		return p.result, &RunError{Failures: p.result.Failures}
	}
	return p.result, nil
}

// pass carries the bookkeeping of a single Run or Reconcile call.
type pass struct {
	r      *Reconciler
	log    *zerolog.Logger
	result *Result
}

// selectSources drops source events outside the window, without a valid time
// range, or free when free events are skipped.
func (p *pass) selectSources(events []*calendar.Event) []*calendar.Event {
	var out []*calendar.Event
	for _, ev := range events {
		if !p.result.Window.Contains(ev) {
			continue
		}
		if !ev.End.After(ev.Start) {
			p.log.Warn().Str("event_id", ev.ID).Msg("Skipping source event with an empty time range")
			p.result.Skipped++
			continue
		}
		if p.r.opts.SkipFreeEvents && ev.Transparent {
			p.log.Debug().Str("event_id", ev.ID).Msg("Skipping free source event")
			p.result.Skipped++
			continue
		}
		out = append(out, ev)
	}
	p.result.SourceEvents = len(out)
	return out
}

func (p *pass) reconcile(ctx context.Context, sources []*calendar.Event, kept *BlockSet) error {
	s := p.r.strategy
	targetID := p.r.opts.TargetCalendarID
	handled := make(map[MatchKey]bool, len(sources))

	for _, src := range sources {
		key := s.SourceKey(src)
		if handled[key] {
			// Another source event with the same key already has its block.
			continue
		}
		handled[key] = true

		if block, ok := kept.Take(key); ok {
			if !s.NeedsUpdate(block, src) {
				continue
			}
			updated := *block
			draft := s.Draft(src)
			updated.Start, updated.End, updated.Description = draft.Start, draft.End, draft.Description
			if err := p.r.target.UpdateEvent(ctx, targetID, &updated); err != nil {
				if ferr := p.fail("update", block.ID, err); ferr != nil {
					return ferr
				}
				continue
			}
			p.result.Updated++
			p.log.Debug().Str("event_id", block.ID).Str("key", string(key)).Msg("Updated block")
			continue
		}

		created, err := p.r.target.CreateEvent(ctx, targetID, s.Draft(src))
		if err != nil {
			if ferr := p.fail("create", "", err); ferr != nil {
				return ferr
			}
			continue
		}
		p.result.Created++
		p.log.Debug().Str("event_id", created.ID).Str("key", string(key)).Msg("Created block")
	}

	for _, block := range kept.Remaining() {
		ok, err := p.deleteBlock(ctx, block, "expired")
		if err != nil {
			return err
		}
		if ok {
			p.result.Deleted++
		}
	}

	return nil
}

// deleteBlock deletes a managed block. It reports false without error when the
// block was already gone or the failure was recorded for later.
func (p *pass) deleteBlock(ctx context.Context, block *calendar.Event, reason string) (bool, error) {
	err := p.r.target.DeleteEvent(ctx, p.r.opts.TargetCalendarID, block.ID)
	if errors.Is(err, calendar.ErrNotFound) {
		p.log.Debug().Str("event_id", block.ID).Str("reason", reason).Msg("Block already deleted")
		return false, nil
	}
	if err != nil {
		return false, p.fail("delete", block.ID, err)
	}
	p.log.Debug().Str("event_id", block.ID).Str("reason", reason).Time("start", block.Start).Msg("Deleted block")
	return true, nil
}

// fail records a failed mutation. It returns the error only when the pass
// must stop.
func (p *pass) fail(op, eventID string, err error) error {
	gerr := &GatewayError{Op: op, CalendarID: p.r.opts.TargetCalendarID, EventID: eventID, Err: err}
	p.result.Failures = append(p.result.Failures, gerr)
	p.log.Error().Err(err).Str("op", op).Str("event_id", eventID).Msg("Gateway call failed")
	if p.r.opts.FailFast {
		return gerr
	}
	return nil
}
