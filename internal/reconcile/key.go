package reconcile

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/beekhof/busysync/internal/calendar"
)

// MatchKey pairs a source event with the managed block mirroring it.
type MatchKey string

// StrategyKind names a matching strategy.
type StrategyKind string

const (
	// StrategyTime matches on the exact (start, end) pair. It cannot tell a
	// moved event from a deleted one plus a new one: a moved source event
	// gets its old block deleted and a new block created.
	StrategyTime StrategyKind = "time"
	// StrategyIdentity matches on the source event ID embedded in the block
	// description, so moved events are updated in place. It relies on the
	// target provider keeping descriptions intact.
	StrategyIdentity StrategyKind = "identity"
)

// sourceIDMarker prefixes the source event ID inside a block description.
const sourceIDMarker = "Source Event ID: "

// The ID runs to the end of its line; CalDAV object paths may contain spaces.
var sourceIDPattern = regexp.MustCompile(`Source Event ID:[ \t]*([^\r\n]*)`)

// Strategy derives keys, recognises managed blocks and shapes new blocks.
// One strategy is used for a whole pass.
type Strategy interface {
	Kind() StrategyKind
	// SourceKey returns the key of a source event.
	SourceKey(ev *calendar.Event) MatchKey
	// BlockKey returns the key of a managed block, or false when none can be
	// derived (the block is an orphan).
	BlockKey(block *calendar.Event) (MatchKey, bool)
	// Recognizes reports whether a target event is a managed block.
	Recognizes(ev *calendar.Event) bool
	// Draft builds the block mirroring a source event.
	Draft(source *calendar.Event) *calendar.Event
	// NeedsUpdate reports whether an existing block must be rewritten to
	// match its source event.
	NeedsUpdate(block, source *calendar.Event) bool
}

// NewStrategy returns the strategy for kind.
func NewStrategy(kind StrategyKind, blockTitle, syncTag string) (Strategy, error) {
	switch kind {
	case StrategyTime, "":
		return &timeStrategy{title: blockTitle, tag: syncTag}, nil
	case StrategyIdentity:
		if syncTag == "" {
			return nil, fmt.Errorf("strategy %q requires a sync tag", kind)
		}
		return &identityStrategy{title: blockTitle, tag: syncTag}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (expected %q or %q)", kind, StrategyTime, StrategyIdentity)
	}
}

// TimeKey is the key of an event spanning [start, end) at millisecond
// resolution.
func TimeKey(ev *calendar.Event) MatchKey {
	return MatchKey(fmt.Sprintf("%d/%d", ev.Start.UnixMilli(), ev.End.UnixMilli()))
}

// ExtractSourceID returns the source event ID embedded in a block
// description.
func ExtractSourceID(description string) (string, bool) {
	m := sourceIDPattern.FindStringSubmatch(description)
	if m == nil {
		return "", false
	}
	id := strings.TrimSpace(m[1])
	return id, id != ""
}

// EmbedSourceID renders the description of an identity-matched block.
func EmbedSourceID(syncTag, sourceID string) string {
	if syncTag == "" {
		return sourceIDMarker + sourceID
	}
	return syncTag + "\n" + sourceIDMarker + sourceID
}

type timeStrategy struct {
	title string
	tag   string
}

func (s *timeStrategy) Kind() StrategyKind { return StrategyTime }

func (s *timeStrategy) SourceKey(ev *calendar.Event) MatchKey { return TimeKey(ev) }

func (s *timeStrategy) BlockKey(block *calendar.Event) (MatchKey, bool) { return TimeKey(block), true }

func (s *timeStrategy) Recognizes(ev *calendar.Event) bool { return ev.Title == s.title }

func (s *timeStrategy) Draft(source *calendar.Event) *calendar.Event {
	return &calendar.Event{
		Title:       s.title,
		Description: s.tag,
		Start:       source.Start,
		End:         source.End,
		Visibility:  calendar.VisibilityPrivate,
	}
}

// NeedsUpdate is always false: equal keys mean equal times.
func (s *timeStrategy) NeedsUpdate(block, source *calendar.Event) bool { return false }

type identityStrategy struct {
	title string
	tag   string
}

func (s *identityStrategy) Kind() StrategyKind { return StrategyIdentity }

func (s *identityStrategy) SourceKey(ev *calendar.Event) MatchKey { return MatchKey(ev.ID) }

func (s *identityStrategy) BlockKey(block *calendar.Event) (MatchKey, bool) {
	id, ok := ExtractSourceID(block.Description)
	if !ok {
		return "", false
	}
	return MatchKey(id), true
}

func (s *identityStrategy) Recognizes(ev *calendar.Event) bool {
	return strings.Contains(ev.Description, s.tag)
}

func (s *identityStrategy) Draft(source *calendar.Event) *calendar.Event {
	return &calendar.Event{
		Title:       s.title,
		Description: EmbedSourceID(s.tag, source.ID),
		Start:       source.Start,
		End:         source.End,
		Visibility:  calendar.VisibilityPrivate,
	}
}

func (s *identityStrategy) NeedsUpdate(block, source *calendar.Event) bool {
	return !block.Start.Equal(source.Start) || !block.End.Equal(source.End)
}
