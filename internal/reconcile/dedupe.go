package reconcile

import "github.com/beekhof/busysync/internal/calendar"

// BlockSet holds at most one managed block per key and remembers the order
// in which the keys were first seen.
type BlockSet struct {
	order  []MatchKey
	blocks map[MatchKey]*calendar.Event
}

func newBlockSet() *BlockSet {
	return &BlockSet{blocks: make(map[MatchKey]*calendar.Event)}
}

// Len returns the number of blocks still in the set.
func (b *BlockSet) Len() int { return len(b.blocks) }

func (b *BlockSet) get(key MatchKey) (*calendar.Event, bool) {
	block, ok := b.blocks[key]
	return block, ok
}

// Take removes and returns the block kept for key.
func (b *BlockSet) Take(key MatchKey) (*calendar.Event, bool) {
	block, ok := b.blocks[key]
	if ok {
		delete(b.blocks, key)
	}
	return block, ok
}

// Remaining returns the blocks not taken yet, in first-seen order.
func (b *BlockSet) Remaining() []*calendar.Event {
	out := make([]*calendar.Event, 0, len(b.blocks))
	for _, key := range b.order {
		if block, ok := b.blocks[key]; ok {
			out = append(out, block)
		}
	}
	return out
}

func (b *BlockSet) add(key MatchKey, block *calendar.Event) bool {
	if _, exists := b.blocks[key]; exists {
		return false
	}
	b.order = append(b.order, key)
	b.blocks[key] = block
	return true
}

// Dedupe keeps the first block seen for every key and returns every later
// block sharing a key as a duplicate. Input order is the gateway's order and
// decides which block survives.
func Dedupe(blocks []*calendar.Event, s Strategy) (kept *BlockSet, duplicates []*calendar.Event) {
	kept = newBlockSet()
	for _, block := range blocks {
		key, ok := s.BlockKey(block)
		if !ok {
			continue
		}
		if !kept.add(key, block) {
			duplicates = append(duplicates, block)
		}
	}
	return kept, duplicates
}
