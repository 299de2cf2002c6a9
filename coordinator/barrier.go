// Package coordinator drives multiple Odin devices through a single flash
// run in lock step: every device executes the same protocol step before any
// device advances to the next one, guaranteeing byte-identical wire traffic
// across the group. Grounded on
// original_source/src/protocol/odin/group_flasher.cpp.
package coordinator

import "sync"

// barrier is a fixed-party, sense-reversing cyclic barrier: every Arrive
// call blocks until exactly `parties` callers have arrived, then releases
// them all together and resets for the next round.
//
// Go's standard library has no direct equivalent of std::barrier; this is
// the idiomatic mutex+cond construction for it (see DESIGN.md).
type barrier struct {
	mu       sync.Mutex
	cond     *sync.Cond
	parties  int
	waiting  int
	sense    bool
}

func newBarrier(parties int) *barrier {
	b := &barrier{parties: parties}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Arrive blocks the caller until every party has arrived for this round.
func (b *barrier) Arrive() {
	b.mu.Lock()
	mySense := b.sense
	b.waiting++
	if b.waiting == b.parties {
		b.waiting = 0
		b.sense = !b.sense
		b.cond.Broadcast()
	} else {
		for b.sense == mySense {
			b.cond.Wait()
		}
	}
	b.mu.Unlock()
}
