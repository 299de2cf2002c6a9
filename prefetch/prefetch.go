// Package prefetch implements a two-slot background prefetcher: a producer
// goroutine stays at most one buffer ahead of the consumer, handing off
// exactly one leased slot at a time.
//
// Ported from original_source's TwoSlotPrefetcher (condition-variable/
// jthread based) onto Go's native goroutine + mutex/cond idiom.
package prefetch

import (
	"sync"
)

// FillFunc fills slot index idx (0 or 1) and returns whether a slot was
// produced (false signals end of stream) and any error.
type FillFunc[S any] func(idx int, slot *S) (ok bool, err error)

// TwoSlotPrefetcher runs FillFunc in a background goroutine, always keeping
// at most one slot ahead of the consumer.
type TwoSlotPrefetcher[S any] struct {
	fill FillFunc[S]

	mu         sync.Mutex
	cond       *sync.Cond
	slots      [2]S
	filled     [2]bool
	writeIdx   int
	readIdx    int
	stopping   bool
	done       bool
	err        error
	started    bool
	wg         sync.WaitGroup
}

// New creates a prefetcher around fill; the background producer does not
// start until the first call to Next.
func New[S any](fill FillFunc[S]) *TwoSlotPrefetcher[S] {
	p := &TwoSlotPrefetcher[S]{fill: fill}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *TwoSlotPrefetcher[S]) start() {
	p.started = true
	p.wg.Add(1)
	go p.readerLoop()
}

func (p *TwoSlotPrefetcher[S]) readerLoop() {
	defer p.wg.Done()
	idx := 0
	for {
		p.mu.Lock()
		for p.filled[idx] && !p.stopping {
			p.cond.Wait()
		}
		if p.stopping {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		ok, err := p.fill(idx, &p.slots[idx])

		p.mu.Lock()
		if err != nil {
			p.err = err
			p.done = true
			p.cond.Broadcast()
			p.mu.Unlock()
			return
		}
		if !ok {
			p.done = true
			p.cond.Broadcast()
			p.mu.Unlock()
			return
		}
		p.filled[idx] = true
		p.cond.Broadcast()
		p.mu.Unlock()

		idx ^= 1
	}
}

// Lease is a move-only handle on a filled slot; the slot is released back to
// the pool when Release is called.
type Lease[S any] struct {
	p    *TwoSlotPrefetcher[S]
	idx  int
	Slot *S
}

// Release returns the leased slot to the pool, allowing the producer to
// refill it.
func (l *Lease[S]) Release() {
	if l == nil || l.p == nil {
		return
	}
	l.p.mu.Lock()
	l.p.filled[l.idx] = false
	l.p.cond.Broadcast()
	l.p.mu.Unlock()
	l.p = nil
}

// Next blocks until the next slot is filled, the stream ends (lease == nil,
// err == nil), or an error occurs (previously captured errors are re-raised
// here, matching original_source's behavior of rethrowing on the next call).
func (p *TwoSlotPrefetcher[S]) Next() (*Lease[S], error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		p.start()
		p.mu.Lock()
	}
	idx := p.readIdx
	for !p.filled[idx] && !p.done {
		p.cond.Wait()
	}
	if p.filled[idx] {
		p.readIdx = idx ^ 1
		lease := &Lease[S]{p: p, idx: idx, Slot: &p.slots[idx]}
		p.mu.Unlock()
		return lease, nil
	}
	err := p.err
	p.mu.Unlock()
	return nil, err
}

// Close requests the producer stop and waits for it to exit.
func (p *TwoSlotPrefetcher[S]) Close() {
	p.mu.Lock()
	p.stopping = true
	p.cond.Broadcast()
	p.mu.Unlock()
	if p.started {
		p.wg.Wait()
	}
}
