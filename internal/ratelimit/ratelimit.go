// Package ratelimit implements per-source-address admission control for the
// quote responder.
//
// # Simple in-memory implementation, not shared between instances or distributed
//
// Every connection attempt increments the source's counter, including
// rejected attempts, so an address that keeps hammering the service keeps
// accumulating count and does not flip back to admitted the moment decay
// runs. Decay subtracts a fixed amount from every counter on a fixed period
// and drops entries that reach zero, which bounds memory to recently active
// sources.
//
// What this does protect against:
//   - a single address milking the service as a reflection/amplification vector
//   - unbounded growth of tracked state (decay prunes idle sources)
//   - log spam (single log entry per offender per tracked lifetime)
//
// What this does NOT protect against:
//   - distributed abuse across many source addresses
package ratelimit

import "net/netip"

// source tracks one address's attempt counter.
type source struct {
	count uint64
	// logged tracks whether we have already emitted the first-denial
	// callback; re-arms when the entry is pruned and re-created
	logged bool
}

// Limiter counts connection attempts per source address.
//
// It is intentionally not safe for concurrent use: the serve loop is the
// only mutator, so Accept and Decay never race and no locking is needed.
type Limiter struct {
	sources map[netip.Addr]*source

	// threshold is the admission ceiling: a source is admitted while its
	// counter is strictly below it
	threshold uint64

	// decay is subtracted from every counter on each Decay call
	decay uint64

	// OnFirstDenied is called once per tracked lifetime when a source first
	// gets rejected, used for logging
	OnFirstDenied func(addr netip.Addr)

	// OnDenied is called on every rejection, used for incrementing
	// prometheus counters
	OnDenied func(addr netip.Addr)
}

type Option func(*Limiter)

// WithThreshold sets the admission ceiling. A source is admitted while its
// attempt counter is strictly below n.
func WithThreshold(n uint64) Option {
	return func(l *Limiter) { l.threshold = n }
}

// WithDecay sets how much every counter is lowered per Decay call.
// Keeping it equal to the threshold means one full decay period exactly
// cancels having been at the admission boundary.
func WithDecay(n uint64) Option {
	return func(l *Limiter) { l.decay = n }
}

// WithOnFirstDenied sets a callback for the first rejection per tracked
// lifetime. Intentionally separate from OnDenied - we log once but count
// every rejection.
func WithOnFirstDenied(fn func(addr netip.Addr)) Option {
	return func(l *Limiter) { l.OnFirstDenied = fn }
}

// WithOnDenied sets a callback for every rejection.
func WithOnDenied(fn func(addr netip.Addr)) Option {
	return func(l *Limiter) { l.OnDenied = fn }
}

// New creates a Limiter. Defaults admit 10 attempts per decay period and
// lower counters by 10 per period.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		sources:   make(map[netip.Addr]*source),
		threshold: 10,
		decay:     10,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Accept decides admission for one connection attempt from addr and records
// the attempt. The counter is incremented even on rejection.
func (l *Limiter) Accept(addr netip.Addr) bool {
	s, ok := l.sources[addr]
	if !ok {
		s = &source{}
		l.sources[addr] = s
	}
	admitted := s.count < l.threshold
	s.count++

	if !admitted {
		if !s.logged {
			s.logged = true
			if l.OnFirstDenied != nil {
				l.OnFirstDenied(addr)
			}
		}
		if l.OnDenied != nil {
			l.OnDenied(addr)
		}
	}
	return admitted
}

// Decay lowers every counter by the decay amount, clamped at zero, and
// prunes sources that reach zero.
func (l *Limiter) Decay() {
	for addr, s := range l.sources {
		if s.count <= l.decay {
			delete(l.sources, addr)
			continue
		}
		s.count -= l.decay
	}
}

// Len reports how many sources are currently tracked, for gauge updates by
// the owning loop.
func (l *Limiter) Len() int { return len(l.sources) }
