package qotd

import (
	"time"

	"github.com/keithlinneman/quotd/internal/log"
	"github.com/keithlinneman/quotd/internal/quotes"
	"github.com/keithlinneman/quotd/internal/ratelimit"
)

type Options struct {
	// Port to bind on all IPv4 interfaces. 0 binds an ephemeral port,
	// which the tests use; Addr reports the bound address either way.
	Port int

	// DecayInterval is the rate limiter decay period.
	DecayInterval time.Duration

	// WriteTimeout bounds a single connection's quote write. 0 means no
	// deadline; a stalled peer then delays the next accept indefinitely
	// but never blocks decay.
	WriteTimeout time.Duration

	// FailFast terminates Serve on the first per-connection I/O error
	// instead of logging and continuing.
	FailFast bool

	Logger  log.Logger
	Limiter *ratelimit.Limiter
	Corpus  *quotes.Corpus

	// OnAdmitted is called after a quote was written successfully, with
	// the number of bytes emitted including the newline.
	OnAdmitted func(quoteBytes int)

	// OnDecay is called after each decay pass with the number of sources
	// still tracked.
	OnDecay func(tracked int)

	// OnHandlerError is called for every per-connection I/O failure.
	OnHandlerError func()
}
