// Package qotd is the quote-of-the-day responder: a TCP listener that emits
// one random quote line per admitted connection and closes.
//
// The serve loop is deliberately serialized: one connection is fully handled
// before the next accept, and the rate limiter is touched only from the loop
// goroutine, so admission state needs no locking. The only concurrency is
// the race between the next accept, the decay tick, and an in-flight write
// to a slow peer - the loop keeps servicing decay ticks while a write is
// outstanding, so a stalled peer delays the next accept but never delays
// decay.
package qotd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/quotd/internal/log"
	"github.com/keithlinneman/quotd/internal/xerrors"
)

type Server struct {
	opts Options
	ln   *net.TCPListener
	L    log.Logger

	// errLog throttles per-connection error logging so one misbehaving
	// peer cannot flood the log
	errLog *rate.Limiter

	tracer trace.Tracer
}

// New validates options and prepares a server. Listen must be called before
// Serve.
func New(opts Options) (*Server, error) {
	if opts.Limiter == nil {
		return nil, xerrors.New("qotd: limiter is required")
	}
	if opts.Corpus == nil || opts.Corpus.Len() == 0 {
		return nil, xerrors.New("qotd: quote corpus must be non-empty")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.DecayInterval <= 0 {
		opts.DecayInterval = 60 * time.Second
	}
	return &Server{
		opts:   opts,
		L:      opts.Logger,
		errLog: rate.NewLimiter(rate.Every(time.Second), 5),
		tracer: otel.Tracer("github.com/keithlinneman/quotd/internal/qotd"),
	}, nil
}

// Listen binds all IPv4 interfaces on the configured port.
func (s *Server) Listen(ctx context.Context) error {
	addr := fmt.Sprintf("0.0.0.0:%d", s.opts.Port)
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return xerrors.Wrapf(err, "binding on port %d", s.opts.Port)
	}
	s.ln = ln.(*net.TCPListener)
	s.L.Info(ctx, "listening", "addr", ln.Addr().String())
	return nil
}

// Addr reports the bound address. Only valid after Listen.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Close closes the listener, which unblocks Serve.
func (s *Server) Close() error { return s.ln.Close() }

type acceptResult struct {
	conn *net.TCPConn
	err  error
}

// Serve runs the accept/decay loop until ctx is cancelled, the listener is
// closed, or a fatal error occurs. Exactly one event - an accept result or
// a decay tick - is handled per iteration.
func (s *Server) Serve(ctx context.Context) error {
	accepts := make(chan acceptResult)
	go func() {
		for {
			conn, err := s.ln.AcceptTCP()
			select {
			case accepts <- acceptResult{conn: conn, err: err}:
				if err != nil {
					return
				}
			case <-ctx.Done():
				if conn != nil {
					conn.Close()
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.decay()
		case ar := <-accepts:
			if ar.err != nil {
				if errors.Is(ar.err, net.ErrClosed) || ctx.Err() != nil {
					return nil
				}
				return xerrors.Wrap(ar.err, "accepting connection")
			}
			if err := s.handle(ctx, ar.conn, ticker); err != nil {
				if s.opts.OnHandlerError != nil {
					s.opts.OnHandlerError()
				}
				if s.opts.FailFast {
					return err
				}
				if s.errLog.Allow() {
					s.L.Error(ctx, err, "connection handling failed")
				}
			}
		}
	}
}

// handle runs one admission decision and, for admitted peers, the response
// write. The write happens in its own goroutine while this loop iteration
// keeps servicing decay ticks; the limiter is only touched before the write
// starts, so it stays single-owner.
func (s *Server) handle(ctx context.Context, conn *net.TCPConn, ticker *time.Ticker) error {
	peer := remoteAddr(conn)

	_, span := s.tracer.Start(ctx, "qotd.connection",
		trace.WithAttributes(attribute.String("peer.addr", peer.String())))
	defer span.End()

	if !s.opts.Limiter.Accept(peer) {
		span.SetAttributes(attribute.Bool("qotd.admitted", false))
		// rejection is silent: zero bytes, orderly shutdown
		return shutdown(conn)
	}
	span.SetAttributes(attribute.Bool("qotd.admitted", true))

	quote := s.opts.Corpus.Pick()

	done := make(chan error, 1)
	go func() { done <- s.writeQuote(conn, quote) }()

	for {
		select {
		case err := <-done:
			if err != nil {
				span.RecordError(err)
				return err
			}
			if s.opts.OnAdmitted != nil {
				s.opts.OnAdmitted(len(quote) + 1)
			}
			return nil
		case <-ticker.C:
			s.decay()
		}
	}
}

// writeQuote emits the quote line and performs orderly shutdown. Exactly one
// close on every path, including after a partial write.
func (s *Server) writeQuote(conn *net.TCPConn, quote string) error {
	if s.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}

	buf := make([]byte, 0, len(quote)+1)
	buf = append(buf, quote...)
	buf = append(buf, '\n')

	if _, err := conn.Write(buf); err != nil {
		conn.Close()
		return xerrors.Wrap(err, "writing quote")
	}
	return shutdown(conn)
}

// shutdown closes the write side first so the peer sees a clean end of
// stream, then releases the connection.
func shutdown(conn *net.TCPConn) error {
	err := conn.CloseWrite()
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	return xerrors.Wrap(err, "closing connection")
}

func (s *Server) decay() {
	s.opts.Limiter.Decay()
	if s.opts.OnDecay != nil {
		s.opts.OnDecay(s.opts.Limiter.Len())
	}
}

// remoteAddr extracts the peer's address, the rate limiting key. Ports are
// deliberately ignored: many connections from one host share one counter.
func remoteAddr(conn *net.TCPConn) netip.Addr {
	if ta, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		return ta.AddrPort().Addr().Unmap()
	}
	return netip.Addr{}
}
