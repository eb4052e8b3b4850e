// Package mux implements the stream multiplexer (C1): frame-level
// multiplexing of many logical bidirectional substreams over one reliable
// transport, with per-substream flow control and session keep-alive.
package mux

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/make87/m87-tunnel/internal/wire"
)

// Role determines which parity of stream ids a session allocates when
// opening a stream locally: client-initiated ids are odd, server-initiated
// ids are even, so the two sides can never collide.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPingTimeout  = 90 * time.Second
)

// Session multiplexes substreams over a single underlying duplex connection.
type Session struct {
	role   Role
	codec  *wire.Codec
	logger *slog.Logger

	pingInterval time.Duration
	pingTimeout  time.Duration

	mu      sync.Mutex
	streams map[uint32]*Stream
	nextID  uint32

	acceptMu sync.Mutex
	acceptC  *sync.Cond
	pending  []*Stream

	lastPongNano atomic.Int64
	nonce        atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithPingInterval overrides the default 30s keep-alive interval.
func WithPingInterval(d time.Duration) Option { return func(s *Session) { s.pingInterval = d } }

// WithPingTimeout overrides the default 90s missed-pong timeout.
func WithPingTimeout(d time.Duration) Option { return func(s *Session) { s.pingTimeout = d } }

// NewSession wraps codec's frames into a multiplexed session and starts its
// background read and keep-alive loops.
func NewSession(codec *wire.Codec, role Role, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		role:         role,
		codec:        codec,
		logger:       logger,
		pingInterval: defaultPingInterval,
		pingTimeout:  defaultPingTimeout,
		streams:      make(map[uint32]*Stream),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.acceptC = sync.NewCond(&s.acceptMu)
	if role == RoleClient {
		s.nextID = 1
	} else {
		s.nextID = 2
	}
	s.lastPongNano.Store(time.Now().UnixNano())

	go s.readLoop()
	go s.pingLoop()
	return s
}

// OpenStream allocates a new stream id local to this session and returns it
// immediately; opening is local-only and requires no round trip. ctx is
// not consulted.
func (s *Session) OpenStream(ctx context.Context) (*Stream, error) {
	select {
	case <-s.done:
		return nil, s.closeErrOrDefault()
	default:
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID += 2
	st := newStream(id, s)
	s.streams[id] = st
	s.mu.Unlock()

	if err := s.writeFrame(&wire.Frame{Type: wire.TypeSYN, StreamID: id}); err != nil {
		s.removeStream(id)
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	return st, nil
}

// AcceptStream blocks until the peer opens a stream, the session closes, or
// ctx is cancelled.
func (s *Session) AcceptStream(ctx context.Context) (*Stream, error) {
	type result struct {
		st  *Stream
		err error
	}
	resCh := make(chan result, 1)

	go func() {
		s.acceptMu.Lock()
		for len(s.pending) == 0 {
			select {
			case <-s.done:
				s.acceptMu.Unlock()
				resCh <- result{nil, s.closeErrOrDefault()}
				return
			default:
			}
			s.acceptC.Wait()
		}
		st := s.pending[0]
		s.pending = s.pending[1:]
		s.acceptMu.Unlock()
		resCh <- result{st, nil}
	}()

	select {
	case r := <-resCh:
		return r.st, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		// wake the waiting goroutine so it doesn't leak
		s.acceptMu.Lock()
		s.acceptC.Broadcast()
		s.acceptMu.Unlock()
		return nil, s.closeErrOrDefault()
	}
}

// Done returns a channel closed when the session terminates.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the reason the session terminated, if any.
func (s *Session) Err() error { return s.closeErr }

// Close tears down the session: the transport is closed and every open
// stream is failed with the same error.
func (s *Session) Close() error {
	return s.closeWithErr(fmt.Errorf("session closed"))
}

func (s *Session) closeWithErr(err error) error {
	s.closeOnce.Do(func() {
		s.closeErr = err
		close(s.done)
		s.codec.Close()

		s.mu.Lock()
		streams := make([]*Stream, 0, len(s.streams))
		for _, st := range s.streams {
			streams = append(streams, st)
		}
		s.streams = make(map[uint32]*Stream)
		s.mu.Unlock()

		for _, st := range streams {
			st.markRST(err)
		}

		s.acceptMu.Lock()
		s.acceptC.Broadcast()
		s.acceptMu.Unlock()
	})
	return nil
}

func (s *Session) closeErrOrDefault() error {
	if s.closeErr != nil {
		return s.closeErr
	}
	return fmt.Errorf("session closed")
}

func (s *Session) writeFrame(f *wire.Frame) error {
	select {
	case <-s.done:
		return s.closeErrOrDefault()
	default:
	}
	if err := s.codec.WriteFrame(f); err != nil {
		go s.closeWithErr(fmt.Errorf("transport write failed: %w", err))
		return err
	}
	return nil
}

func (s *Session) removeStream(id uint32) {
	s.mu.Lock()
	delete(s.streams, id)
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	var closeErr error
	defer func() { s.closeWithErr(closeErr) }()
	for {
		f, err := s.codec.ReadFrame()
		if err != nil {
			closeErr = fmt.Errorf("transport closed: %w", err)
			return
		}
		s.dispatch(f)
	}
}

func (s *Session) dispatch(f *wire.Frame) {
	switch f.Type {
	case wire.TypeSYN:
		st := newStream(f.StreamID, s)
		s.mu.Lock()
		s.streams[f.StreamID] = st
		s.mu.Unlock()
		s.acceptMu.Lock()
		s.pending = append(s.pending, st)
		s.acceptC.Signal()
		s.acceptMu.Unlock()

	case wire.TypeDATA:
		if st := s.lookup(f.StreamID); st != nil {
			st.deliverData(f.Payload)
		}

	case wire.TypeWinUpdate:
		inc, err := wire.ReadWindowUpdate(f)
		if err != nil {
			s.logger.Warn("malformed window update", "stream", f.StreamID, "err", err)
			return
		}
		if st := s.lookup(f.StreamID); st != nil {
			st.growSendWindow(inc)
		}

	case wire.TypeFIN:
		if st := s.lookup(f.StreamID); st != nil {
			st.markFIN()
		}

	case wire.TypeRST:
		if st := s.lookup(f.StreamID); st != nil {
			st.markRST(fmt.Errorf("stream %d reset by peer", f.StreamID))
			s.removeStream(f.StreamID)
		}

	case wire.TypePing:
		nonce, _ := wire.ReadNonce(f)
		_ = s.writeFrame(wire.WritePong(nonce))

	case wire.TypePong:
		s.lastPongNano.Store(time.Now().UnixNano())

	default:
		s.logger.Warn("unknown frame type", "type", f.Type, "stream", f.StreamID)
	}
}

func (s *Session) lookup(id uint32) *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[id]
}

func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if time.Since(time.Unix(0, s.lastPongNano.Load())) > s.pingTimeout {
				s.closeWithErr(fmt.Errorf("ping timeout after %s", s.pingTimeout))
				return
			}
			nonce := s.nonce.Add(1)
			if err := s.writeFrame(wire.WritePing(nonce)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
