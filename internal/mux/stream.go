package mux

import (
	"fmt"
	"io"
	"sync"

	"github.com/make87/m87-tunnel/internal/wire"
)

// Stream is one logical bidirectional substream multiplexed over a Session.
// Reads and writes are FIFO within their own direction; flow control is
// independent per stream and per direction.
type Stream struct {
	id      uint32
	session *Session

	mu         sync.Mutex
	cond       *sync.Cond
	readBuf    []byte
	recvWindow uint32
	sendWindow uint32

	finRecv   bool
	finSent   bool
	rstRecv   bool
	closed    bool
	closeErr  error
}

func newStream(id uint32, session *Session) *Stream {
	s := &Stream{
		id:         id,
		session:    session,
		recvWindow: wire.InitialWindow,
		sendWindow: wire.InitialWindow,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the stream's identifier.
func (s *Stream) ID() uint32 { return s.id }

// Read blocks until data is available, FIN is received, or the stream/session
// terminates. It returns as much buffered data as fits in p, which may span
// several received frames, and always honours the FIFO ordering of writes.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.readBuf) == 0 && !s.finRecv && !s.rstRecv && !s.closed {
		s.cond.Wait()
	}

	if len(s.readBuf) > 0 {
		n := copy(p, s.readBuf)
		s.readBuf = s.readBuf[n:]
		s.replenishWindowLocked()
		return n, nil
	}
	if s.rstRecv || s.closed {
		if s.closeErr != nil {
			return 0, s.closeErr
		}
		return 0, fmt.Errorf("stream %d reset", s.id)
	}
	return 0, io.EOF
}

// Write sends p to the peer, chunking and blocking on flow control as needed.
func (s *Stream) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > wire.MaxPayloadSize {
			chunk = chunk[:wire.MaxPayloadSize]
		}

		s.mu.Lock()
		for s.sendWindow == 0 && !s.closed && !s.rstRecv {
			s.cond.Wait()
		}
		if s.closed || s.rstRecv {
			err := s.closeErr
			s.mu.Unlock()
			if err == nil {
				err = fmt.Errorf("stream %d closed", s.id)
			}
			return total, err
		}
		if uint32(len(chunk)) > s.sendWindow {
			chunk = chunk[:s.sendWindow]
		}
		s.sendWindow -= uint32(len(chunk))
		s.mu.Unlock()

		if err := s.session.writeFrame(&wire.Frame{Type: wire.TypeDATA, StreamID: s.id, Payload: chunk}); err != nil {
			return total, fmt.Errorf("writing data frame: %w", err)
		}

		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// Shutdown half-closes the write side of the stream by sending FIN.
func (s *Stream) Shutdown() error {
	s.mu.Lock()
	if s.finSent || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.finSent = true
	s.mu.Unlock()
	return s.session.writeFrame(&wire.Frame{Type: wire.TypeFIN, StreamID: s.id})
}

// Close sends FIN (if not already sent) and detaches the stream from its
// session. Safe to call multiple times.
func (s *Stream) Close() error {
	s.mu.Lock()
	alreadyClosed := s.closed
	needFIN := !s.finSent
	s.finSent = true
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()

	s.session.removeStream(s.id)
	if alreadyClosed {
		return nil
	}
	if needFIN {
		_ = s.session.writeFrame(&wire.Frame{Type: wire.TypeFIN, StreamID: s.id})
	}
	return nil
}

// Abort sends RST to the peer and terminates the stream locally with err.
func (s *Stream) Abort(err error) error {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	if err != nil {
		s.closeErr = err
	}
	s.mu.Unlock()
	s.cond.Broadcast()

	s.session.removeStream(s.id)
	if alreadyClosed {
		return nil
	}
	return s.session.writeFrame(&wire.Frame{Type: wire.TypeRST, StreamID: s.id})
}

// replenishWindowLocked sends a WIN_UPDATE once the remaining receive
// window drops below half of InitialWindow, restoring it to InitialWindow.
// Must be called with s.mu held.
func (s *Stream) replenishWindowLocked() {
	if s.recvWindow >= wire.InitialWindow/2 {
		return
	}
	increment := wire.InitialWindow - s.recvWindow
	s.recvWindow = wire.InitialWindow
	id := s.id
	go func() {
		_ = s.session.writeFrame(wire.WriteWindowUpdate(id, increment))
	}()
}

// deliverData is invoked by the session's read loop when a DATA frame
// arrives for this stream.
func (s *Stream) deliverData(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.readBuf = append(s.readBuf, payload...)
	if uint32(len(payload)) <= s.recvWindow {
		s.recvWindow -= uint32(len(payload))
	} else {
		s.recvWindow = 0
	}
	s.cond.Broadcast()
}

// growSendWindow is invoked when a WIN_UPDATE arrives for this stream.
func (s *Stream) growSendWindow(increment uint32) {
	s.mu.Lock()
	s.sendWindow += increment
	s.mu.Unlock()
	s.cond.Broadcast()
}

// markFIN records that the peer half-closed its write side.
func (s *Stream) markFIN() {
	s.mu.Lock()
	s.finRecv = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// markRST records that the peer (or the session) aborted the stream with err.
func (s *Stream) markRST(err error) {
	s.mu.Lock()
	s.rstRecv = true
	s.closeErr = err
	s.mu.Unlock()
	s.cond.Broadcast()
}
