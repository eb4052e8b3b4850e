package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Codec reads and writes length-prefixed frames over a single reliable
// duplex byte stream (a TLS connection in production, net.Pipe in tests).
type Codec struct {
	r       *bufio.Reader
	w       io.Writer
	writeMu sync.Mutex
	closer  io.Closer
}

// NewCodec wraps a duplex connection with frame encoding/decoding.
func NewCodec(rwc io.ReadWriteCloser) *Codec {
	return &Codec{
		r:      bufio.NewReaderSize(rwc, 32*1024),
		w:      rwc,
		closer: rwc,
	}
}

// WriteFrame serialises and sends a frame.
func (c *Codec) WriteFrame(f *Frame) error {
	data, err := Marshal(f)
	if err != nil {
		return fmt.Errorf("marshalling frame: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.w.Write(data)
	if err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads and deserialises the next frame from the stream.
func (c *Codec) ReadFrame() (*Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(c.r, header); err != nil {
		return nil, fmt.Errorf("reading frame header: %w", err)
	}
	payloadLen := binary.BigEndian.Uint32(header[5:9])
	if payloadLen > MaxPayloadSize {
		return nil, fmt.Errorf("payload size %d exceeds maximum %d", payloadLen, MaxPayloadSize)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(c.r, payload); err != nil {
			return nil, fmt.Errorf("reading frame payload: %w", err)
		}
	}
	return &Frame{
		Type:     header[0],
		StreamID: binary.BigEndian.Uint32(header[1:5]),
		Payload:  payload,
	}, nil
}

// Close closes the underlying connection.
func (c *Codec) Close() error {
	return c.closer.Close()
}
