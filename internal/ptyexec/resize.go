package ptyexec

// resizeMarker is the lead byte of an inline terminal-resize frame.
const resizeMarker = 0xFF

// resizeFrameLen is the full frame size: marker + rows(2) + cols(2).
const resizeFrameLen = 5

// winsize is the payload of a decoded resize frame.
type winsize struct {
	Rows, Cols uint16
}

// resizeScanner extracts inline resize frames from an input byte stream
// that may split a frame across two reads. Bytes that are not part of a
// recognized frame are passed straight through to onData.
type resizeScanner struct {
	onData   func([]byte)
	onResize func(winsize)

	pending []byte // buffered possible-frame-start bytes
}

func newResizeScanner(onData func([]byte), onResize func(winsize)) *resizeScanner {
	return &resizeScanner{onData: onData, onResize: onResize}
}

// Feed processes another chunk of input.
func (s *resizeScanner) Feed(chunk []byte) {
	buf := append(s.pending, chunk...)
	s.pending = nil

	i := 0
	start := 0
	for i < len(buf) {
		if buf[i] != resizeMarker {
			i++
			continue
		}
		if i+resizeFrameLen > len(buf) {
			// possible frame start, but not enough bytes yet.
			if start < i {
				s.onData(buf[start:i])
			}
			s.pending = append(s.pending, buf[i:]...)
			return
		}
		if start < i {
			s.onData(buf[start:i])
		}
		rows := uint16(buf[i+1])<<8 | uint16(buf[i+2])
		cols := uint16(buf[i+3])<<8 | uint16(buf[i+4])
		s.onResize(winsize{Rows: rows, Cols: cols})
		i += resizeFrameLen
		start = i
	}
	if start < len(buf) {
		s.onData(buf[start:])
	}
}
