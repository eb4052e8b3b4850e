package ptyexec

import (
	"bytes"
	"testing"
)

func Test_resize_scanner_passes_plain_data(t *testing.T) {
	var data bytes.Buffer
	s := newResizeScanner(func(b []byte) { data.Write(b) }, func(winsize) { t.Fatal("unexpected resize") })
	s.Feed([]byte("hello world"))
	if data.String() != "hello world" {
		t.Errorf("got %q", data.String())
	}
}

func Test_resize_scanner_extracts_frame_mid_stream(t *testing.T) {
	var data bytes.Buffer
	var got winsize
	s := newResizeScanner(func(b []byte) { data.Write(b) }, func(ws winsize) { got = ws })

	frame := []byte{0xFF, 0x00, 50, 0x00, 120}
	input := append(append([]byte("before"), frame...), []byte("after")...)
	s.Feed(input)

	if data.String() != "beforeafter" {
		t.Errorf("got data %q", data.String())
	}
	if got.Rows != 50 || got.Cols != 120 {
		t.Errorf("got %+v, want 50x120", got)
	}
}

func Test_resize_scanner_handles_frame_split_across_feeds(t *testing.T) {
	var data bytes.Buffer
	var got winsize
	s := newResizeScanner(func(b []byte) { data.Write(b) }, func(ws winsize) { got = ws })

	s.Feed([]byte{'x', 0xFF, 0x00, 24})
	s.Feed([]byte{0x00, 80, 'y'})

	if data.String() != "xy" {
		t.Errorf("got data %q", data.String())
	}
	if got.Rows != 24 || got.Cols != 80 {
		t.Errorf("got %+v, want 24x80", got)
	}
}

func Test_resize_scanner_marker_byte_followed_by_more_plain_data(t *testing.T) {
	// 0xFF shows up but the stream ends before a full 5-byte frame can
	// form; the pending marker byte is held back rather than emitted as
	// data, and is folded into the next frame once enough bytes arrive.
	var data bytes.Buffer
	var got winsize
	s := newResizeScanner(func(b []byte) { data.Write(b) }, func(ws winsize) { got = ws })

	s.Feed([]byte{'a', 'b', 0xFF})
	s.Feed([]byte{1, 2})
	s.Feed([]byte{3, 4, 'c'})

	if data.String() != "abc" {
		t.Errorf("got data %q", data.String())
	}
	wantRows, wantCols := uint16(1)<<8|uint16(2), uint16(3)<<8|uint16(4)
	if got.Rows != wantRows || got.Cols != wantCols {
		t.Errorf("got %+v, want %dx%d", got, wantRows, wantCols)
	}
}
