package wire

import (
	"bytes"
	"net"
	"testing"
)

func Test_marshal_unmarshal_round_trip(t *testing.T) {
	original := &Frame{
		Type:     TypeDATA,
		StreamID: 42,
		Payload:  []byte("hello world"),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	if decoded.Type != original.Type {
		t.Errorf("type mismatch: got %d, want %d", decoded.Type, original.Type)
	}
	if decoded.StreamID != original.StreamID {
		t.Errorf("stream id mismatch: got %d, want %d", decoded.StreamID, original.StreamID)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("payload mismatch: got %q, want %q", decoded.Payload, original.Payload)
	}
}

func Test_marshal_empty_payload(t *testing.T) {
	original := &Frame{Type: TypePing, StreamID: 0, Payload: nil}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if len(data) != HeaderSize {
		t.Errorf("expected %d bytes for empty payload, got %d", HeaderSize, len(data))
	}
}

func Test_marshal_rejects_oversized_payload(t *testing.T) {
	oversized := &Frame{Type: TypeDATA, StreamID: 1, Payload: make([]byte, MaxPayloadSize+1)}
	if _, err := Marshal(oversized); err == nil {
		t.Fatal("expected error for oversized payload")
	}
}

func Test_unmarshal_rejects_truncated_data(t *testing.T) {
	if _, err := Unmarshal([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for truncated data")
	}
}

func Test_window_update_round_trip(t *testing.T) {
	f := WriteWindowUpdate(7, 65536)
	inc, err := ReadWindowUpdate(f)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if inc != 65536 {
		t.Errorf("got %d, want 65536", inc)
	}
}

func Test_ping_pong_nonce_round_trip(t *testing.T) {
	f := WritePing(12345)
	nonce, err := ReadNonce(f)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if nonce != 12345 {
		t.Errorf("got %d, want 12345", nonce)
	}
}

func Test_stream_id_parity(t *testing.T) {
	if !IsClientStream(1) {
		t.Error("1 should be a client (odd) stream id")
	}
	if IsClientStream(2) {
		t.Error("2 should not be a client stream id")
	}
}

func Test_codec_round_trip_over_pipe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientCodec := NewCodec(clientConn)
	serverCodec := NewCodec(serverConn)

	want := &Frame{Type: TypeDATA, StreamID: 9, Payload: []byte("payload")}
	errCh := make(chan error, 1)
	go func() { errCh <- clientCodec.WriteFrame(want) }()

	got, err := serverCodec.ReadFrame()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got.Type != want.Type || got.StreamID != want.StreamID || !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func Test_codec_read_error_on_closed_pipe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	serverConn.Close()
	codec := NewCodec(clientConn)
	_, err := codec.ReadFrame()
	if err == nil {
		t.Fatal("expected error reading from closed pipe")
	}
}
