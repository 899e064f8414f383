package call

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/wire"
)

func writeRawFrame(t *testing.T, conn net.Conn, frameType byte, payload []byte) {
	t.Helper()
	data, err := wire.EncodeFrame(frameType, payload)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// readRawFrame reads until one complete frame is decoded.
func readRawFrame(t *testing.T, conn net.Conn, parser *wire.Parser) *wire.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 4096)
	for {
		frame, err := parser.Next()
		if err != nil {
			t.Fatalf("parse frame: %v", err)
		}
		if frame != nil {
			return frame
		}
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("read frame bytes: %v", err)
		}
		parser.Append(buf[:n])
	}
}

func TestRawCallEndToEnd(t *testing.T) {
	fake := &fakeAI{}
	srv := NewRawServer(Config{})
	srv.newAI = fake.factory()

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		srv.handleConn(t.Context(), server)
		close(done)
	}()

	writeRawFrame(t, client, wire.TypeUUID, []byte("abc-123"))

	// Three 20ms chunks of 8kHz audio, big-endian on the wire.
	var wantForwarded []byte
	for i := 0; i < 3; i++ {
		le := pcmBytes(160, i*37)
		be, err := audio.SwapBytes(le)
		if err != nil {
			t.Fatalf("swap: %v", err)
		}
		writeRawFrame(t, client, wire.TypeAudio, be)

		up, err := audio.Upsample2x(le)
		if err != nil {
			t.Fatalf("upsample: %v", err)
		}
		wantForwarded = append(wantForwarded, up...)
	}

	waitFor(t, func() bool { return len(fake.received()) == len(wantForwarded) },
		"audio forwarded upstream")
	if !bytes.Equal(fake.received(), wantForwarded) {
		t.Error("forwarded audio does not match upsampled little-endian input")
	}
	if len(wantForwarded) != 1920 {
		t.Fatalf("forwarded %d bytes, want 1920 (60ms at 16kHz)", len(wantForwarded))
	}

	// AI responds with 15ms of 24kHz audio; the leg must get one framed
	// 240-byte chunk of 8kHz big-endian audio.
	resp := pcmBytes(360, 911)
	go fake.cb.OnAudio(resp)

	wantDown, err := audio.Downsample(resp, 3)
	if err != nil {
		t.Fatalf("downsample: %v", err)
	}
	wantBE, err := audio.SwapBytes(wantDown)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}

	parser := &wire.Parser{}
	frame := readRawFrame(t, client, parser)
	if frame.Type != wire.TypeAudio {
		t.Fatalf("frame type = 0x%02X, want AUDIO", frame.Type)
	}
	if len(frame.Payload) != 240 {
		t.Errorf("outbound payload = %d bytes, want 240", len(frame.Payload))
	}
	if !bytes.Equal(frame.Payload, wantBE) {
		t.Error("outbound audio does not match downsampled byte-swapped response")
	}

	writeRawFrame(t, client, wire.TypeHangup, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit after hangup")
	}
	if !fake.isClosed() {
		t.Error("AI session not closed on hangup")
	}
}

func TestRawCallProtocolErrorClosesSession(t *testing.T) {
	fake := &fakeAI{}
	srv := NewRawServer(Config{})
	srv.newAI = fake.factory()

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		srv.handleConn(t.Context(), server)
		close(done)
	}()

	// Header declaring a payload far beyond the allowed maximum.
	if _, err := client.Write([]byte{wire.TypeAudio, 0xFF, 0xFF}); err != nil {
		t.Fatalf("write: %v", err)
	}

	parser := &wire.Parser{}
	frame := readRawFrame(t, client, parser)
	if frame.Type != wire.TypeError {
		t.Fatalf("frame type = 0x%02X, want ERROR", frame.Type)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit on protocol error")
	}
}

func TestRawCallAudioWithoutUUIDUsesDefaults(t *testing.T) {
	fake := &fakeAI{}
	srv := NewRawServer(Config{})
	srv.newAI = fake.factory()

	client, server := net.Pipe()
	defer client.Close()

	go srv.handleConn(t.Context(), server)

	le := pcmBytes(160, 5)
	be, err := audio.SwapBytes(le)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	writeRawFrame(t, client, wire.TypeAudio, be)

	waitFor(t, func() bool { return len(fake.received()) > 0 },
		"audio forwarded without prior UUID")
}

func TestRawServerServeStopsOnContextCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := NewRawServer(Config{})
	ctx, cancel := context.WithCancel(t.Context())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, ln) }()

	cancel()
	select {
	case serveErr := <-errCh:
		if serveErr != nil && !errors.Is(serveErr, net.ErrClosed) {
			t.Errorf("Serve returned %v, want nil", serveErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
