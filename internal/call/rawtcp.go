package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/voicegate/voicegate/internal/aisession"
	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/pacer"
	"github.com/voicegate/voicegate/internal/wire"
)

// RawServer accepts raw framed telephony bridge connections over TCP.
// Inbound audio is 8kHz big-endian S16; outbound frames carry 8kHz
// big-endian S16. Writes are immediate since the bridge on the far end
// does its own jitter buffering.
type RawServer struct {
	cfg   Config
	newAI aiFactory
}

// NewRawServer creates the raw framed front end.
func NewRawServer(cfg Config) *RawServer {
	return &RawServer{cfg: cfg, newAI: defaultAIFactory}
}

// Serve accepts connections until the listener closes or ctx is done.
// Each connection is handled on its own goroutine.
func (s *RawServer) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		slog.InfoContext(ctx, "raw call leg accepted",
			slog.String("remote", conn.RemoteAddr().String()))
		go s.handleConn(ctx, conn)
	}
}

func (s *RawServer) handleConn(ctx context.Context, conn net.Conn) {
	sess := newSession(TransportRawFramed, s.cfg.Publisher)

	var writeMu sync.Mutex
	writeFrame := func(frameType byte, payload []byte) {
		data, err := wire.EncodeFrame(frameType, payload)
		if err != nil {
			slog.WarnContext(ctx, "encode frame failed",
				slog.String("session_id", sess.ID()),
				slog.String("error", err.Error()))
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := conn.Write(data); err != nil {
			slog.WarnContext(ctx, "frame write failed",
				slog.String("session_id", sess.ID()),
				slog.String("error", err.Error()))
		}
	}

	sess.pace = pacer.New(pacer.Config{Policy: pacer.PolicyImmediate}, func(chunk []byte) {
		writeFrame(wire.TypeAudio, chunk)
		sess.framesOut.Add(1)
	})
	sess.closeSocket = func() { conn.Close() }

	defer sess.teardown(ctx, "disconnect")

	var ai aiLink

	startAI := func(tenantName string) error {
		cfg := s.cfg.aiConfigFor(tenantName)
		link := s.newAI(cfg, aisession.Callbacks{
			OnAudio: func(pcm []byte) {
				// 24kHz S16LE from upstream down to the leg's 8kHz,
				// then back to wire byte order.
				down, err := audio.Downsample(pcm, 3)
				if err != nil {
					sess.chunksDropped.Add(1)
					slog.WarnContext(ctx, "drop bad outbound chunk",
						slog.String("session_id", sess.ID()),
						slog.String("error", err.Error()))
					return
				}
				be, err := audio.SwapBytes(down)
				if err != nil {
					sess.chunksDropped.Add(1)
					return
				}
				sess.setState(StateActive)
				sess.pace.Push(be)
			},
			OnInterrupted: func() {
				discarded := sess.pace.Buffered()
				sess.pace.Clear()
				sess.setState(StateInterrupted)
				sess.emitInterrupted(ctx, discarded)
			},
			OnClosed: func(err error) {
				if err != nil {
					sess.emitError(ctx, "ai", err)
					sess.teardown(ctx, "ai-unavailable")
					return
				}
				sess.teardown(ctx, "ai-closed")
			},
		})
		sess.setAI(link)
		if err := link.Start(ctx); err != nil {
			return err
		}
		ai = link
		sess.setState(StateAwaitingGreeting)
		sess.emitStarted(ctx, tenantName, "")
		return nil
	}

	// The upstream session is opened lazily so a UUID message, which may
	// carry a tenant prefix, can select the persona first.
	ensureAI := func(tenantName string) bool {
		if ai != nil {
			return true
		}
		if err := startAI(tenantName); err != nil {
			sess.emitError(ctx, "ai", err)
			writeFrame(wire.TypeError, []byte("upstream unavailable"))
			sess.teardown(ctx, "ai-unavailable")
			return false
		}
		return true
	}

	parser := &wire.Parser{}
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				sess.emitError(ctx, "socket", err)
			}
			return
		}
		parser.Append(buf[:n])

		for {
			frame, perr := parser.Next()
			if perr != nil {
				sess.emitError(ctx, "protocol", perr)
				writeFrame(wire.TypeError, []byte(perr.Error()))
				sess.teardown(ctx, "protocol-error")
				return
			}
			if frame == nil {
				break
			}

			switch frame.Type {
			case wire.TypeHangup:
				sess.teardown(ctx, "hangup")
				return

			case wire.TypeUUID:
				id, tenantName := splitCallID(string(frame.Payload))
				sess.setID(id)
				slog.InfoContext(ctx, "raw call identified",
					slog.String("session_id", id),
					slog.String("tenant", tenantName))
				if !ensureAI(tenantName) {
					return
				}

			case wire.TypeAudio:
				if !ensureAI("") {
					return
				}
				sess.framesIn.Add(1)
				le, cerr := audio.SwapBytes(frame.Payload)
				if cerr != nil {
					sess.chunksDropped.Add(1)
					slog.WarnContext(ctx, "drop bad inbound chunk",
						slog.String("session_id", sess.ID()),
						slog.String("error", cerr.Error()))
					continue
				}
				up, cerr := audio.Upsample2x(le)
				if cerr != nil {
					sess.chunksDropped.Add(1)
					continue
				}
				if serr := ai.SendAudio(up); serr != nil {
					slog.WarnContext(ctx, "forward audio failed",
						slog.String("session_id", sess.ID()),
						slog.String("error", serr.Error()))
				}

			case wire.TypeError:
				slog.WarnContext(ctx, "peer reported error",
					slog.String("session_id", sess.ID()),
					slog.String("detail", string(frame.Payload)))

			default:
				sess.emitError(ctx, "protocol",
					fmt.Errorf("unknown frame type 0x%02X", frame.Type))
				sess.teardown(ctx, "protocol-error")
				return
			}
		}
	}
}

// splitCallID separates an optional "tenant:" prefix from the call id.
func splitCallID(payload string) (id, tenantName string) {
	if i := strings.IndexByte(payload, ':'); i > 0 {
		return payload[i+1:], payload[:i]
	}
	return payload, ""
}
