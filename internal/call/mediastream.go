package call

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegate/voicegate/internal/aisession"
	"github.com/voicegate/voicegate/internal/audio"
	"github.com/voicegate/voicegate/internal/pacer"
	"github.com/voicegate/voicegate/internal/wire"
)

// streamChunkBytes is 20ms of 8kHz mu-law, one byte per sample.
const streamChunkBytes = 160

// StreamHandler serves the media-streaming WebSocket endpoint. Inbound
// audio is base64 mu-law at 8kHz; outbound media messages are paced at
// real-time cadence.
type StreamHandler struct {
	cfg      Config
	newAI    aiFactory
	upgrader websocket.Upgrader
}

// NewStreamHandler creates the media-streaming front end.
func NewStreamHandler(cfg Config) *StreamHandler {
	return &StreamHandler{
		cfg:   cfg,
		newAI: defaultAIFactory,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The telephony provider connects without a browser origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.WarnContext(r.Context(), "media stream upgrade failed",
			slog.String("error", err.Error()))
		return
	}
	h.handle(r.Context(), ws)
}

func (h *StreamHandler) handle(ctx context.Context, ws *websocket.Conn) {
	sess := newSession(TransportMediaStream, h.cfg.Publisher)

	var writeMu sync.Mutex
	writeMessage := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return ws.WriteMessage(websocket.TextMessage, data)
	}

	sess.closeSocket = func() { ws.Close() }
	defer sess.teardown(ctx, "disconnect")

	var (
		streamSID string
		ai        aiLink
	)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.WarnContext(ctx, "media stream read failed",
					slog.String("session_id", sess.ID()),
					slog.String("error", err.Error()))
			}
			return
		}

		msg, derr := wire.DecodeStreamMessage(data)
		if derr != nil {
			sess.emitError(ctx, "protocol", derr)
			sess.teardown(ctx, "protocol-error")
			return
		}

		switch msg.Event {
		case wire.EventConnected:
			slog.DebugContext(ctx, "media stream connected",
				slog.String("session_id", sess.ID()))

		case wire.EventStart:
			if ai != nil {
				slog.WarnContext(ctx, "duplicate start event ignored",
					slog.String("session_id", sess.ID()))
				continue
			}
			if msg.Start == nil || msg.Start.StreamSID == "" {
				sess.emitError(ctx, "protocol",
					fmt.Errorf("start event missing stream sid"))
				sess.teardown(ctx, "protocol-error")
				return
			}
			streamSID = msg.Start.StreamSID
			sess.setID(streamSID)
			tenantName := msg.Start.CustomParams["tenant"]

			sid := streamSID
			sess.pace = pacer.New(pacer.Config{
				Policy:     pacer.PolicyPaced,
				ChunkBytes: streamChunkBytes,
				Interval:   20 * time.Millisecond,
			}, func(chunk []byte) {
				out, eerr := wire.EncodeMediaMessage(sid, chunk)
				if eerr != nil {
					slog.WarnContext(ctx, "encode media message failed",
						slog.String("session_id", sid),
						slog.String("error", eerr.Error()))
					return
				}
				if werr := writeMessage(out); werr != nil {
					slog.WarnContext(ctx, "media write failed",
						slog.String("session_id", sid),
						slog.String("error", werr.Error()))
					return
				}
				sess.framesOut.Add(1)
			})

			cfg := h.cfg.aiConfigFor(tenantName)
			link := h.newAI(cfg, aisession.Callbacks{
				OnAudio: func(pcm []byte) {
					down, cerr := audio.Downsample(pcm, 3)
					if cerr != nil {
						sess.chunksDropped.Add(1)
						slog.WarnContext(ctx, "drop bad outbound chunk",
							slog.String("session_id", sid),
							slog.String("error", cerr.Error()))
						return
					}
					ulaw, cerr := audio.EncodeUlaw(down)
					if cerr != nil {
						sess.chunksDropped.Add(1)
						return
					}
					sess.setState(StateActive)
					sess.pace.Push(ulaw)
				},
				OnInterrupted: func() {
					discarded := sess.pace.Buffered()
					sess.pace.Clear()
					sess.setState(StateInterrupted)
					// One clear control message so audio already buffered
					// by the provider is discarded as well.
					if clearMsg, eerr := wire.EncodeClearMessage(sid); eerr == nil {
						if werr := writeMessage(clearMsg); werr != nil {
							slog.WarnContext(ctx, "clear write failed",
								slog.String("session_id", sid),
								slog.String("error", werr.Error()))
						}
					}
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
			if serr := link.Start(ctx); serr != nil {
				sess.emitError(ctx, "ai", serr)
				sess.teardown(ctx, "ai-unavailable")
				return
			}
			ai = link
			sess.setState(StateAwaitingGreeting)
			sess.emitStarted(ctx, tenantName, streamSID)
			slog.InfoContext(ctx, "media stream started",
				slog.String("session_id", streamSID),
				slog.String("tenant", tenantName))

		case wire.EventMedia:
			if ai == nil {
				slog.WarnContext(ctx, "media before start, dropping",
					slog.String("session_id", sess.ID()))
				continue
			}
			payload, perr := msg.AudioPayload()
			if perr != nil {
				sess.chunksDropped.Add(1)
				slog.WarnContext(ctx, "drop bad inbound chunk",
					slog.String("session_id", sess.ID()),
					slog.String("error", perr.Error()))
				continue
			}
			pcm, cerr := audio.DecodeUlaw(payload)
			if cerr != nil {
				sess.chunksDropped.Add(1)
				continue
			}
			up, cerr := audio.Upsample2x(pcm)
			if cerr != nil {
				sess.chunksDropped.Add(1)
				continue
			}
			sess.framesIn.Add(1)
			if serr := ai.SendAudio(up); serr != nil {
				slog.WarnContext(ctx, "forward audio failed",
					slog.String("session_id", sess.ID()),
					slog.String("error", serr.Error()))
			}

		case wire.EventStop:
			sess.teardown(ctx, "stop")
			return

		default:
			// Providers send bookkeeping events (marks, DTMF) we do not
			// act on.
			slog.DebugContext(ctx, "ignoring stream event",
				slog.String("event", msg.Event))
		}
	}
}
