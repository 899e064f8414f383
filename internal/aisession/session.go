// Package aisession owns the upstream realtime conversational audio session:
// connect, forward caller audio, receive synthesized speech and control
// events, trigger the greeting, and reconnect with bounded backoff.
package aisession

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Audio formats are fixed by the upstream service: the gateway sends 16kHz
// S16LE PCM and receives 24kHz S16LE PCM.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// ErrUnavailable is the terminal outcome after reconnect attempts are
// exhausted while the call leg is still up.
var ErrUnavailable = errors.New("ai session unavailable")

// State of the upstream session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateActive
	StateInterrupted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds per-call upstream session settings. Instructions, Greeting
// and Voice come from the tenant configuration bundle.
type Config struct {
	URL    string
	APIKey string

	Instructions string
	Greeting     string
	Voice        string

	// GreetingDelay lets the downstream audio subscription settle before
	// the greeting stimulus is sent.
	GreetingDelay time.Duration
	// MaxReconnects bounds reconnect attempts after an unexpected close.
	MaxReconnects int
	// ReconnectBackoff is the initial retry delay; it doubles per attempt
	// up to ReconnectBackoffMax.
	ReconnectBackoff    time.Duration
	ReconnectBackoffMax time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.GreetingDelay <= 0 {
		out.GreetingDelay = 300 * time.Millisecond
	}
	if out.MaxReconnects <= 0 {
		out.MaxReconnects = 3
	}
	if out.ReconnectBackoff <= 0 {
		out.ReconnectBackoff = 500 * time.Millisecond
	}
	if out.ReconnectBackoffMax <= 0 {
		out.ReconnectBackoffMax = 5 * time.Second
	}
	return out
}

// Callbacks deliver upstream output to the owning call session. OnAudio and
// OnInterrupted fire on the session's read goroutine; the call session is
// responsible for serializing access to its own state.
type Callbacks struct {
	// OnAudio receives one decoded 24kHz S16LE PCM fragment.
	OnAudio func(pcm []byte)
	// OnInterrupted fires when the upstream detects the caller speaking
	// over the assistant. Queued unsent output must be discarded.
	OnInterrupted func()
	// OnClosed fires exactly once when the session is finished for good.
	// A nil error means a requested close; ErrUnavailable means retries
	// were exhausted.
	OnClosed func(err error)
}

// Session is the upstream realtime session with reconnect handling. One
// Session serves one call leg; it is not reused across calls.
type Session struct {
	cfg Config
	cb  Callbacks

	mu           sync.Mutex
	conn         *websocket.Conn
	state        State
	greetingSent bool
	retries      int
	closing      bool

	writeMu sync.Mutex

	greetingTimer *time.Timer
	closedOnce    sync.Once
}

// New creates a session manager. Call Start to connect.
func New(cfg Config, cb Callbacks) *Session {
	return &Session{
		cfg:   cfg.withDefaults(),
		cb:    cb,
		state: StateDisconnected,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// GreetingSent reports whether the greeting stimulus went out on the
// current connection.
func (s *Session) GreetingSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.greetingSent
}

// Start dials the upstream and runs the session until Close or terminal
// failure. The initial dial error is returned synchronously; failures after
// that surface through OnClosed. The read loop runs on its own goroutine.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("ai session: already started (state %s)", s.state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	conn, err := s.dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		return fmt.Errorf("ai session connect: %w", err)
	}

	s.open(ctx, conn)
	go s.readLoop(ctx, conn)
	return nil
}

func (s *Session) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %d)", s.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	return conn, nil
}

// open transitions to Open on a fresh connection: configures the session,
// resets the retry counter and arms the greeting timer.
func (s *Session) open(ctx context.Context, conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.state = StateOpen
	s.retries = 0
	s.greetingSent = false
	s.mu.Unlock()

	if err := s.sendJSON(clientEvent{
		Type: typeSessionUpdate,
		Session: &sessionConfig{
			Instructions:      s.cfg.Instructions,
			Voice:             s.cfg.Voice,
			Modalities:        []string{"audio", "text"},
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection:     &turnDetection{Type: "server_vad"},
		},
	}); err != nil {
		slog.WarnContext(ctx, "ai session: send session config", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	if s.greetingTimer != nil {
		s.greetingTimer.Stop()
	}
	s.greetingTimer = time.AfterFunc(s.cfg.GreetingDelay, func() {
		s.sendGreeting(ctx)
	})
	s.mu.Unlock()
}

// sendGreeting emits the one-shot greeting stimulus. The greetingSent guard
// keeps a spurious timer re-arm or duplicate open from repeating it.
func (s *Session) sendGreeting(ctx context.Context) {
	s.mu.Lock()
	if s.greetingSent || s.closing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.greetingSent = true
	s.mu.Unlock()

	instructions := s.cfg.Greeting
	if instructions == "" {
		instructions = "Greet the caller and ask how you can help."
	}

	if err := s.sendJSON(clientEvent{
		Type:     typeResponseCreate,
		Response: &responseConfig{Instructions: instructions},
	}); err != nil {
		slog.WarnContext(ctx, "ai session: send greeting", slog.String("error", err.Error()))
	}
}

// SendAudio forwards one 16kHz S16LE PCM chunk upstream. Chunks arriving
// before the session is open are dropped with a warning rather than
// buffered; back-pressure is the upstream client's concern.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	open := s.state == StateOpen || s.state == StateActive || s.state == StateInterrupted
	s.mu.Unlock()
	if !open {
		return fmt.Errorf("ai session: not open")
	}

	return s.sendJSON(clientEvent{
		Type:  typeInputAudioAppend,
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

func (s *Session) sendJSON(ev clientEvent) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ai session: no connection")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(ev)
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleDisconnect(ctx, conn, err)
			return
		}

		var ev serverEvent
		if err := ev.unmarshal(data); err != nil {
			slog.WarnContext(ctx, "ai session: bad event", slog.String("error", err.Error()))
			continue
		}
		s.handleEvent(ctx, ev)
	}
}

func (s *Session) handleEvent(ctx context.Context, ev serverEvent) {
	switch ev.Type {
	case typeSessionCreated:
		slog.DebugContext(ctx, "ai session: created")

	case typeResponseAudio:
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			slog.WarnContext(ctx, "ai session: bad audio delta", slog.String("error", err.Error()))
			return
		}
		s.mu.Lock()
		if s.state == StateOpen || s.state == StateInterrupted {
			s.state = StateActive
		}
		s.mu.Unlock()
		if s.cb.OnAudio != nil {
			s.cb.OnAudio(pcm)
		}

	case typeSpeechStarted:
		s.mu.Lock()
		if s.state == StateActive {
			s.state = StateInterrupted
		}
		s.mu.Unlock()
		if s.cb.OnInterrupted != nil {
			s.cb.OnInterrupted()
		}

	case typeResponseDone:
		// Advisory only.
		slog.DebugContext(ctx, "ai session: turn complete")

	case typeError:
		msg := ""
		if ev.Error != nil {
			msg = ev.Error.Message
		}
		slog.WarnContext(ctx, "ai session: upstream error", slog.String("message", msg))

	default:
		slog.DebugContext(ctx, "ai session: unhandled event", slog.String("type", ev.Type))
	}
}

// handleDisconnect runs when the read loop exits. A requested close is
// terminal; an unexpected close schedules a reconnect until the retry
// limit is reached.
func (s *Session) handleDisconnect(ctx context.Context, conn *websocket.Conn, cause error) {
	_ = conn.Close()

	s.mu.Lock()
	if s.greetingTimer != nil {
		s.greetingTimer.Stop()
	}
	s.conn = nil
	if s.closing {
		s.state = StateClosed
		s.mu.Unlock()
		s.finish(nil)
		return
	}

	s.retries++
	attempt := s.retries
	if attempt > s.cfg.MaxReconnects {
		s.state = StateClosed
		s.mu.Unlock()
		slog.WarnContext(ctx, "ai session: retries exhausted", slog.Int("attempts", attempt-1))
		s.finish(ErrUnavailable)
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()

	backoff := s.cfg.ReconnectBackoff * (1 << (attempt - 1))
	if backoff > s.cfg.ReconnectBackoffMax {
		backoff = s.cfg.ReconnectBackoffMax
	}
	slog.InfoContext(ctx, "ai session: reconnecting",
		slog.Int("attempt", attempt),
		slog.Duration("backoff", backoff),
		slog.String("cause", cause.Error()),
	)

	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		s.finish(ctx.Err())
		return
	case <-timer.C:
	}

	s.mu.Lock()
	if s.closing {
		s.state = StateClosed
		s.mu.Unlock()
		s.finish(nil)
		return
	}
	s.mu.Unlock()

	newConn, err := s.dial(ctx)
	if err != nil {
		slog.WarnContext(ctx, "ai session: reconnect failed", slog.String("error", err.Error()))
		s.handleDisconnect(ctx, conn, err)
		return
	}

	// Fresh connection, fresh greeting-eligible session. Prior state is
	// not resumed.
	s.open(ctx, newConn)
	s.readLoop(ctx, newConn)
}

// Close tears the session down without reconnecting. Safe to call from any
// goroutine and more than once; OnClosed still fires exactly once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	if s.greetingTimer != nil {
		s.greetingTimer.Stop()
	}
	conn := s.conn
	alreadyDown := conn == nil
	if alreadyDown {
		s.state = StateClosed
	}
	s.mu.Unlock()

	if alreadyDown {
		s.finish(nil)
		return
	}

	s.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(2*time.Second))
	s.writeMu.Unlock()
	_ = conn.Close()
}

func (s *Session) finish(err error) {
	s.closedOnce.Do(func() {
		if s.cb.OnClosed != nil {
			s.cb.OnClosed(err)
		}
	})
}
