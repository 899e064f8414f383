// Package call bridges one telephone call leg to an upstream realtime
// AI audio session. Each accepted connection gets its own Session; no
// state is shared across calls.
package call

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/voicegate/voicegate/internal/aisession"
	"github.com/voicegate/voicegate/internal/pacer"
	"github.com/voicegate/voicegate/internal/tenant"
	"github.com/voicegate/voicegate/pkg/events"
)

// Transport identifies the call-leg protocol variant.
type Transport string

const (
	TransportRawFramed   Transport = "raw-framed"
	TransportMediaStream Transport = "media-stream"
)

// State is the call session lifecycle state. Transitions are monotonic
// except Active and Interrupted, which may oscillate until Closing.
type State int32

const (
	StateConnecting State = iota
	StateAwaitingGreeting
	StateActive
	StateInterrupted
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingGreeting:
		return "awaiting_greeting"
	case StateActive:
		return "active"
	case StateInterrupted:
		return "interrupted"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// aiLink is the slice of the upstream session the orchestrator drives.
type aiLink interface {
	Start(ctx context.Context) error
	SendAudio(pcm []byte) error
	Close()
}

// aiFactory builds the upstream link for one call leg.
type aiFactory func(cfg aisession.Config, cb aisession.Callbacks) aiLink

func defaultAIFactory(cfg aisession.Config, cb aisession.Callbacks) aiLink {
	return aisession.New(cfg, cb)
}

// Config carries the settings shared by both call-leg front ends.
type Config struct {
	// AI holds the upstream endpoint and timing settings. The persona
	// fields are overridden per tenant before each call connects.
	AI aisession.Config

	// Tenants resolves per-tenant persona bundles; nil disables lookup
	// and every call uses AI's persona fields as-is.
	Tenants       *tenant.Loader
	DefaultTenant string

	// Publisher receives call lifecycle events; nil disables emission.
	Publisher *events.Publisher
}

func (c Config) aiConfigFor(tenantName string) aisession.Config {
	cfg := c.AI
	if c.Tenants == nil {
		return cfg
	}
	tc := c.Tenants.Resolve(tenantName, c.DefaultTenant)
	if tc == nil {
		return cfg
	}
	if tc.PersonaInstructions != "" {
		cfg.Instructions = tc.PersonaInstructions
	}
	if tc.Greeting != "" {
		cfg.Greeting = tc.Greeting
	}
	if tc.VoiceID != "" {
		cfg.Voice = tc.VoiceID
	}
	return cfg
}

// Session is one bridged call. The owning connection goroutine and the
// upstream session's callbacks are the only writers; the mutex guards
// the fields they both touch.
type Session struct {
	transport Transport

	mu    sync.Mutex
	id    string
	state State
	ai    aiLink

	pace        *pacer.Pacer
	closeSocket func()

	publisher *events.Publisher
	startedAt time.Time

	framesIn      atomic.Int64
	framesOut     atomic.Int64
	chunksDropped atomic.Int64

	// torndown is a CAS guard rather than a sync.Once: ai.Close may fire
	// OnClosed synchronously on this goroutine, and that callback calls
	// teardown again.
	torndown atomic.Bool
}

func newSession(transport Transport, pub *events.Publisher) *Session {
	return &Session{
		transport: transport,
		id:        xid.New().String(),
		state:     StateConnecting,
		publisher: pub,
		startedAt: time.Now(),
	}
}

// ID returns the session identifier. Until the transport supplies one
// (UUID message or stream start) this is a generated placeholder.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) setID(id string) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	// Closing and Closed are terminal as far as callbacks are concerned.
	if s.state >= StateClosing && st < s.state {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setAI(ai aiLink) {
	s.mu.Lock()
	s.ai = ai
	s.mu.Unlock()
}

func (s *Session) emit(ctx context.Context, et events.EventType, data interface{}) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Emit(ctx, et, s.ID(), data); err != nil {
		slog.WarnContext(ctx, "emit call event failed",
			slog.String("event", string(et)),
			slog.String("error", err.Error()))
	}
}

func (s *Session) emitStarted(ctx context.Context, tenantName, streamSID string) {
	s.emit(ctx, events.CallStarted, events.CallStartedData{
		Transport: string(s.transport),
		Tenant:    tenantName,
		StreamSID: streamSID,
	})
}

func (s *Session) emitInterrupted(ctx context.Context, discarded int) {
	s.emit(ctx, events.CallInterrupted, events.CallInterruptedData{
		DiscardedBytes: discarded,
	})
}

func (s *Session) emitError(ctx context.Context, kind string, err error) {
	et := events.CallError
	if errors.Is(err, aisession.ErrUnavailable) {
		et = events.AIUnavailable
	}
	slog.ErrorContext(ctx, "call error",
		slog.String("session_id", s.ID()),
		slog.String("kind", kind),
		slog.String("error", err.Error()))
	s.emit(ctx, et, events.CallErrorData{Kind: kind, Error: err.Error()})
}

// teardown releases the session's resources exactly once, in order:
// pacer timer, upstream AI session, call-leg socket.
func (s *Session) teardown(ctx context.Context, reason string) {
	if !s.torndown.CompareAndSwap(false, true) {
		return
	}

	s.setState(StateClosing)

	s.mu.Lock()
	pace := s.pace
	ai := s.ai
	closeSocket := s.closeSocket
	s.mu.Unlock()

	if pace != nil {
		pace.Close()
	}
	if ai != nil {
		ai.Close()
	}
	if closeSocket != nil {
		closeSocket()
	}

	s.setState(StateClosed)

	slog.InfoContext(ctx, "call ended",
		slog.String("session_id", s.ID()),
		slog.String("transport", string(s.transport)),
		slog.String("reason", reason),
		slog.Int64("frames_in", s.framesIn.Load()),
		slog.Int64("frames_out", s.framesOut.Load()))

	s.emit(ctx, events.CallEnded, events.CallEndedData{
		Reason:        reason,
		DurationMs:    time.Since(s.startedAt).Milliseconds(),
		FramesIn:      s.framesIn.Load(),
		FramesOut:     s.framesOut.Load(),
		ChunksDropped: s.chunksDropped.Load(),
	})
}
