package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event flowing through the system.
type EventType string

const (
	CallStarted     EventType = "call.started"
	CallEnded       EventType = "call.ended"
	CallError       EventType = "call.error"
	CallInterrupted EventType = "call.interrupted"
	AIUnavailable   EventType = "ai.unavailable"
	WebhookTest     EventType = "webhook.test"
)

// Envelope is the standard event wrapper published to the event bus.
type Envelope struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Source    string            `json:"source"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Data      json.RawMessage   `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// CallStartedData is the payload for call.started events.
type CallStartedData struct {
	Transport string `json:"transport"` // "raw-framed" or "media-stream"
	Tenant    string `json:"tenant,omitempty"`
	StreamSID string `json:"stream_sid,omitempty"`
}

// CallEndedData is the payload for call.ended events.
type CallEndedData struct {
	Reason     string `json:"reason"`
	DurationMs int64  `json:"duration_ms"`

	// Per-session counters, reported once at teardown.
	FramesIn      int64 `json:"frames_in"`
	FramesOut     int64 `json:"frames_out"`
	ChunksDropped int64 `json:"chunks_dropped"`
}

// CallErrorData is the payload for call.error and ai.unavailable events.
type CallErrorData struct {
	Kind  string `json:"kind"` // "protocol", "ai", "codec", "socket"
	Error string `json:"error"`
}

// CallInterruptedData is the payload for call.interrupted events.
type CallInterruptedData struct {
	DiscardedBytes int `json:"discarded_bytes"`
}

// WebhookTestData is the payload for webhook.test events.
type WebhookTestData struct {
	WebhookID string `json:"webhook_id"`
	Message   string `json:"message"`
}
