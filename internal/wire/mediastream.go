package wire

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Media-streaming protocol event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventClear     = "clear"
)

// StreamMessage is one inbound media-streaming protocol message. The
// provider sends JSON objects discriminated by the event field.
type StreamMessage struct {
	Event     string        `json:"event"`
	StreamSID string        `json:"streamSid,omitempty"`
	Start     *StreamStart  `json:"start,omitempty"`
	Media     *StreamMedia  `json:"media,omitempty"`
	Stop      *StreamStop   `json:"stop,omitempty"`
}

// StreamStart carries the stream identity announced at call setup. The
// stream SID must be captured before any outbound audio can be addressed.
type StreamStart struct {
	StreamSID    string            `json:"streamSid"`
	AccountSID   string            `json:"accountSid"`
	CallSID      string            `json:"callSid"`
	Tracks       []string          `json:"tracks"`
	MediaFormat  StreamMediaFormat `json:"mediaFormat"`
	CustomParams map[string]string `json:"customParameters"`
}

// StreamMediaFormat describes the negotiated audio encoding.
type StreamMediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// StreamMedia carries one base64-encoded mu-law audio payload.
type StreamMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// StreamStop signals the provider ended the stream.
type StreamStop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

// DecodeStreamMessage parses one media-streaming JSON message. A parse
// failure is a protocol error; callers close the session on it.
func DecodeStreamMessage(data []byte) (*StreamMessage, error) {
	var msg StreamMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode stream message: %w", err)
	}
	if msg.Event == "" {
		return nil, fmt.Errorf("decode stream message: missing event field")
	}
	return &msg, nil
}

// AudioPayload base64-decodes the media payload of a media event.
func (m *StreamMessage) AudioPayload() ([]byte, error) {
	if m.Media == nil || m.Media.Payload == "" {
		return nil, fmt.Errorf("media event without payload")
	}
	audio, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return audio, nil
}

// EncodeMediaMessage wraps outbound mu-law audio for the given stream.
func EncodeMediaMessage(streamSID string, ulaw []byte) ([]byte, error) {
	msg := map[string]any{
		"event":     EventMedia,
		"streamSid": streamSID,
		"media": map[string]string{
			"payload": base64.StdEncoding.EncodeToString(ulaw),
		},
	}
	return json.Marshal(msg)
}

// EncodeClearMessage builds the control message telling the far end to
// discard any audio it has buffered for playback.
func EncodeClearMessage(streamSID string) ([]byte, error) {
	msg := map[string]any{
		"event":     EventClear,
		"streamSid": streamSID,
	}
	return json.Marshal(msg)
}
