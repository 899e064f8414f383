package aisession

import (
	"encoding/json"
	"fmt"
)

// Wire event types for the upstream realtime audio session. The upstream
// speaks a JSON protocol discriminated by a type field; audio rides as
// base64 PCM inside the relevant events.
const (
	typeSessionUpdate     = "session.update"
	typeInputAudioAppend  = "input_audio_buffer.append"
	typeResponseCreate    = "response.create"
	typeSessionCreated    = "session.created"
	typeResponseAudio     = "response.audio.delta"
	typeResponseDone      = "response.done"
	typeSpeechStarted     = "input_audio_buffer.speech_started"
	typeError             = "error"
)

// clientEvent is the envelope for messages sent upstream.
type clientEvent struct {
	Type     string          `json:"type"`
	Session  *sessionConfig  `json:"session,omitempty"`
	Audio    string          `json:"audio,omitempty"`
	Response *responseConfig `json:"response,omitempty"`
}

// sessionConfig carries the persona and audio format negotiation sent in
// session.update right after the socket opens.
type sessionConfig struct {
	Instructions      string         `json:"instructions,omitempty"`
	Voice             string         `json:"voice,omitempty"`
	Modalities        []string       `json:"modalities,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format,omitempty"`
	OutputAudioFormat string         `json:"output_audio_format,omitempty"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
}

type turnDetection struct {
	Type string `json:"type"`
}

// responseConfig is the payload of response.create, used for the one-off
// greeting stimulus.
type responseConfig struct {
	Instructions string `json:"instructions,omitempty"`
}

// serverEvent is the envelope for messages received from upstream.
type serverEvent struct {
	Type  string       `json:"type"`
	Delta string       `json:"delta,omitempty"`
	Error *serverError `json:"error,omitempty"`
}

type serverError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *serverEvent) unmarshal(data []byte) error {
	if err := json.Unmarshal(data, e); err != nil {
		return fmt.Errorf("unmarshal server event: %w", err)
	}
	if e.Type == "" {
		return fmt.Errorf("server event missing type")
	}
	return nil
}
