package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientText       MessageType = "client_text"
	TypeClientAudioChunk MessageType = "client_audio_chunk"
	TypeClientImage      MessageType = "client_image"
	TypeClientControl    MessageType = "client_control"
	TypeTranscription    MessageType = "transcription"
	TypeAssistantText    MessageType = "assistant_text"
	TypeAssistantAudio   MessageType = "assistant_audio"
	TypeAssistantImage   MessageType = "assistant_image"
	TypeTurnEnd          MessageType = "turn_end"
	TypeSystemEvent      MessageType = "system_event"
	TypeErrorEvent       MessageType = "error_event"
)

// Client control actions.
const (
	ActionEndSession = "end_session"
	ActionPing       = "ping"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientText is typed chat input from the learner.
type ClientText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// ClientAudioChunk is microphone audio, PCM16LE mono, base64 encoded.
type ClientAudioChunk struct {
	Type        MessageType `json:"type"`
	Seq         int         `json:"seq"`
	PCM16Base64 string      `json:"pcm16_base64"`
	SampleRate  int         `json:"sample_rate"`
}

// ClientImage is an uploaded picture for the tutor to discuss.
type ClientImage struct {
	Type        MessageType `json:"type"`
	MIME        string      `json:"mime"`
	ImageBase64 string      `json:"image_base64"`
	Caption     string      `json:"caption,omitempty"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

// Transcription echoes speech-to-text results so the UI can show what was
// heard. Final results open a turn.
type Transcription struct {
	Type  MessageType `json:"type"`
	Text  string      `json:"text"`
	Final bool        `json:"final"`
	TSMs  int64       `json:"ts_ms"`
}

type AssistantText struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id"`
	Text   string      `json:"text"`
}

// AssistantAudio is one complete spoken reply wrapped as a WAV blob.
type AssistantAudio struct {
	Type        MessageType `json:"type"`
	TurnID      string      `json:"turn_id"`
	Format      string      `json:"format"`
	AudioBase64 string      `json:"audio_base64"`
}

type AssistantImage struct {
	Type        MessageType `json:"type"`
	TurnID      string      `json:"turn_id"`
	MIME        string      `json:"mime"`
	Caption     string      `json:"caption"`
	ImageBase64 string      `json:"image_base64"`
}

type TurnEnd struct {
	Type   MessageType `json:"type"`
	TurnID string      `json:"turn_id"`
	Reason string      `json:"reason"`
}

type SystemEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// ParseClientMessage decodes and validates one inbound websocket payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientText:
		var msg ClientText
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid client_text")
		}
		return msg, nil
	case TypeClientAudioChunk:
		var msg ClientAudioChunk
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.PCM16Base64 == "" || msg.SampleRate <= 0 {
			return nil, errors.New("invalid client_audio_chunk")
		}
		return msg, nil
	case TypeClientImage:
		var msg ClientImage
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ImageBase64 == "" || msg.MIME == "" {
			return nil, errors.New("invalid client_image")
		}
		return msg, nil
	case TypeClientControl:
		var msg ClientControl
		if err := sonic.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
