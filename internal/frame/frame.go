package frame

import "time"

// Direction tells a processor which way a frame is travelling through the
// pipeline. Data flows downstream (input toward output); control frames
// that interrupt in-flight work travel upstream.
type Direction int

const (
	Downstream Direction = iota
	Upstream
)

func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// Role attributes a conversational turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Frame is one immutable unit of data moving through the pipeline. The set
// of variants is closed: every processor switches exhaustively over the
// types below, so adding a variant is a compile-visible change.
type Frame interface {
	isFrame()
}

// TextFrame carries plain text, either user input or assistant output.
type TextFrame struct {
	Text   string
	Role   Role
	TurnID string
}

// TranscriptionFrame is incremental or final speech-to-text output. The
// pipeline stamps a TurnID onto final transcriptions when they open a turn.
type TranscriptionFrame struct {
	Text          string
	Final         bool
	ParticipantID string
	Timestamp     time.Time
	TurnID        string
}

// ImageFrame is a captured, uploaded, or generated image. Generated images
// carry the TurnID of the response that requested them; uploads have none.
type ImageFrame struct {
	Bytes   []byte
	MIME    string
	Caption string
	TurnID  string
}

// ImageRef points a multimodal turn at image content without copying it
// into the transcript.
type ImageRef struct {
	MIME  string `json:"mime"`
	Bytes []byte `json:"-"`
}

// Turn is one role-attributed conversational contribution.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Image     *ImageRef `json:"image,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ContextFrame is a complete ordered conversation ready for the language
// model: system prompt first, then every turn so far.
type ContextFrame struct {
	Turns  []Turn
	TurnID string
}

// AudioFrame is synthesized assistant speech headed for the transport.
// Chunks belonging to one spoken response share a TurnID; Final marks the
// last chunk of that response.
type AudioFrame struct {
	PCM        []byte
	SampleRate int
	TurnID     string
	Final      bool
}

// ImagePromptFrame asks the image-generation stage to produce an
// illustration. Word and Meaning identify the vocabulary item it teaches.
type ImagePromptFrame struct {
	Prompt  string
	Word    string
	Meaning string
	TurnID  string
}

// ControlKind enumerates out-of-band pipeline signals.
type ControlKind string

const (
	ControlEndOfTurn  ControlKind = "end_of_turn"
	ControlCancel     ControlKind = "cancel"
	ControlHeartbeat  ControlKind = "heartbeat"
	ControlSessionEnd ControlKind = "session_end"
)

// ControlFrame carries a pipeline control signal. Cancel frames name the
// turn whose in-flight work must be abandoned.
type ControlFrame struct {
	Kind   ControlKind
	TurnID string
}

func (TextFrame) isFrame()          {}
func (TranscriptionFrame) isFrame() {}
func (ImageFrame) isFrame()         {}
func (ContextFrame) isFrame()       {}
func (ControlFrame) isFrame()       {}
func (AudioFrame) isFrame()         {}
func (ImagePromptFrame) isFrame()   {}

// Kind names a frame variant for logging and metrics.
func Kind(f Frame) string {
	switch f.(type) {
	case TextFrame:
		return "text"
	case TranscriptionFrame:
		return "transcription"
	case ImageFrame:
		return "image"
	case ContextFrame:
		return "context"
	case ControlFrame:
		return "control"
	case AudioFrame:
		return "audio"
	case ImagePromptFrame:
		return "image_prompt"
	default:
		return "unknown"
	}
}

// TurnID extracts the originating turn from frames that carry one.
func TurnID(f Frame) string {
	switch v := f.(type) {
	case TextFrame:
		return v.TurnID
	case TranscriptionFrame:
		return v.TurnID
	case ImageFrame:
		return v.TurnID
	case ContextFrame:
		return v.TurnID
	case ControlFrame:
		return v.TurnID
	case AudioFrame:
		return v.TurnID
	case ImagePromptFrame:
		return v.TurnID
	default:
		return ""
	}
}

// NewContextFrame copies turns so the frame stays immutable even if the
// caller keeps appending to its own slice.
func NewContextFrame(turnID string, turns []Turn) ContextFrame {
	cp := make([]Turn, len(turns))
	copy(cp, turns)
	return ContextFrame{Turns: cp, TurnID: turnID}
}
