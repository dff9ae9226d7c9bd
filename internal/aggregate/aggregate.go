package aggregate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/pipeline"
)

// UserAggregator sits at the head of the chain. It folds finalized user
// input into the transcript and emits a ContextFrame carrying the complete
// ordered history, so the language model never sees a partial fragment.
// Interim transcriptions are buffered, not forwarded.
type UserAggregator struct {
	transcript *Transcript

	mu           sync.Mutex
	interim      string
	pendingImage *frame.ImageRef
}

func NewUserAggregator(transcript *Transcript) *UserAggregator {
	return &UserAggregator{transcript: transcript}
}

func (a *UserAggregator) Name() string { return "context_aggregator_user" }

func (a *UserAggregator) Process(_ context.Context, f frame.Frame, dir frame.Direction, emit pipeline.Emit) error {
	if dir == frame.Upstream {
		emit(f, dir)
		return nil
	}
	switch v := f.(type) {
	case frame.TranscriptionFrame:
		if !v.Final {
			a.mu.Lock()
			a.interim = v.Text
			a.mu.Unlock()
			return nil
		}
		a.finalize(v.Text, v.TurnID, emit)
		return nil
	case frame.TextFrame:
		if v.Role != frame.RoleUser {
			emit(f, dir)
			return nil
		}
		a.finalize(v.Text, v.TurnID, emit)
		return nil
	case frame.ImageFrame:
		a.mu.Lock()
		a.pendingImage = &frame.ImageRef{MIME: v.MIME, Bytes: v.Bytes}
		a.mu.Unlock()
		return nil
	case frame.ControlFrame:
		if v.Kind == frame.ControlEndOfTurn {
			// Turn boundary without a final transcription: flush whatever
			// interim text accumulated.
			a.mu.Lock()
			text := a.interim
			a.mu.Unlock()
			if strings.TrimSpace(text) != "" {
				a.finalize(text, v.TurnID, emit)
				return nil
			}
		}
		emit(f, dir)
		return nil
	default:
		emit(f, dir)
		return nil
	}
}

func (a *UserAggregator) finalize(text, turnID string, emit pipeline.Emit) {
	a.mu.Lock()
	image := a.pendingImage
	a.pendingImage = nil
	a.interim = ""
	a.mu.Unlock()

	a.transcript.Append(frame.Turn{
		Role:      frame.RoleUser,
		Content:   text,
		Image:     image,
		Timestamp: time.Now().UTC(),
	})
	emit(frame.NewContextFrame(turnID, a.transcript.Snapshot()), frame.Downstream)
}

// AssistantAggregator sits at the tail of the chain. It accumulates
// assistant text for the in-flight turn and commits it to the transcript
// at the end-of-turn marker. All frames pass through unchanged so the
// transport still receives them.
type AssistantAggregator struct {
	transcript *Transcript

	mu      sync.Mutex
	turnID  string
	pending []string
}

func NewAssistantAggregator(transcript *Transcript) *AssistantAggregator {
	return &AssistantAggregator{transcript: transcript}
}

func (a *AssistantAggregator) Name() string { return "context_aggregator_assistant" }

func (a *AssistantAggregator) Process(_ context.Context, f frame.Frame, dir frame.Direction, emit pipeline.Emit) error {
	if dir == frame.Upstream {
		emit(f, dir)
		return nil
	}
	switch v := f.(type) {
	case frame.TextFrame:
		if v.Role == frame.RoleAssistant {
			a.mu.Lock()
			if v.TurnID != a.turnID {
				a.turnID = v.TurnID
				a.pending = a.pending[:0]
			}
			a.pending = append(a.pending, v.Text)
			a.mu.Unlock()
		}
	case frame.ControlFrame:
		if v.Kind == frame.ControlEndOfTurn {
			a.commit(v.TurnID)
		}
	}
	emit(f, dir)
	return nil
}

// Abandon drops buffered text for an interrupted turn so truncated output
// never reaches the transcript.
func (a *AssistantAggregator) Abandon(turnID string) {
	a.mu.Lock()
	if a.turnID == turnID {
		a.pending = a.pending[:0]
		a.turnID = ""
	}
	a.mu.Unlock()
}

func (a *AssistantAggregator) commit(turnID string) {
	a.mu.Lock()
	if turnID != "" && turnID != a.turnID {
		a.mu.Unlock()
		return
	}
	text := strings.Join(a.pending, "")
	a.pending = a.pending[:0]
	a.turnID = ""
	a.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return
	}
	a.transcript.Append(frame.Turn{
		Role:      frame.RoleAssistant,
		Content:   text,
		Timestamp: time.Now().UTC(),
	})
}
