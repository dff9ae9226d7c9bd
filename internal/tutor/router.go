package tutor

import (
	"context"
	"strings"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/pipeline"
)

const (
	// FarewellLine is the fixed reply to an explicit stop command.
	FarewellLine = "Sayonara! Goodbye!"
	// UploadPromptLine directs the user to the image-upload affordance.
	UploadPromptLine = "Please use the 'Upload Image' button to share an image."
	// ApologyLine is the fixed recovery reply after an external service
	// failure.
	ApologyLine = "I'm sorry, I had trouble with that. Could you try again?"
)

// Router classifies each finalized user turn before it reaches the
// language model. Known commands are answered immediately with fixed
// replies, keeping them off the inference critical path; everything else
// forwards downstream.
type Router struct{}

func NewRouter() *Router { return &Router{} }

func (r *Router) Name() string { return "turn_router" }

func (r *Router) Process(_ context.Context, f frame.Frame, dir frame.Direction, emit pipeline.Emit) error {
	ctx, ok := f.(frame.ContextFrame)
	if !ok || dir != frame.Downstream {
		emit(f, dir)
		return nil
	}

	turn, ok := lastUserTurn(ctx.Turns)
	if !ok {
		emit(f, dir)
		return nil
	}

	switch classify(turn) {
	case routeStop:
		reply(emit, ctx.TurnID, FarewellLine)
	case routeUploadPrompt:
		reply(emit, ctx.TurnID, UploadPromptLine)
	default:
		emit(f, dir)
	}
	return nil
}

type route int

const (
	routeForward route = iota
	routeStop
	routeUploadPrompt
)

// classify applies the routing rules in precedence order, first match
// wins.
func classify(turn frame.Turn) route {
	trimmed := strings.ToLower(strings.TrimSpace(turn.Content))
	if trimmed == "stop" || trimmed == "quit" {
		return routeStop
	}

	lower := strings.ToLower(turn.Content)
	mentionsImage := strings.Contains(strings.ToUpper(turn.Content), "[IMAGE]") ||
		strings.Contains(lower, "camera") ||
		strings.Contains(lower, "look at")
	if mentionsImage && turn.Image == nil {
		return routeUploadPrompt
	}
	return routeForward
}

func reply(emit pipeline.Emit, turnID, text string) {
	emit(frame.TextFrame{Text: text, Role: frame.RoleAssistant, TurnID: turnID}, frame.Downstream)
	emit(frame.ControlFrame{Kind: frame.ControlEndOfTurn, TurnID: turnID}, frame.Downstream)
}

func lastUserTurn(turns []frame.Turn) (frame.Turn, bool) {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == frame.RoleUser {
			return turns[i], true
		}
	}
	return frame.Turn{}, false
}
