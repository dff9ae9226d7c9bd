package pipeline

import (
	"context"

	"github.com/kotoba-labs/kaiwa/internal/frame"
)

// Emit hands a produced frame back to the chain. A processor may emit zero
// or more frames per input, in either direction.
type Emit func(frame.Frame, frame.Direction)

// Processor is one pipeline stage. A stage must forward any frame it does
// not recognize unchanged and in the same direction, so stages can be
// inserted or removed without breaking unrelated traffic. Process may block
// on external calls; the supplied context is cancelled when the frame's
// turn is interrupted, and the stage must unwind without emitting further
// output for that turn.
type Processor interface {
	Name() string
	Process(ctx context.Context, f frame.Frame, dir frame.Direction, emit Emit) error
}

// PassthroughFunc adapts a function to a Processor for small inline stages
// and tests.
type PassthroughFunc struct {
	StageName string
	Fn        func(ctx context.Context, f frame.Frame, dir frame.Direction, emit Emit) error
}

func (p PassthroughFunc) Name() string { return p.StageName }

func (p PassthroughFunc) Process(ctx context.Context, f frame.Frame, dir frame.Direction, emit Emit) error {
	if p.Fn == nil {
		emit(f, dir)
		return nil
	}
	return p.Fn(ctx, f, dir, emit)
}
