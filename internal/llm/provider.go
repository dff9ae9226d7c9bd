package llm

import (
	"context"
	"encoding/json"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/tools"
)

// ToolExecutor runs one named tool invocation on the model's behalf and
// returns its structured result. Implementations return a failure payload,
// not an error, for invalid arguments; errors are reserved for the store
// itself failing.
type ToolExecutor func(ctx context.Context, name string, args json.RawMessage) (any, error)

// Provider produces one assistant reply for a complete ordered
// conversation. The provider drives any tool round trips through exec
// before returning the final text; the call observes ctx and unwinds on
// cancellation.
type Provider interface {
	Respond(ctx context.Context, turns []frame.Turn, defs []tools.Definition, exec ToolExecutor) (string, error)
}
