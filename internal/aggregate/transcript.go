package aggregate

import (
	"sync"
	"time"

	"github.com/kotoba-labs/kaiwa/internal/frame"
)

// Transcript is the session's ordered conversation history. It is owned by
// the aggregator pair and append-only for the life of the session; the
// system prompt is always the first turn of any snapshot.
type Transcript struct {
	mu           sync.Mutex
	systemPrompt string
	turns        []frame.Turn
}

func NewTranscript(systemPrompt string) *Transcript {
	return &Transcript{systemPrompt: systemPrompt}
}

func (t *Transcript) Append(turn frame.Turn) {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	t.mu.Lock()
	t.turns = append(t.turns, turn)
	t.mu.Unlock()
}

// Snapshot returns the system prompt plus every turn so far, in order.
func (t *Transcript) Snapshot() []frame.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]frame.Turn, 0, len(t.turns)+1)
	out = append(out, frame.Turn{Role: frame.RoleSystem, Content: t.systemPrompt})
	out = append(out, t.turns...)
	return out
}

// Turns returns the conversation turns without the system prompt.
func (t *Transcript) Turns() []frame.Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]frame.Turn, len(t.turns))
	copy(out, t.turns)
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.turns)
}
