package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/tools"
)

// MockProvider is a deterministic local provider used when no OpenAI key
// is configured, and in tests. It answers with short canned tutor lines
// and exercises the profile tool when the user introduces themselves.
type MockProvider struct {
	// Reply overrides the canned behavior when set.
	Reply func(turns []frame.Turn) string
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Respond(ctx context.Context, turns []frame.Turn, _ []tools.Definition, exec ToolExecutor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	last := lastUserText(turns)
	if p.Reply != nil {
		return p.Reply(turns), nil
	}

	if name, ok := introducedName(last); ok && exec != nil {
		args, _ := json.Marshal(map[string]string{"name": name})
		if _, err := exec(ctx, "save_user_profile", args); err != nil {
			return "", err
		}
		return fmt.Sprintf("はじめまして、%sさん! (Hajimemashite, %s-san!) Nice to meet you. What would you like to learn today?", name, name), nil
	}

	return "いいですね! (Ii desu ne!) Let's keep practicing. Try saying that in Japanese, and I'll help with the details.", nil
}

func lastUserText(turns []frame.Turn) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == frame.RoleUser {
			return turns[i].Content
		}
	}
	return ""
}

func introducedName(text string) (string, bool) {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, "my name is ")
	if idx < 0 {
		return "", false
	}
	rest := strings.TrimSpace(text[idx+len("my name is "):])
	if rest == "" {
		return "", false
	}
	name := strings.FieldsFunc(rest, func(r rune) bool {
		return r == ' ' || r == '.' || r == ',' || r == '!'
	})
	if len(name) == 0 {
		return "", false
	}
	return name[0], true
}
