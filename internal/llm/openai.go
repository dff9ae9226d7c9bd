package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/reliability"
	"github.com/kotoba-labs/kaiwa/internal/tools"
)

const defaultMaxToolRounds = 6

type OpenAIConfig struct {
	APIKey        string
	Model         string
	MaxToolRounds int
}

// OpenAIProvider answers with OpenAI chat completions, driving the tutor's
// memory tools through the function-calling API.
type OpenAIProvider struct {
	client        *openai.Client
	model         string
	maxToolRounds int
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = defaultMaxToolRounds
	}
	return &OpenAIProvider{
		client:        openai.NewClient(cfg.APIKey),
		model:         cfg.Model,
		maxToolRounds: cfg.MaxToolRounds,
	}, nil
}

func (p *OpenAIProvider) Respond(ctx context.Context, turns []frame.Turn, defs []tools.Definition, exec ToolExecutor) (string, error) {
	messages := toMessages(turns)
	oaTools := toTools(defs)

	for round := 0; round <= p.maxToolRounds; round++ {
		resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:    p.model,
			Messages: messages,
			Tools:    oaTools,
		})
		if err != nil {
			return "", wrapOpenAIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", reliability.ServiceError("openai", "empty_response", 0, errors.New("no choices returned"))
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			result, err := exec(ctx, tc.Function.Name, json.RawMessage(tc.Function.Arguments))
			if err != nil {
				return "", fmt.Errorf("tool %s: %w", tc.Function.Name, err)
			}
			payload, err := sonic.Marshal(result)
			if err != nil {
				return "", fmt.Errorf("encode %s result: %w", tc.Function.Name, err)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: tc.ID,
				Content:    string(payload),
			})
		}
	}
	return "", reliability.ServiceError("openai", "tool_loop", 0,
		fmt.Errorf("no final reply after %d tool rounds", p.maxToolRounds))
}

func toMessages(turns []frame.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		msg := openai.ChatCompletionMessage{Role: string(t.Role)}
		if t.Image != nil && len(t.Image.Bytes) > 0 {
			mime := t.Image.MIME
			if mime == "" {
				mime = "image/jpeg"
			}
			dataURL := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(t.Image.Bytes))
			msg.MultiContent = []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				{Type: openai.ChatMessagePartTypeText, Text: t.Content},
			}
		} else {
			msg.Content = t.Content
		}
		out = append(out, msg)
	}
	return out
}

func toTools(defs []tools.Definition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return reliability.ServiceError("openai", "chat_completion", apiErr.HTTPStatusCode, err)
	}
	return reliability.ServiceError("openai", "chat_completion", 0, err)
}
