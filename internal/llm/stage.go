package llm

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/observability"
	"github.com/kotoba-labs/kaiwa/internal/pipeline"
	"github.com/kotoba-labs/kaiwa/internal/tools"
	"github.com/kotoba-labs/kaiwa/internal/tutor"
)

// Stage is the language-model pipeline stage. It consumes ContextFrames,
// runs the tool loop against the memory store, and emits the assistant
// reply (plus any requested vocabulary illustrations) downstream. External
// failures degrade to a fixed apology; the session never dies here.
type Stage struct {
	provider Provider
	tools    *tools.Service
	metrics  *observability.Metrics
}

func NewStage(provider Provider, toolSvc *tools.Service, metrics *observability.Metrics) *Stage {
	return &Stage{provider: provider, tools: toolSvc, metrics: metrics}
}

func (s *Stage) Name() string { return "llm" }

func (s *Stage) Process(ctx context.Context, f frame.Frame, dir frame.Direction, emit pipeline.Emit) error {
	cf, ok := f.(frame.ContextFrame)
	if !ok || dir != frame.Downstream {
		emit(f, dir)
		return nil
	}

	var imageRequests []tools.ImageRequest
	exec := func(ctx context.Context, name string, args json.RawMessage) (any, error) {
		res, err := s.tools.Dispatch(ctx, name, args)
		if err != nil {
			var verr *tools.ValidationError
			if errors.As(err, &verr) {
				// Structured failure back to the model; the conversation
				// continues.
				return tools.StatusResult{Success: false, Error: verr.Error()}, nil
			}
			return nil, err
		}
		if req, ok := res.(tools.ImageRequest); ok {
			imageRequests = append(imageRequests, req)
		}
		return res, nil
	}

	text, err := s.provider.Respond(ctx, cf.Turns, tools.Definitions(), exec)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues("llm", "respond").Inc()
		}
		emit(frame.TextFrame{Text: tutor.ApologyLine, Role: frame.RoleAssistant, TurnID: cf.TurnID}, frame.Downstream)
		emit(frame.ControlFrame{Kind: frame.ControlEndOfTurn, TurnID: cf.TurnID}, frame.Downstream)
		return err
	}

	for _, req := range imageRequests {
		emit(frame.ImagePromptFrame{
			Prompt:  req.Prompt,
			Word:    req.Word,
			Meaning: req.Meaning,
			TurnID:  cf.TurnID,
		}, frame.Downstream)
	}
	if text != "" {
		emit(frame.TextFrame{Text: text, Role: frame.RoleAssistant, TurnID: cf.TurnID}, frame.Downstream)
	}
	emit(frame.ControlFrame{Kind: frame.ControlEndOfTurn, TurnID: cf.TurnID}, frame.Downstream)
	return nil
}
