package imagegen

import (
	"context"
	"log"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/observability"
	"github.com/kotoba-labs/kaiwa/internal/pipeline"
)

// Stage renders ImagePromptFrames into ImageFrames. A failed render is
// logged and replaced with a short assistant note so the turn still
// completes; everything else passes through untouched.
type Stage struct {
	generator Generator
	metrics   *observability.Metrics
}

func NewStage(generator Generator, metrics *observability.Metrics) *Stage {
	return &Stage{generator: generator, metrics: metrics}
}

func (s *Stage) Name() string { return "imagegen" }

func (s *Stage) Process(ctx context.Context, f frame.Frame, dir frame.Direction, emit pipeline.Emit) error {
	pf, ok := f.(frame.ImagePromptFrame)
	if !ok || dir != frame.Downstream {
		emit(f, dir)
		return nil
	}

	img, err := s.generator.Generate(ctx, pf.Prompt)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("imagegen: render failed for %q: %v", pf.Word, err)
		if s.metrics != nil {
			s.metrics.ProviderErrors.WithLabelValues("imagegen", "generate").Inc()
		}
		emit(frame.TextFrame{
			Text:   "I couldn't make a picture for that word right now, but let's keep going!",
			Role:   frame.RoleAssistant,
			TurnID: pf.TurnID,
		}, frame.Downstream)
		return nil
	}

	emit(frame.ImageFrame{
		Bytes:   img.Bytes,
		MIME:    img.MIME,
		Caption: pf.Word + " - " + pf.Meaning,
		TurnID:  pf.TurnID,
	}, frame.Downstream)
	return nil
}
