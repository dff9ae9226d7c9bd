package voice

import (
	"context"
	"log"
	"time"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/observability"
	"github.com/kotoba-labs/kaiwa/internal/pipeline"
)

// Stage synthesizes speech for assistant text frames. The text frame is
// forwarded first so captions always precede their audio; the audio chunks
// follow as AudioFrames carrying the same turn id. Synthesis failures are
// logged and the turn continues text-only.
type Stage struct {
	provider TTSProvider
	metrics  *observability.Metrics
}

func NewStage(provider TTSProvider, metrics *observability.Metrics) *Stage {
	return &Stage{provider: provider, metrics: metrics}
}

func (s *Stage) Name() string { return "tts" }

func (s *Stage) Process(ctx context.Context, f frame.Frame, dir frame.Direction, emit pipeline.Emit) error {
	tf, ok := f.(frame.TextFrame)
	if !ok || dir != frame.Downstream || tf.Role != frame.RoleAssistant || tf.Text == "" {
		emit(f, dir)
		return nil
	}

	emit(tf, dir)

	start := time.Now()
	chunks, err := s.provider.Synthesize(ctx, tf.Text)
	if err != nil {
		s.speechFailed(ctx, err)
		return nil
	}

	first := true
	complete := false
	for chunk := range chunks {
		if err := ctx.Err(); err != nil {
			// Turn was cancelled mid-utterance; drain so the provider
			// can shut the stream down cleanly.
			for range chunks {
			}
			return nil
		}
		if first && len(chunk.PCM) > 0 {
			first = false
			if s.metrics != nil {
				s.metrics.ObserveFirstAudioLatency(time.Since(start))
			}
		}
		if chunk.Final {
			complete = true
		}
		emit(frame.AudioFrame{
			PCM:        chunk.PCM,
			SampleRate: chunk.SampleRate,
			TurnID:     tf.TurnID,
			Final:      chunk.Final,
		}, frame.Downstream)
	}
	if !complete {
		s.streamBroke(ctx)
	}
	return nil
}

// streamBroke records a synthesis stream that closed before its final
// chunk. The audio already sent stays, but it is never marked complete.
func (s *Stage) streamBroke(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log.Printf("tts: stream ended before the final chunk, audio truncated")
	if s.metrics != nil {
		s.metrics.ProviderErrors.WithLabelValues("tts", "stream").Inc()
	}
}

func (s *Stage) speechFailed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	log.Printf("tts: synthesis failed, continuing text-only: %v", err)
	if s.metrics != nil {
		s.metrics.ProviderErrors.WithLabelValues("tts", "synthesize").Inc()
	}
}
