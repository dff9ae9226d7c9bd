package voice

import (
	"context"
	"sync"
	"time"

	"github.com/kotoba-labs/kaiwa/internal/frame"
)

// MockProvider is a local fallback used when Deepgram or ElevenLabs is not
// configured. Audio in is echoed back as a canned final transcript every few
// chunks; audio out is silence sized to the text.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartSession(_ context.Context, participantID string) (STTSession, <-chan frame.TranscriptionFrame, error) {
	results := make(chan frame.TranscriptionFrame, 16)
	return &mockSTTSession{participantID: participantID, results: results}, results, nil
}

func (p *MockProvider) Synthesize(ctx context.Context, text string) (<-chan TTSChunk, error) {
	out := make(chan TTSChunk, 4)
	go func() {
		defer close(out)
		// 80ms of silence per rune, capped, so playback timing is plausible.
		samples := len([]rune(text)) * elevenLabsSampleRate * 80 / 1000
		if samples > elevenLabsSampleRate*10 {
			samples = elevenLabsSampleRate * 10
		}
		select {
		case out <- TTSChunk{PCM: make([]byte, samples*2), SampleRate: elevenLabsSampleRate}:
		case <-ctx.Done():
			return
		}
		select {
		case out <- TTSChunk{SampleRate: elevenLabsSampleRate, Final: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

type mockSTTSession struct {
	mu            sync.Mutex
	participantID string
	results       chan frame.TranscriptionFrame
	chunks        int
	closed        bool
}

func (s *mockSTTSession) SendAudio(_ context.Context, pcm []byte, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.chunks++
	if len(pcm) > 0 && s.chunks%4 == 0 {
		s.results <- frame.TranscriptionFrame{
			Text:          "...",
			ParticipantID: s.participantID,
			Timestamp:     time.Now().UTC(),
		}
	}
	if s.chunks%8 == 0 {
		s.results <- frame.TranscriptionFrame{
			Text:          "simulated voice input",
			Final:         true,
			ParticipantID: s.participantID,
			Timestamp:     time.Now().UTC(),
		}
	}
	return nil
}

func (s *mockSTTSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.results)
	return nil
}
