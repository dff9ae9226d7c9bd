package voice

import (
	"context"

	"github.com/kotoba-labs/kaiwa/internal/frame"
)

// STTSession is one live speech-to-text capture for a participant.
type STTSession interface {
	// SendAudio pushes a chunk of PCM16LE mono audio.
	SendAudio(ctx context.Context, pcm []byte, sampleRate int) error
	Close() error
}

// STTProvider opens transcription sessions. Interim and final results
// arrive on the returned channel, which closes when the session ends.
type STTProvider interface {
	StartSession(ctx context.Context, participantID string) (STTSession, <-chan frame.TranscriptionFrame, error)
}

// TTSChunk is one piece of synthesized speech. Final marks the end of the
// utterance; a Final chunk may carry no audio.
type TTSChunk struct {
	PCM        []byte
	SampleRate int
	Final      bool
}

// TTSProvider turns assistant text into speech. The returned channel
// closes after the Final chunk; cancelling ctx abandons synthesis.
type TTSProvider interface {
	Synthesize(ctx context.Context, text string) (<-chan TTSChunk, error)
}
