package voice

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/observability"
)

type scriptedTTS struct {
	chunks []TTSChunk
	err    error
	calls  int
}

func (s *scriptedTTS) Synthesize(_ context.Context, _ string) (<-chan TTSChunk, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan TTSChunk, len(s.chunks))
	for _, c := range s.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func collect(t *testing.T, stage *Stage, f frame.Frame, dir frame.Direction) []frame.Frame {
	t.Helper()
	var got []frame.Frame
	err := stage.Process(context.Background(), f, dir, func(out frame.Frame, _ frame.Direction) {
		got = append(got, out)
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	return got
}

func TestStageTextPrecedesAudio(t *testing.T) {
	tts := &scriptedTTS{chunks: []TTSChunk{
		{PCM: []byte{1, 2}, SampleRate: 16000},
		{PCM: []byte{3, 4}, SampleRate: 16000},
		{SampleRate: 16000, Final: true},
	}}
	stage := NewStage(tts, nil)

	got := collect(t, stage, frame.TextFrame{Text: "konnichiwa", Role: frame.RoleAssistant, TurnID: "t1"}, frame.Downstream)
	if len(got) != 4 {
		t.Fatalf("got %d frames, want 4", len(got))
	}
	if _, ok := got[0].(frame.TextFrame); !ok {
		t.Fatalf("first frame = %T, want TextFrame", got[0])
	}
	for i, f := range got[1:] {
		af, ok := f.(frame.AudioFrame)
		if !ok {
			t.Fatalf("frame %d = %T, want AudioFrame", i+1, f)
		}
		if af.TurnID != "t1" {
			t.Fatalf("frame %d turn id = %q, want t1", i+1, af.TurnID)
		}
	}
	if last := got[3].(frame.AudioFrame); !last.Final {
		t.Fatal("last audio chunk not marked final")
	}
}

func TestStagePassesThroughNonAssistantText(t *testing.T) {
	tts := &scriptedTTS{}
	stage := NewStage(tts, nil)

	cases := []struct {
		name string
		f    frame.Frame
		dir  frame.Direction
	}{
		{"user text", frame.TextFrame{Text: "hi", Role: frame.RoleUser}, frame.Downstream},
		{"upstream", frame.TextFrame{Text: "hi", Role: frame.RoleAssistant}, frame.Upstream},
		{"control", frame.ControlFrame{Kind: frame.ControlEndOfTurn}, frame.Downstream},
		{"empty text", frame.TextFrame{Role: frame.RoleAssistant}, frame.Downstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := collect(t, stage, tc.f, tc.dir)
			if len(got) != 1 || got[0] != tc.f {
				t.Fatalf("frame not forwarded unchanged: %v", got)
			}
		})
	}
	if tts.calls != 0 {
		t.Fatalf("synthesizer called %d times, want 0", tts.calls)
	}
}

func TestStageContinuesTextOnlyOnError(t *testing.T) {
	stage := NewStage(&scriptedTTS{err: errors.New("boom")}, nil)

	got := collect(t, stage, frame.TextFrame{Text: "hello", Role: frame.RoleAssistant}, frame.Downstream)
	if len(got) != 1 {
		t.Fatalf("got %d frames, want text only", len(got))
	}
	if _, ok := got[0].(frame.TextFrame); !ok {
		t.Fatalf("got %T, want TextFrame", got[0])
	}
}

func TestStageCountsBrokenStream(t *testing.T) {
	metrics := observability.NewMetrics(fmt.Sprintf("kaiwa_test_tts_%d", time.Now().UnixNano()))
	// Two chunks, then the channel closes without a final marker: the
	// stream died mid-utterance.
	tts := &scriptedTTS{chunks: []TTSChunk{
		{PCM: []byte{1, 2}, SampleRate: 16000},
		{PCM: []byte{3, 4}, SampleRate: 16000},
	}}
	stage := NewStage(tts, metrics)

	got := collect(t, stage, frame.TextFrame{Text: "moshi moshi", Role: frame.RoleAssistant, TurnID: "t7"}, frame.Downstream)
	for _, f := range got {
		if af, ok := f.(frame.AudioFrame); ok && af.Final {
			t.Fatal("truncated stream was marked complete")
		}
	}
	if n := testutil.ToFloat64(metrics.ProviderErrors.WithLabelValues("tts", "stream")); n != 1 {
		t.Fatalf("stream errors counted = %v, want 1", n)
	}
}

func TestStageCompleteStreamIsNotAnError(t *testing.T) {
	metrics := observability.NewMetrics(fmt.Sprintf("kaiwa_test_tts_ok_%d", time.Now().UnixNano()))
	tts := &scriptedTTS{chunks: []TTSChunk{
		{PCM: []byte{1, 2}, SampleRate: 16000},
		{SampleRate: 16000, Final: true},
	}}
	stage := NewStage(tts, metrics)

	collect(t, stage, frame.TextFrame{Text: "hai", Role: frame.RoleAssistant, TurnID: "t8"}, frame.Downstream)
	if n := testutil.ToFloat64(metrics.ProviderErrors.WithLabelValues("tts", "stream")); n != 0 {
		t.Fatalf("stream errors counted = %v, want 0", n)
	}
}
