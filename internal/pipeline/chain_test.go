package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/observability"
)

func TestChainPreservesDataOrder(t *testing.T) {
	chain := NewChain(
		PassthroughFunc{StageName: "a"},
		PassthroughFunc{StageName: "b"},
		PassthroughFunc{StageName: "c"},
	)
	out := make(chan frame.Frame, 64)
	chain.SinkDown = func(f frame.Frame) { out <- f }

	chain.Start(context.Background())
	defer chain.Stop()

	const n = 20
	for i := 0; i < n; i++ {
		chain.Push(frame.TextFrame{Text: strconv.Itoa(i), Role: frame.RoleUser}, frame.Downstream)
	}
	for i := 0; i < n; i++ {
		select {
		case f := <-out:
			tf := f.(frame.TextFrame)
			if tf.Text != strconv.Itoa(i) {
				t.Fatalf("frame %d arrived as %q", i, tf.Text)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("frame %d never arrived", i)
		}
	}
}

func TestChainForwardsUnrecognizedFramesUnchanged(t *testing.T) {
	// A stage that only cares about text must pass everything else through.
	textOnly := PassthroughFunc{
		StageName: "text_only",
		Fn: func(_ context.Context, f frame.Frame, dir frame.Direction, emit Emit) error {
			if tf, ok := f.(frame.TextFrame); ok && dir == frame.Downstream {
				tf.Text = "seen:" + tf.Text
				emit(tf, dir)
				return nil
			}
			emit(f, dir)
			return nil
		},
	}
	chain := NewChain(textOnly)
	out := make(chan frame.Frame, 8)
	chain.SinkDown = func(f frame.Frame) { out <- f }

	chain.Start(context.Background())
	defer chain.Stop()

	audio := frame.AudioFrame{PCM: []byte{1}, SampleRate: 16000, TurnID: "t1"}
	chain.Push(audio, frame.Downstream)
	chain.Push(frame.TextFrame{Text: "hi", Role: frame.RoleUser}, frame.Downstream)

	select {
	case f := <-out:
		got, ok := f.(frame.AudioFrame)
		if !ok || got.TurnID != audio.TurnID || got.SampleRate != audio.SampleRate {
			t.Fatalf("audio frame mutated in transit: %#v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio frame never arrived")
	}
	select {
	case f := <-out:
		if f.(frame.TextFrame).Text != "seen:hi" {
			t.Fatalf("text frame not processed: %#v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("text frame never arrived")
	}
}

func TestChainUpstreamReachesHeadSink(t *testing.T) {
	var visited []string
	mark := func(name string) PassthroughFunc {
		return PassthroughFunc{
			StageName: name,
			Fn: func(_ context.Context, f frame.Frame, dir frame.Direction, emit Emit) error {
				if dir == frame.Upstream {
					visited = append(visited, name)
				}
				emit(f, dir)
				return nil
			},
		}
	}
	chain := NewChain(mark("head"), mark("tail"))
	up := make(chan frame.Frame, 1)
	chain.SinkUp = func(f frame.Frame) { up <- f }

	chain.Start(context.Background())
	defer chain.Stop()

	chain.Push(frame.ControlFrame{Kind: frame.ControlCancel, TurnID: "t9"}, frame.Upstream)

	select {
	case f := <-up:
		cf := f.(frame.ControlFrame)
		if cf.Kind != frame.ControlCancel || cf.TurnID != "t9" {
			t.Fatalf("unexpected upstream frame: %#v", cf)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("upstream frame never left the chain")
	}
	if len(visited) != 2 || visited[0] != "tail" || visited[1] != "head" {
		t.Fatalf("upstream traversal order = %v, want [tail head]", visited)
	}
}

func TestChainCountsProcessedFrames(t *testing.T) {
	metrics := observability.NewMetrics(fmt.Sprintf("kaiwa_test_frames_%d", time.Now().UnixNano()))
	chain := NewChain(
		PassthroughFunc{StageName: "a"},
		PassthroughFunc{StageName: "b"},
	)
	chain.Metrics = metrics
	out := make(chan frame.Frame, 8)
	chain.SinkDown = func(f frame.Frame) { out <- f }

	chain.Start(context.Background())
	defer chain.Stop()

	chain.Push(frame.TextFrame{Text: "ohayou", Role: frame.RoleUser}, frame.Downstream)
	select {
	case <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("frame never crossed the chain")
	}

	got := testutil.ToFloat64(metrics.FramesProcessed.WithLabelValues("text", "downstream"))
	if got != 2 {
		t.Fatalf("text frames counted = %v, want one per stage (2)", got)
	}
	if n := testutil.ToFloat64(metrics.FramesProcessed.WithLabelValues("audio", "downstream")); n != 0 {
		t.Fatalf("audio frames counted = %v, want 0", n)
	}
}
