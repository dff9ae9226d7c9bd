package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kotoba-labs/kaiwa/internal/frame"
)

// echoStage answers every user text with one assistant line and a turn
// marker, like a trivial language model.
func echoStage() PassthroughFunc {
	return PassthroughFunc{
		StageName: "echo",
		Fn: func(_ context.Context, f frame.Frame, dir frame.Direction, emit Emit) error {
			tf, ok := f.(frame.TextFrame)
			if !ok || dir != frame.Downstream || tf.Role != frame.RoleUser {
				emit(f, dir)
				return nil
			}
			emit(frame.TextFrame{Text: "re: " + tf.Text, Role: frame.RoleAssistant, TurnID: tf.TurnID}, frame.Downstream)
			emit(frame.ControlFrame{Kind: frame.ControlEndOfTurn, TurnID: tf.TurnID}, frame.Downstream)
			return nil
		},
	}
}

type outputRecorder struct {
	mu     sync.Mutex
	frames []frame.Frame
	ch     chan frame.Frame
}

func newOutputRecorder() *outputRecorder {
	return &outputRecorder{ch: make(chan frame.Frame, 128)}
}

func (r *outputRecorder) accept(f frame.Frame) {
	r.mu.Lock()
	r.frames = append(r.frames, f)
	r.mu.Unlock()
	r.ch <- f
}

func (r *outputRecorder) wait(t *testing.T, what string, pred func(frame.Frame) bool) frame.Frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f := <-r.ch:
			if pred(f) {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func (r *outputRecorder) texts() []frame.TextFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []frame.TextFrame
	for _, f := range r.frames {
		if tf, ok := f.(frame.TextFrame); ok {
			out = append(out, tf)
		}
	}
	return out
}

func startTask(t *testing.T, cfg TaskConfig, stages ...Processor) (*Task, *outputRecorder) {
	t.Helper()
	rec := newOutputRecorder()
	task := NewTask(NewChain(stages...), cfg)
	task.Output = rec.accept
	task.Start(context.Background())
	t.Cleanup(task.Terminate)
	task.ParticipantJoined()
	return task, rec
}

func isEndOfTurn(f frame.Frame) bool {
	cf, ok := f.(frame.ControlFrame)
	return ok && cf.Kind == frame.ControlEndOfTurn
}

func TestTaskRoundTripReturnsToListening(t *testing.T) {
	task, rec := startTask(t, TaskConfig{}, echoStage())

	task.HandleText("konnichiwa")
	reply := rec.wait(t, "assistant reply", func(f frame.Frame) bool {
		tf, ok := f.(frame.TextFrame)
		return ok && tf.Role == frame.RoleAssistant
	}).(frame.TextFrame)
	if reply.Text != "re: konnichiwa" {
		t.Fatalf("reply = %q", reply.Text)
	}
	rec.wait(t, "end of turn", isEndOfTurn)

	deadline := time.Now().Add(2 * time.Second)
	for task.State() != StateListening {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s after turn, want listening", task.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// A stage that stalls on a trigger word until its turn is cancelled, then
// leaks a stale frame anyway. The sink gate must drop it.
func stubbornStage(entered chan<- string) PassthroughFunc {
	return PassthroughFunc{
		StageName: "stubborn",
		Fn: func(ctx context.Context, f frame.Frame, dir frame.Direction, emit Emit) error {
			tf, ok := f.(frame.TextFrame)
			if !ok || dir != frame.Downstream || tf.Role != frame.RoleUser {
				emit(f, dir)
				return nil
			}
			if tf.Text == "slow" {
				entered <- tf.TurnID
				<-ctx.Done()
				// Emit after cancellation to prove the gate catches it.
				emit(frame.TextFrame{Text: "stale", Role: frame.RoleAssistant, TurnID: tf.TurnID}, frame.Downstream)
				return nil
			}
			emit(frame.TextFrame{Text: "re: " + tf.Text, Role: frame.RoleAssistant, TurnID: tf.TurnID}, frame.Downstream)
			emit(frame.ControlFrame{Kind: frame.ControlEndOfTurn, TurnID: tf.TurnID}, frame.Downstream)
			return nil
		},
	}
}

func TestTaskBargeInDiscardsStaleOutput(t *testing.T) {
	entered := make(chan string, 1)
	var interrupted []string
	var mu sync.Mutex
	task, rec := startTask(t, TaskConfig{
		OnInterrupt: func(turnID string) {
			mu.Lock()
			interrupted = append(interrupted, turnID)
			mu.Unlock()
		},
	}, stubbornStage(entered))

	task.HandleText("slow")
	var slowTurn string
	select {
	case slowTurn = <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("stage never saw the first turn")
	}

	task.HandleText("quick")
	reply := rec.wait(t, "reply to the barge-in turn", func(f frame.Frame) bool {
		tf, ok := f.(frame.TextFrame)
		return ok && tf.Role == frame.RoleAssistant
	}).(frame.TextFrame)
	if reply.Text != "re: quick" {
		t.Fatalf("reply = %q, want the second turn's answer", reply.Text)
	}

	// Give the stale frame time to leak if the gate were broken.
	time.Sleep(100 * time.Millisecond)
	for _, tf := range rec.texts() {
		if tf.Text == "stale" {
			t.Fatal("stale frame from the interrupted turn reached the output")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(interrupted) != 1 || interrupted[0] != slowTurn {
		t.Fatalf("OnInterrupt calls = %v, want [%s]", interrupted, slowTurn)
	}
}

func TestTaskHeartbeatWhileListening(t *testing.T) {
	task, rec := startTask(t, TaskConfig{
		HeartbeatInterval: 100 * time.Millisecond,
		IdleTimeout:       10 * time.Second,
	}, PassthroughFunc{StageName: "noop"})

	if task.State() != StateListening {
		t.Fatalf("state = %s, want listening", task.State())
	}
	first := time.Now()
	rec.wait(t, "first heartbeat", func(f frame.Frame) bool {
		cf, ok := f.(frame.ControlFrame)
		return ok && cf.Kind == frame.ControlHeartbeat
	})
	rec.wait(t, "second heartbeat", func(f frame.Frame) bool {
		cf, ok := f.(frame.ControlFrame)
		return ok && cf.Kind == frame.ControlHeartbeat
	})
	if since := time.Since(first); since < 100*time.Millisecond {
		t.Fatalf("second heartbeat after only %v", since)
	}
}

func TestTaskIdleTimeoutTerminates(t *testing.T) {
	task, rec := startTask(t, TaskConfig{
		HeartbeatInterval: 10 * time.Second,
		IdleTimeout:       150 * time.Millisecond,
	}, PassthroughFunc{StageName: "noop"})

	// The transport must hear about the shutdown before the chain dies,
	// so the client can be told why the line went quiet.
	rec.wait(t, "session end signal", func(f frame.Frame) bool {
		cf, ok := f.(frame.ControlFrame)
		return ok && cf.Kind == frame.ControlSessionEnd
	})

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not terminate after idle timeout")
	}
	if task.State() != StateTerminated {
		t.Fatalf("state = %s, want terminated", task.State())
	}
}

func TestStateTransitionTable(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateAwaitingParticipant, true},
		{StateIdle, StateSpeaking, false},
		{StateAwaitingParticipant, StateListening, true},
		{StateListening, StateProcessing, true},
		{StateListening, StateSpeaking, false},
		{StateProcessing, StateSpeaking, true},
		{StateProcessing, StateInterrupted, true},
		{StateProcessing, StateListening, true},
		{StateSpeaking, StateInterrupted, true},
		{StateSpeaking, StateListening, true},
		{StateSpeaking, StateProcessing, false},
		{StateInterrupted, StateListening, true},
		{StateInterrupted, StateSpeaking, false},
		{StateSpeaking, StateEnding, true},
		{StateEnding, StateTerminated, true},
		{StateEnding, StateListening, false},
		{StateTerminated, StateListening, false},
		{StateTerminated, StateTerminated, false},
		{StateListening, StateTerminated, true},
	}
	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}
