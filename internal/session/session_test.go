package session

import (
	"context"
	"testing"
	"time"

	"github.com/kotoba-labs/kaiwa/internal/imagegen"
	"github.com/kotoba-labs/kaiwa/internal/llm"
	"github.com/kotoba-labs/kaiwa/internal/memory"
	"github.com/kotoba-labs/kaiwa/internal/protocol"
	"github.com/kotoba-labs/kaiwa/internal/tutor"
	"github.com/kotoba-labs/kaiwa/internal/voice"
)

type msgCollector struct {
	ch chan any
}

func newMsgCollector() *msgCollector {
	return &msgCollector{ch: make(chan any, 128)}
}

func (c *msgCollector) send(msg any) error {
	c.ch <- msg
	return nil
}

// next waits for the first message matching pred, discarding others.
func (c *msgCollector) next(t *testing.T, what string, pred func(any) bool) any {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case msg := <-c.ch:
			if pred(msg) {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func testManager() *Manager {
	return NewManager(Deps{
		Store:  memory.NewInMemoryStore(),
		LLM:    llm.NewMockProvider(),
		TTS:    voice.NewMockProvider(),
		Images: imagegen.NewMockGenerator(),
	})
}

func isAssistantText(msg any) bool {
	_, ok := msg.(protocol.AssistantText)
	return ok
}

func TestSessionGreetsOnOpen(t *testing.T) {
	m := testManager()
	col := newMsgCollector()

	s, err := m.Open(context.Background(), col.send)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	msg := col.next(t, "greeting", isAssistantText).(protocol.AssistantText)
	if msg.Text == "" {
		t.Fatal("empty greeting")
	}
	col.next(t, "greeting audio", func(m any) bool {
		a, ok := m.(protocol.AssistantAudio)
		return ok && a.Format == "wav" && a.AudioBase64 != ""
	})
	col.next(t, "greeting turn end", func(m any) bool {
		_, ok := m.(protocol.TurnEnd)
		return ok
	})
	if got := m.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}
}

func TestSessionAnswersTypedText(t *testing.T) {
	m := testManager()
	col := newMsgCollector()

	s, err := m.Open(context.Background(), col.send)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	col.next(t, "greeting turn end", func(m any) bool {
		_, ok := m.(protocol.TurnEnd)
		return ok
	})

	s.HandleMessage(context.Background(), []byte(`{"type":"client_text","text":"konnichiwa!"}`))

	reply := col.next(t, "assistant reply", isAssistantText).(protocol.AssistantText)
	if reply.Text == "" {
		t.Fatal("empty assistant reply")
	}
	col.next(t, "reply turn end", func(m any) bool {
		te, ok := m.(protocol.TurnEnd)
		return ok && te.TurnID == reply.TurnID
	})
}

func TestSessionStopCommandEndsSession(t *testing.T) {
	m := testManager()
	col := newMsgCollector()

	s, err := m.Open(context.Background(), col.send)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	col.next(t, "greeting turn end", func(m any) bool {
		_, ok := m.(protocol.TurnEnd)
		return ok
	})

	s.HandleMessage(context.Background(), []byte(`{"type":"client_text","text":"stop"}`))

	bye := col.next(t, "farewell line", isAssistantText).(protocol.AssistantText)
	if bye.Text != tutor.FarewellLine {
		t.Fatalf("farewell = %q, want %q", bye.Text, tutor.FarewellLine)
	}
	col.next(t, "session_end event", func(m any) bool {
		ev, ok := m.(protocol.SystemEvent)
		return ok && ev.Code == "session_end"
	})

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate after stop")
	}

	deadline := time.Now().Add(5 * time.Second)
	for m.ActiveCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ActiveCount = %d after stop, want 0", m.ActiveCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSessionExplicitEnd(t *testing.T) {
	m := testManager()
	col := newMsgCollector()

	s, err := m.Open(context.Background(), col.send)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	col.next(t, "greeting turn end", func(m any) bool {
		_, ok := m.(protocol.TurnEnd)
		return ok
	})

	s.HandleMessage(context.Background(), []byte(`{"type":"client_control","action":"end_session"}`))

	farewell := col.next(t, "farewell", isAssistantText).(protocol.AssistantText)
	if farewell.Text == "" {
		t.Fatal("empty farewell")
	}
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session did not terminate after end_session")
	}
}

func TestSessionRejectsMalformedPayload(t *testing.T) {
	m := testManager()
	col := newMsgCollector()

	s, err := m.Open(context.Background(), col.send)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.HandleMessage(context.Background(), []byte(`{broken`))
	ev := col.next(t, "error event", func(m any) bool {
		_, ok := m.(protocol.ErrorEvent)
		return ok
	}).(protocol.ErrorEvent)
	if ev.Code != "bad_message" {
		t.Fatalf("error code = %q, want bad_message", ev.Code)
	}
}

func TestSessionIdleTimeoutNotifiesClient(t *testing.T) {
	m := NewManager(Deps{
		Store:             memory.NewInMemoryStore(),
		LLM:               llm.NewMockProvider(),
		TTS:               voice.NewMockProvider(),
		Images:            imagegen.NewMockGenerator(),
		HeartbeatInterval: 10 * time.Second,
		IdleTimeout:       300 * time.Millisecond,
	})
	col := newMsgCollector()

	s, err := m.Open(context.Background(), col.send)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ev := col.next(t, "idle session end", func(msg any) bool {
		se, ok := msg.(protocol.SystemEvent)
		return ok && se.Code == "session_end"
	}).(protocol.SystemEvent)
	if ev.Detail != "idle_timeout" {
		t.Fatalf("session end detail = %q, want idle_timeout", ev.Detail)
	}

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session still alive after idle timeout")
	}
}
