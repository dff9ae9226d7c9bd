package pipeline

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/observability"
)

const (
	defaultHeartbeatInterval = 60 * time.Second
	defaultIdleTimeout       = 5 * time.Minute
	cancelledTurnHighWater   = 64
)

// TaskConfig tunes one pipeline session.
type TaskConfig struct {
	HeartbeatInterval time.Duration
	IdleTimeout       time.Duration
	Metrics           *observability.Metrics
	// OnInterrupt runs synchronously when a turn is cancelled by barge-in,
	// before the replacement turn's frames enter the chain.
	OnInterrupt func(turnID string)
}

// Task owns a session's stage chain: it injects input frames, tracks the
// session state machine, supervises idle heartbeats, and enforces the
// barge-in protocol. Frames leaving the chain downstream are handed to
// Output after the stale-turn gate.
type Task struct {
	chain   *Chain
	cfg     TaskConfig
	metrics *observability.Metrics

	// Output delivers frames to the transport adapter. Set before Start.
	Output func(frame.Frame)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     State
	turnID    string // current user turn
	turnStart time.Time
	spoke     bool // first assistant output for the turn seen

	turnsMu   sync.Mutex
	turns     map[string]context.Context
	turnsStop map[string]context.CancelFunc
	cancelled map[string]bool

	lastActivity  atomic.Int64 // unix nanos, written by the frame path only
	lastHeartbeat atomic.Int64

	endDelivered chan struct{}
}

func NewTask(chain *Chain, cfg TaskConfig) *Task {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	t := &Task{
		chain:        chain,
		cfg:          cfg,
		metrics:      cfg.Metrics,
		state:        StateIdle,
		turns:        make(map[string]context.Context),
		turnsStop:    make(map[string]context.CancelFunc),
		cancelled:    make(map[string]bool),
		done:         make(chan struct{}),
		endDelivered: make(chan struct{}, 1),
	}
	chain.TurnContext = t.turnContext
	chain.SinkDown = t.sinkDown
	chain.SinkUp = t.sinkUp
	chain.Metrics = cfg.Metrics
	return t
}

// Start wires the chain and begins supervision. The task enters
// AwaitingParticipant until the first join event.
func (t *Task) Start(ctx context.Context) {
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.touch()
	t.chain.Start(t.ctx)
	t.transition(StateAwaitingParticipant)
	go t.superviseIdle()
}

// Done closes when the task reaches Terminated.
func (t *Task) Done() <-chan struct{} { return t.done }

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// ParticipantJoined moves the session into Listening on the first join.
func (t *Task) ParticipantJoined() {
	t.mu.Lock()
	if t.state == StateAwaitingParticipant {
		t.setStateLocked(StateListening)
	}
	t.mu.Unlock()
	t.touch()
}

// HandleTranscription injects speech-to-text output. Interim results flow
// through for aggregation; a final result starts (or barges into) a turn.
func (t *Task) HandleTranscription(f frame.TranscriptionFrame) {
	t.touch()
	if !f.Final {
		t.chain.Push(f, frame.Downstream)
		return
	}
	f.TurnID = t.beginUserTurn()
	t.chain.Push(f, frame.Downstream)
}

// HandleText injects typed user input, treated as a complete turn.
func (t *Task) HandleText(text string) {
	t.touch()
	id := t.beginUserTurn()
	t.chain.Push(frame.TextFrame{Text: text, Role: frame.RoleUser, TurnID: id}, frame.Downstream)
}

// HandleImage attaches an uploaded image to the conversation.
func (t *Task) HandleImage(f frame.ImageFrame) {
	t.touch()
	t.chain.Push(f, frame.Downstream)
}

// QueueAssistantText speaks a synthesized assistant turn (greeting,
// farewell) without user input.
func (t *Task) QueueAssistantText(text string) {
	t.touch()
	id := uuid.NewString()
	t.registerTurn(id)
	t.mu.Lock()
	t.turnID = id
	t.turnStart = time.Now()
	t.spoke = false
	if t.state == StateListening {
		t.setStateLocked(StateProcessing)
	}
	t.mu.Unlock()
	t.chain.Push(frame.TextFrame{Text: text, Role: frame.RoleAssistant, TurnID: id}, frame.Downstream)
	t.chain.Push(frame.ControlFrame{Kind: frame.ControlEndOfTurn, TurnID: id}, frame.Downstream)
}

// End begins a graceful shutdown: the session stops accepting input and
// terminates once the in-flight farewell is delivered or the timeout
// elapses.
func (t *Task) End(timeout time.Duration) {
	t.mu.Lock()
	if t.state == StateTerminated || t.state == StateEnding {
		t.mu.Unlock()
		return
	}
	t.setStateLocked(StateEnding)
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.endDelivered:
	case <-timer.C:
	case <-t.ctx.Done():
	}
	t.Terminate()
}

// Fail terminates immediately after an unrecoverable transport or stage
// failure.
func (t *Task) Fail(err error) {
	if err != nil {
		log.Printf("pipeline: fatal: %v", err)
	}
	t.Terminate()
}

// Terminate releases the chain and marks the session dead.
func (t *Task) Terminate() {
	t.mu.Lock()
	if t.state == StateTerminated {
		t.mu.Unlock()
		return
	}
	t.setStateLocked(StateTerminated)
	t.mu.Unlock()
	t.cancel()
	t.chain.Stop()
	close(t.done)
}

// beginUserTurn starts a new turn, interrupting any in-flight assistant
// response (barge-in). Returns the new turn ID.
func (t *Task) beginUserTurn() string {
	id := uuid.NewString()
	t.registerTurn(id)

	t.mu.Lock()
	prev := t.turnID
	interrupting := t.state == StateSpeaking || t.state == StateProcessing
	if interrupting {
		t.setStateLocked(StateInterrupted)
		t.setStateLocked(StateListening)
	}
	if t.state == StateListening {
		t.setStateLocked(StateProcessing)
	}
	t.turnID = id
	t.turnStart = time.Now()
	t.spoke = false
	t.mu.Unlock()

	if interrupting && prev != "" {
		t.cancelTurn(prev)
		if t.cfg.OnInterrupt != nil {
			t.cfg.OnInterrupt(prev)
		}
		if t.metrics != nil {
			t.metrics.Interruptions.Inc()
		}
		// Tell in-flight stages to abandon the interrupted turn's work.
		t.chain.Push(frame.ControlFrame{Kind: frame.ControlCancel, TurnID: prev}, frame.Upstream)
	}
	return id
}

func (t *Task) registerTurn(id string) {
	ctx, cancel := context.WithCancel(t.ctx)
	t.turnsMu.Lock()
	t.turns[id] = ctx
	t.turnsStop[id] = cancel
	if len(t.cancelled) > cancelledTurnHighWater {
		t.cancelled = make(map[string]bool)
	}
	t.turnsMu.Unlock()
}

func (t *Task) cancelTurn(id string) {
	t.turnsMu.Lock()
	if cancel, ok := t.turnsStop[id]; ok {
		cancel()
		delete(t.turnsStop, id)
		delete(t.turns, id)
	}
	t.cancelled[id] = true
	t.turnsMu.Unlock()
}

func (t *Task) releaseTurn(id string) {
	t.turnsMu.Lock()
	if cancel, ok := t.turnsStop[id]; ok {
		cancel()
		delete(t.turnsStop, id)
		delete(t.turns, id)
	}
	t.turnsMu.Unlock()
}

func (t *Task) turnContext(id string) context.Context {
	t.turnsMu.Lock()
	defer t.turnsMu.Unlock()
	if ctx, ok := t.turns[id]; ok {
		return ctx
	}
	if t.cancelled[id] {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return t.ctx
}

func (t *Task) isCancelled(id string) bool {
	if id == "" {
		return false
	}
	t.turnsMu.Lock()
	defer t.turnsMu.Unlock()
	return t.cancelled[id]
}

// sinkDown receives every frame leaving the chain on the output side. It
// drops frames from interrupted turns, advances the state machine, and
// forwards the rest to the transport.
func (t *Task) sinkDown(f frame.Frame) {
	id := frame.TurnID(f)
	if t.isCancelled(id) {
		return
	}

	if cf, ok := f.(frame.ControlFrame); ok {
		switch cf.Kind {
		case frame.ControlHeartbeat:
			// Keepalive for the transport only; no state change.
			t.deliver(f)
			return
		case frame.ControlEndOfTurn:
			t.completeTurn(id)
			// The transport still sees the marker so clients can close
			// out the reply.
			t.deliver(f)
			return
		case frame.ControlSessionEnd:
			// Idle teardown: tell the transport, then release the chain.
			// Terminate joins the stage goroutines, so it cannot run on
			// this one.
			t.deliver(f)
			go t.Terminate()
			return
		case frame.ControlCancel:
			return
		}
	}

	t.noteAssistantOutput(id, f)
	t.deliver(f)
}

func (t *Task) sinkUp(frame.Frame) {
	// Cancel frames pushed at the tail end up here after crossing the
	// chain; nothing sits upstream of the head, so they just expire.
}

func (t *Task) noteAssistantOutput(id string, f frame.Frame) {
	switch f.(type) {
	case frame.TextFrame, frame.AudioFrame, frame.ImageFrame:
	default:
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" || id != t.turnID || t.spoke {
		return
	}
	t.spoke = true
	if t.state == StateProcessing {
		t.setStateLocked(StateSpeaking)
	}
	if t.metrics != nil && !t.turnStart.IsZero() {
		t.metrics.ObserveTurnLatency(time.Since(t.turnStart))
	}
}

func (t *Task) completeTurn(id string) {
	t.releaseTurn(id)
	t.mu.Lock()
	current := id != "" && id == t.turnID
	ending := t.state == StateEnding
	if current && (t.state == StateSpeaking || t.state == StateProcessing) {
		t.setStateLocked(StateListening)
	}
	t.mu.Unlock()
	t.touch()
	if ending {
		select {
		case t.endDelivered <- struct{}{}:
		default:
		}
	}
}

func (t *Task) deliver(f frame.Frame) {
	if t.Output != nil {
		t.Output(f)
	}
}

func (t *Task) transition(to State) {
	t.mu.Lock()
	t.setStateLocked(to)
	t.mu.Unlock()
}

func (t *Task) setStateLocked(to State) {
	if t.state == to || !canTransition(t.state, to) {
		return
	}
	if t.metrics != nil {
		t.metrics.StateTransitions.WithLabelValues(string(t.state), string(to)).Inc()
	}
	t.state = to
}

func (t *Task) touch() {
	t.lastActivity.Store(time.Now().UnixNano())
}

// superviseIdle emits keepalive heartbeats while Listening and ends the
// session after prolonged inactivity.
func (t *Task) superviseIdle() {
	tick := t.cfg.HeartbeatInterval / 4
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
		}
		now := time.Now().UnixNano()
		last := t.lastActivity.Load()
		idle := time.Duration(now - last)

		if idle >= t.cfg.IdleTimeout {
			log.Printf("pipeline: idle timeout after %s", idle.Round(time.Second))
			// Route the end signal through the chain so stages unwind and
			// the transport sees it before the session dies.
			t.chain.Push(frame.ControlFrame{Kind: frame.ControlSessionEnd}, frame.Downstream)
			select {
			case <-t.done:
			case <-time.After(time.Second):
				t.Terminate()
			}
			return
		}
		if t.State() != StateListening {
			continue
		}
		sinceBeat := time.Duration(now - max64(last, t.lastHeartbeat.Load()))
		if sinceBeat >= t.cfg.HeartbeatInterval {
			t.lastHeartbeat.Store(now)
			if t.metrics != nil {
				t.metrics.Heartbeats.Inc()
			}
			t.chain.Push(frame.ControlFrame{Kind: frame.ControlHeartbeat}, frame.Downstream)
		}
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
