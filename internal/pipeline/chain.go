package pipeline

import (
	"context"
	"log"
	"sync"

	"github.com/kotoba-labs/kaiwa/internal/frame"
	"github.com/kotoba-labs/kaiwa/internal/observability"
)

const stageQueueDepth = 64

// Chain runs an ordered list of processors, each on its own goroutine,
// wired by buffered channels in both directions. Control frames travel on
// dedicated lanes so a Cancel can overtake data frames already queued for
// a stage; within one lane, frame order is preserved.
type Chain struct {
	stages []Processor

	down     []chan frame.Frame
	up       []chan frame.Frame
	ctrlDown []chan frame.Frame
	ctrlUp   []chan frame.Frame

	// SinkDown receives frames leaving the last stage downstream (the
	// transport output side). SinkUp receives frames leaving the first
	// stage upstream.
	SinkDown func(frame.Frame)
	SinkUp   func(frame.Frame)

	// TurnContext supplies the cancellable context for a frame's turn.
	// Frames without a turn run under the chain context.
	TurnContext func(turnID string) context.Context

	// Metrics, when set, counts every frame handed to a stage.
	Metrics *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewChain(stages ...Processor) *Chain {
	c := &Chain{stages: stages}
	n := len(stages)
	c.down = make([]chan frame.Frame, n)
	c.up = make([]chan frame.Frame, n)
	c.ctrlDown = make([]chan frame.Frame, n)
	c.ctrlUp = make([]chan frame.Frame, n)
	for i := 0; i < n; i++ {
		c.down[i] = make(chan frame.Frame, stageQueueDepth)
		c.up[i] = make(chan frame.Frame, stageQueueDepth)
		c.ctrlDown[i] = make(chan frame.Frame, stageQueueDepth)
		c.ctrlUp[i] = make(chan frame.Frame, stageQueueDepth)
	}
	return c
}

func (c *Chain) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	for i := range c.stages {
		c.wg.Add(1)
		go c.runStage(i)
	}
}

func (c *Chain) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Push injects a frame at the head (downstream) or tail (upstream) of the
// chain.
func (c *Chain) Push(f frame.Frame, dir frame.Direction) {
	if len(c.stages) == 0 {
		c.exit(f, dir)
		return
	}
	if dir == frame.Downstream {
		c.send(0, f, dir)
	} else {
		c.send(len(c.stages)-1, f, dir)
	}
}

func (c *Chain) runStage(i int) {
	defer c.wg.Done()
	for {
		// Drain the control lanes first so interrupts overtake data.
		select {
		case f := <-c.ctrlDown[i]:
			c.process(i, f, frame.Downstream)
			continue
		case f := <-c.ctrlUp[i]:
			c.process(i, f, frame.Upstream)
			continue
		default:
		}
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.ctrlDown[i]:
			c.process(i, f, frame.Downstream)
		case f := <-c.ctrlUp[i]:
			c.process(i, f, frame.Upstream)
		case f := <-c.down[i]:
			c.process(i, f, frame.Downstream)
		case f := <-c.up[i]:
			c.process(i, f, frame.Upstream)
		}
	}
}

func (c *Chain) process(i int, f frame.Frame, dir frame.Direction) {
	stage := c.stages[i]
	if c.Metrics != nil {
		c.Metrics.FramesProcessed.WithLabelValues(frame.Kind(f), dir.String()).Inc()
	}
	ctx := c.ctx
	if c.TurnContext != nil {
		if id := frame.TurnID(f); id != "" {
			ctx = c.TurnContext(id)
		}
	}
	emit := func(out frame.Frame, outDir frame.Direction) {
		c.route(i, out, outDir)
	}
	if err := stage.Process(ctx, f, dir, emit); err != nil {
		if context.Cause(ctx) != nil || ctx.Err() != nil {
			// Cancellation is not an error; the stage unwound.
			return
		}
		log.Printf("pipeline: stage %s failed on %s frame: %v", stage.Name(), frame.Kind(f), err)
	}
}

func (c *Chain) route(from int, f frame.Frame, dir frame.Direction) {
	if dir == frame.Downstream {
		if from == len(c.stages)-1 {
			c.exit(f, dir)
			return
		}
		c.send(from+1, f, dir)
		return
	}
	if from == 0 {
		c.exit(f, dir)
		return
	}
	c.send(from-1, f, dir)
}

func (c *Chain) send(to int, f frame.Frame, dir frame.Direction) {
	var ch chan frame.Frame
	// Only interrupting controls ride the out-of-band lanes; EndOfTurn and
	// Heartbeat are in-band markers that must keep their place in line.
	isControl := false
	if cf, ok := f.(frame.ControlFrame); ok {
		isControl = cf.Kind == frame.ControlCancel || cf.Kind == frame.ControlSessionEnd
	}
	switch {
	case isControl && dir == frame.Downstream:
		ch = c.ctrlDown[to]
	case isControl:
		ch = c.ctrlUp[to]
	case dir == frame.Downstream:
		ch = c.down[to]
	default:
		ch = c.up[to]
	}
	select {
	case ch <- f:
	case <-c.ctx.Done():
	}
}

func (c *Chain) exit(f frame.Frame, dir frame.Direction) {
	if dir == frame.Downstream {
		if c.SinkDown != nil {
			c.SinkDown(f)
		}
		return
	}
	if c.SinkUp != nil {
		c.SinkUp(f)
	}
}
