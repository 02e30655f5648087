// Package usage implements the Usage Tracker: a context-carried stack of
// operation frames, attributed usage-event capture, and in-memory running
// totals.
package usage

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/memory"
)

// priceTable is USD per 1e6 tokens, per spec §4.9.
var priceTable = map[string]float64{
	"voyage-4":       0.10,
	"voyage-4-lite":  0.02,
	"voyage-4-large": 0.12,
	"voyage-3":       0.06,
	"voyage-3-lite":  0.02,
	"voyage-code-3":  0.10,
}

const defaultPricePerMillion = 0.10

func costForModel(model string, totalTokens int) float64 {
	price, ok := priceTable[model]
	if !ok {
		price = defaultPricePerMillion
	}
	return price * float64(totalTokens) / 1e6
}

// Frame attributes an operation to the embedding calls made while it is on
// top of the stack.
type Frame struct {
	Operation     string
	AgentID       string
	PipelineJobID string
	PipelineStage string
	MemoryID      string
}

type ctxKey struct{}

type stack struct {
	mu     sync.Mutex
	frames []Frame
}

// WithStack attaches a fresh, empty frame stack to ctx. Call once per
// worker goroutine (spec §5: "the context stack is thread-local, one stack
// per worker").
func WithStack(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, &stack{})
}

func stackFrom(ctx context.Context) *stack {
	s, _ := ctx.Value(ctxKey{}).(*stack)
	return s
}

// Push records a new top-of-stack frame and returns a release func that
// must be called (typically deferred) to pop it.
func Push(ctx context.Context, f Frame) func() {
	s := stackFrom(ctx)
	if s == nil {
		return func() {}
	}
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		if len(s.frames) > 0 {
			s.frames = s.frames[:len(s.frames)-1]
		}
		s.mu.Unlock()
	}
}

func peek(ctx context.Context) Frame {
	s := stackFrom(ctx)
	if s == nil {
		return Frame{Operation: "unknown"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return Frame{Operation: "unknown"}
	}
	return s.frames[len(s.frames)-1]
}

// RunningTotal accumulates usage for one operation.
type RunningTotal struct {
	Count            int64
	TotalTokens      int64
	EstimatedCostUsd float64
}

// Persister writes a UsageEvent to durable storage. Failures are logged,
// never surfaced — persistence is fire-and-forget per spec §4.9.
type Persister func(memory.UsageEvent) error

// Publisher fans a UsageEvent out to interested subscribers (e.g. the event
// bus). Also fire-and-forget.
type Publisher func(memory.UsageEvent)

// Tracker is the Usage Tracker.
type Tracker struct {
	mu        sync.Mutex
	totals    map[string]*RunningTotal
	persist   Persister
	publish   Publisher
	failures  int64
}

// NewTracker builds a Tracker. persist/publish may be nil.
func NewTracker(persist Persister, publish Publisher) *Tracker {
	return &Tracker{
		totals:  map[string]*RunningTotal{},
		persist: persist,
		publish: publish,
	}
}

// Listener returns an embedding.Listener that attributes each usage signal
// to whatever frame is on top of the calling context's stack. Register it
// once with the embedding client via Client.OnUsage; it reads ctx fresh on
// every call rather than closing over one.
func (t *Tracker) Listener() embedding.Listener {
	return func(ctx context.Context, sig embedding.UsageSignal) error {
		frame := peek(ctx)
		ev := memory.UsageEvent{
			Timestamp:        time.Now().UTC(),
			Operation:        frame.Operation,
			AgentID:          frame.AgentID,
			Model:            sig.Model,
			Provider:         "voyageai",
			TotalTokens:      sig.TotalTokens,
			InputTexts:       sig.InputTexts,
			InputType:        string(sig.InputType),
			EstimatedCostUsd: costForModel(sig.Model, sig.TotalTokens),
			PipelineJobID:    frame.PipelineJobID,
			PipelineStage:    frame.PipelineStage,
			MemoryID:         frame.MemoryID,
			IsMock:           sig.IsMock,
		}
		t.record(ev)
		return nil
	}
}

func (t *Tracker) record(ev memory.UsageEvent) {
	t.mu.Lock()
	rt, ok := t.totals[ev.Operation]
	if !ok {
		rt = &RunningTotal{}
		t.totals[ev.Operation] = rt
	}
	rt.Count++
	rt.TotalTokens += int64(ev.TotalTokens)
	rt.EstimatedCostUsd += ev.EstimatedCostUsd
	t.mu.Unlock()

	if t.persist != nil {
		if err := t.persist(ev); err != nil {
			t.mu.Lock()
			t.failures++
			t.mu.Unlock()
			log.Printf("[USAGE] persist failed for operation %s: %v", ev.Operation, err)
		}
	}
	if t.publish != nil {
		t.publish(ev)
	}
}

// RunningTotals returns a snapshot of totals keyed by operation.
func (t *Tracker) RunningTotals() map[string]RunningTotal {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]RunningTotal, len(t.totals))
	for k, v := range t.totals {
		out[k] = *v
	}
	return out
}

// Failures returns the count of persistence failures observed so far.
func (t *Tracker) Failures() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failures
}
