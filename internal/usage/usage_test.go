package usage

import (
	"context"
	"fmt"
	"testing"

	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/memory"
)

func TestPushPopRestoresPreviousFrame(t *testing.T) {
	ctx := WithStack(context.Background())
	pop1 := Push(ctx, Frame{Operation: "outer"})
	pop2 := Push(ctx, Frame{Operation: "inner"})

	if got := peek(ctx); got.Operation != "inner" {
		t.Fatalf("expected top frame 'inner', got %q", got.Operation)
	}
	pop2()
	if got := peek(ctx); got.Operation != "outer" {
		t.Fatalf("expected top frame 'outer' after pop, got %q", got.Operation)
	}
	pop1()
	if got := peek(ctx); got.Operation != "unknown" {
		t.Fatalf("expected 'unknown' once the stack is empty, got %q", got.Operation)
	}
}

func TestPeekWithoutStackReturnsUnknown(t *testing.T) {
	if got := peek(context.Background()); got.Operation != "unknown" {
		t.Errorf("expected 'unknown' for a context with no stack attached, got %q", got.Operation)
	}
}

func TestPushWithoutStackIsNoop(t *testing.T) {
	pop := Push(context.Background(), Frame{Operation: "x"})
	pop() // must not panic
}

func TestListenerAttributesUsageToTopFrame(t *testing.T) {
	tr := NewTracker(nil, nil)
	client := embedding.NewMock()
	client.OnUsage(tr.Listener())

	ctx := WithStack(context.Background())
	pop := Push(ctx, Frame{Operation: "reflect", AgentID: "agent-1", PipelineJobID: "job-1", PipelineStage: "extract"})
	defer pop()

	if _, err := client.Embed(ctx, []string{"a", "b"}, embedding.HintDocument); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	totals := tr.RunningTotals()
	rt, ok := totals["reflect"]
	if !ok {
		t.Fatalf("expected a running total for operation 'reflect', got %+v", totals)
	}
	if rt.Count != 1 {
		t.Errorf("expected count 1, got %d", rt.Count)
	}
}

func TestListenerComputesCostFromPriceTable(t *testing.T) {
	tr := NewTracker(nil, nil)
	client := embedding.NewMock().WithModel("voyage-4-lite")
	client.OnUsage(tr.Listener())

	ctx := WithStack(context.Background())
	pop := Push(ctx, Frame{Operation: "recall"})
	defer pop()

	if _, err := client.Embed(ctx, []string{"some query text here"}, embedding.HintQuery); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}

	totals := tr.RunningTotals()
	if totals["recall"].EstimatedCostUsd <= 0 {
		t.Errorf("expected a positive estimated cost, got %v", totals["recall"].EstimatedCostUsd)
	}
}

func TestListenerFallsBackToDefaultPriceForUnknownModel(t *testing.T) {
	tr := NewTracker(nil, nil)
	client := embedding.NewMock().WithModel("some-unlisted-model")
	client.OnUsage(tr.Listener())

	ctx := WithStack(context.Background())
	pop := Push(ctx, Frame{Operation: "op"})
	defer pop()

	if _, err := client.Embed(ctx, []string{"text"}, embedding.HintDocument); err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if totals := tr.RunningTotals(); totals["op"].EstimatedCostUsd <= 0 {
		t.Error("expected a positive cost using the default per-model price")
	}
}

func TestRecordCountsPersistFailures(t *testing.T) {
	persistErr := fmt.Errorf("disk full")
	tr := NewTracker(func(memory.UsageEvent) error { return persistErr }, nil)

	tr.record(memory.UsageEvent{Operation: "op", TotalTokens: 10})
	tr.record(memory.UsageEvent{Operation: "op", TotalTokens: 10})

	if tr.Failures() != 2 {
		t.Errorf("expected 2 persistence failures, got %d", tr.Failures())
	}
}

func TestRecordInvokesPublisher(t *testing.T) {
	var published []memory.UsageEvent
	tr := NewTracker(nil, func(ev memory.UsageEvent) { published = append(published, ev) })

	tr.record(memory.UsageEvent{Operation: "op"})
	if len(published) != 1 {
		t.Fatalf("expected the publisher to be invoked once, got %d", len(published))
	}
}

func TestRunningTotalsAccumulateAcrossCalls(t *testing.T) {
	tr := NewTracker(nil, nil)
	tr.record(memory.UsageEvent{Operation: "op", TotalTokens: 100, EstimatedCostUsd: 0.01})
	tr.record(memory.UsageEvent{Operation: "op", TotalTokens: 50, EstimatedCostUsd: 0.005})

	rt := tr.RunningTotals()["op"]
	if rt.Count != 2 || rt.TotalTokens != 150 {
		t.Errorf("expected accumulated totals, got %+v", rt)
	}
}
