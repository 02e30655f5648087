package recall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func embed(t *testing.T, text string) []float32 {
	t.Helper()
	vecs, err := embedding.NewMock().Embed(context.Background(), []string{text}, embedding.HintDocument)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	return vecs[0]
}

func insertMemory(t *testing.T, st *store.Store, agentID, text string, vec []float32) {
	t.Helper()
	_, err := st.Insert(&memory.Memory{
		AgentID:    agentID,
		Text:       text,
		MemoryType: memory.TypeFact,
		Layer:      memory.LayerEpisodic,
		Confidence: memory.InitialConfidence(memory.TypeFact),
		Strength:   1.0,
		Embedding:  vec,
	})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
}

func TestRecallFallbackRanksExactMatchFirst(t *testing.T) {
	st := setupTestStore(t)
	insertMemory(t, st, "agent-1", "dark roast coffee", embed(t, "dark roast coffee query"))
	insertMemory(t, st, "agent-1", "unrelated topic entirely", embed(t, "completely different subject"))

	e := &Engine{Store: st, Embedder: embedding.NewMock()}
	results, method, err := e.Recall(context.Background(), Query{AgentID: "agent-1", Query: "dark roast coffee query", Limit: 10})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if method != MethodInMemory {
		t.Errorf("expected fallback method when no VectorSearcher is set, got %v", method)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Text != "dark roast coffee" {
		t.Fatalf("expected the identical-text embedding ranked first, got %+v", results)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("expected results sorted by score desc, got %+v", results)
	}
}

func TestRecallAppliesMinScoreFilter(t *testing.T) {
	st := setupTestStore(t)
	queryVec := embed(t, "the query text")
	insertMemory(t, st, "agent-1", "exact match", queryVec)
	insertMemory(t, st, "agent-1", "something else", embed(t, "something else"))

	min := 0.9
	e := &Engine{Store: st, Embedder: embedding.NewMock()}
	results, _, err := e.Recall(context.Background(), Query{AgentID: "agent-1", Query: "the query text", Limit: 10, MinScore: &min})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(results) != 1 || results[0].Text != "exact match" {
		t.Fatalf("expected only the above-threshold result, got %+v", results)
	}
}

func TestRecallLimitDefaultsAndClamps(t *testing.T) {
	st := setupTestStore(t)
	for i := 0; i < 3; i++ {
		insertMemory(t, st, "agent-1", "memory", embed(t, "memory"))
	}
	e := &Engine{Store: st, Embedder: embedding.NewMock()}

	results, _, err := e.Recall(context.Background(), Query{AgentID: "agent-1", Query: "memory", Limit: 0})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected default limit to allow all 3 results, got %d", len(results))
	}

	results, _, err = e.Recall(context.Background(), Query{AgentID: "agent-1", Query: "memory", Limit: 1})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected explicit limit to cap results, got %d", len(results))
	}
}

type fakeSearcher struct {
	results []Result
	err     error
}

func (f *fakeSearcher) Search(ctx context.Context, queryVector []float32, numCandidates, limit int, filter store.Filter) ([]Result, error) {
	return f.results, f.err
}

func TestRecallPrefersVectorSearchWhenAvailable(t *testing.T) {
	st := setupTestStore(t)
	e := &Engine{
		Store:    st,
		Embedder: embedding.NewMock(),
		Vector:   &fakeSearcher{results: []Result{{ID: "v1", Text: "from index", Score: 0.9}}},
	}
	results, method, err := e.Recall(context.Background(), Query{AgentID: "agent-1", Query: "x", Limit: 10})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if method != MethodVectorSearch {
		t.Errorf("expected vector_search method, got %v", method)
	}
	if len(results) != 1 || results[0].ID != "v1" {
		t.Fatalf("expected the vector searcher's result to be returned, got %+v", results)
	}
}

func TestRecallFallsBackWhenVectorSearchUnsupported(t *testing.T) {
	st := setupTestStore(t)
	insertMemory(t, st, "agent-1", "fallback hit", embed(t, "fallback hit"))
	e := &Engine{
		Store:    st,
		Embedder: embedding.NewMock(),
		Vector:   &fakeSearcher{err: ErrUnsupported},
	}
	results, method, err := e.Recall(context.Background(), Query{AgentID: "agent-1", Query: "x", Limit: 10})
	if err != nil {
		t.Fatalf("Recall failed: %v", err)
	}
	if method != MethodInMemory {
		t.Errorf("expected fallback when VectorSearcher returns ErrUnsupported, got %v", method)
	}
	if len(results) != 1 {
		t.Fatalf("expected the fallback scan to find the memory, got %d results", len(results))
	}
}

func TestRecallPropagatesVectorSearchError(t *testing.T) {
	st := setupTestStore(t)
	e := &Engine{
		Store:    st,
		Embedder: embedding.NewMock(),
		Vector:   &fakeSearcher{err: context.DeadlineExceeded},
	}
	_, _, err := e.Recall(context.Background(), Query{AgentID: "agent-1", Query: "x", Limit: 10})
	if err == nil {
		t.Fatal("expected a non-ErrUnsupported vector search error to propagate")
	}
}

func TestFinalizeSortsFiltersAndLimits(t *testing.T) {
	now := time.Now()
	results := []Result{
		{ID: "a", Score: 0.2, CreatedAt: now},
		{ID: "b", Score: 0.9, CreatedAt: now},
		{ID: "c", Score: 0.5, CreatedAt: now},
	}
	min := 0.3
	out := finalize(results, &min, 1)
	if len(out) != 1 || out[0].ID != "b" {
		t.Fatalf("expected only the top above-threshold result, got %+v", out)
	}
}
