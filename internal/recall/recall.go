// Package recall implements the Recall Engine: vector-search-preferred
// retrieval with a bounded in-memory cosine fallback.
package recall

import (
	"container/heap"
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/store"
)

// Method names the retrieval path that produced a set of results.
type Method string

const (
	MethodVectorSearch Method = "vector_search"
	MethodInMemory     Method = "in_memory"
)

// FallbackCap is the hard OOM guard on the in-memory fallback scan
// (spec §4.3 step 4, §9 open question (c)).
const FallbackCap = 10000

// Result is one ranked memory, with its embedding projected out.
type Result struct {
	ID        string
	Text      string
	Tags      []string
	Metadata  map[string]interface{}
	CreatedAt time.Time
	Score     float64
}

// Query describes a recall request.
type Query struct {
	AgentID   string
	Query     string
	Limit     int
	Tags      []string
	ProjectID string
	MinScore  *float64
}

// VectorSearcher is the optional vector-index-backed path. When unset (no
// index available), the Engine always uses the fallback. ErrUnsupported
// signals "index absent / unsupported operation" per spec §4.3 step 3.
type VectorSearcher interface {
	Search(ctx context.Context, queryVector []float32, numCandidates, limit int, filter store.Filter) ([]Result, error)
}

// ErrUnsupported is returned by a VectorSearcher to signal the fallback
// path should be used instead.
var ErrUnsupported = fmt.Errorf("recall: vector search unsupported")

// Engine is the Recall Engine.
type Engine struct {
	Store    *store.Store
	Embedder *embedding.Client
	Vector   VectorSearcher // optional
}

// Recall executes the recall algorithm described in spec §4.3.
func (e *Engine) Recall(ctx context.Context, q Query) ([]Result, Method, error) {
	limit := q.Limit
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	vectors, err := e.Embedder.Embed(ctx, []string{q.Query}, embedding.HintQuery)
	if err != nil {
		return nil, "", fmt.Errorf("recall: embed query: %w", err)
	}
	queryVector := vectors[0]

	filter := store.Filter{AgentID: q.AgentID, ProjectID: q.ProjectID, Tags: q.Tags}

	if e.Vector != nil {
		numCandidates := limit * 10
		if numCandidates < 100 {
			numCandidates = 100
		}
		results, err := e.Vector.Search(ctx, queryVector, numCandidates, limit, filter)
		if err == nil {
			return finalize(results, q.MinScore, limit), MethodVectorSearch, nil
		}
		if err != ErrUnsupported {
			return nil, "", fmt.Errorf("recall: vector search: %w", err)
		}
	}

	results, err := e.fallback(filter, queryVector, limit)
	if err != nil {
		return nil, "", err
	}
	return finalize(results, q.MinScore, limit), MethodInMemory, nil
}

// scoredItem is a heap element: min-heap by score, so the lowest-scoring
// survivor is evicted first when the heap exceeds limit.
type scoredItem struct {
	Result
}

type scoreHeap []scoredItem

func (h scoreHeap) Len() int { return len(h) }
func (h scoreHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	// Tie-break: higher createdAt wins, so the older element is weaker and
	// gets evicted first.
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h scoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *scoreHeap) Push(x interface{}) { *h = append(*h, x.(scoredItem)) }
func (h *scoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (e *Engine) fallback(filter store.Filter, queryVector []float32, limit int) ([]Result, error) {
	h := &scoreHeap{}
	heap.Init(h)

	scanned := 0
	hitCap := false
	err := e.Store.StreamWhere(filter, store.Projection{WithEmbedding: true}, FallbackCap, func(m *memory.Memory) bool {
		scanned++
		if scanned >= FallbackCap {
			hitCap = true
		}
		score, err := embedding.Cosine(queryVector, m.Embedding)
		if err != nil {
			return true
		}
		item := scoredItem{Result{
			ID: m.ID, Text: m.Text, Tags: m.Tags, Metadata: m.Metadata,
			CreatedAt: m.CreatedAt, Score: score,
		}}
		heap.Push(h, item)
		if h.Len() > limit {
			heap.Pop(h)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("recall: fallback scan: %w", err)
	}
	if hitCap {
		log.Printf("[RECALL] fallback scan hit the %d-document cap for agent; results may be incomplete — a vector index is recommended", FallbackCap)
	}

	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(scoredItem).Result
	}
	return out, nil
}

func finalize(results []Result, minScore *float64, limit int) []Result {
	if minScore != nil {
		filtered := results[:0]
		for _, r := range results {
			if r.Score >= *minScore {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}
