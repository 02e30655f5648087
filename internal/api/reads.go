package api

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/pca"
	"github.com/agentmemory/memoryd/internal/recall"
	"github.com/agentmemory/memoryd/internal/store"
)

// RecallInput is the validated input to Recall.
type RecallInput struct {
	AgentID   string
	Query     string
	Limit     int
	Tags      []string
	ProjectID string
}

// RecallOutput is the result of Recall.
type RecallOutput struct {
	Results []recall.Result
	Count   int
	Method  recall.Method
}

// Recall executes the Recall Engine's vector-search-preferred retrieval.
func (s *Service) Recall(ctx context.Context, in RecallInput) (RecallOutput, error) {
	if in.AgentID == "" {
		return RecallOutput{}, validationErr("agentId is required")
	}
	if in.Query == "" {
		return RecallOutput{}, validationErr("query is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 10
	}

	results, method, err := s.RecallEngine.Recall(ctx, recall.Query{
		AgentID: in.AgentID, Query: in.Query, Limit: limit, Tags: in.Tags, ProjectID: in.ProjectID,
	})
	if err != nil {
		return RecallOutput{}, newErr(KindUnavailable, "recall failed", err)
	}
	return RecallOutput{Results: results, Count: len(results), Method: method}, nil
}

// ListMemoriesInput is the validated input to ListMemories.
type ListMemoriesInput struct {
	AgentID string
	Cursor  *store.Cursor
	Sort    store.Sort
	Limit   int
	Tags    []string
}

// ListMemories returns a cursor-paginated page of memories.
func (s *Service) ListMemories(in ListMemoriesInput) (store.Page, error) {
	if in.AgentID == "" {
		return store.Page{}, validationErr("agentId is required")
	}
	limit := in.Limit
	if limit <= 0 || limit > s.Limits.MaxListLimit {
		limit = s.Limits.MaxListLimit
	}
	sortDir := in.Sort
	if sortDir == "" {
		sortDir = store.SortDesc
	}

	page, err := s.Store.Find(store.Filter{AgentID: in.AgentID, Tags: in.Tags}, sortDir, in.Cursor, limit)
	if err != nil {
		return store.Page{}, newErr(KindInternal, "listMemories failed", err)
	}
	return page, nil
}

// ExportOutput is the result of Export.
type ExportOutput struct {
	Count      int
	ExportedAt time.Time
	Memories   []*memory.Memory
}

// Export streams every memory for agentID (optionally scoped to
// projectID) with its embedding projected out.
func (s *Service) Export(agentID, projectID string) (ExportOutput, error) {
	if agentID == "" {
		return ExportOutput{}, validationErr("agentId is required")
	}
	var out []*memory.Memory
	err := s.Store.StreamWhere(store.Filter{AgentID: agentID, ProjectID: projectID}, store.Projection{WithEmbedding: false}, 0, func(m *memory.Memory) bool {
		out = append(out, m)
		return true
	})
	if err != nil {
		return ExportOutput{}, newErr(KindInternal, "export failed", err)
	}
	return ExportOutput{Count: len(out), ExportedAt: time.Now().UTC(), Memories: out}, nil
}

// DayCount is one bucket of Timeline's output.
type DayCount struct {
	Date  string
	Count int
}

// TimelineOutput is the result of Timeline.
type TimelineOutput struct {
	Days      []DayCount
	Total     int
	DateRange [2]string
}

// Timeline buckets agentID's memories by UTC calendar day over the trailing
// `days` window.
func (s *Service) Timeline(agentID string, days int) (TimelineOutput, error) {
	if agentID == "" {
		return TimelineOutput{}, validationErr("agentId is required")
	}
	if days <= 0 || days > s.Limits.MaxTimelineDays {
		days = s.Limits.MaxTimelineDays
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	counts := map[string]int{}
	err := s.Store.StreamWhere(store.Filter{AgentID: agentID, CreatedAfter: &since}, store.Projection{WithEmbedding: false}, 0, func(m *memory.Memory) bool {
		day := m.CreatedAt.UTC().Format("2006-01-02")
		counts[day]++
		return true
	})
	if err != nil {
		return TimelineOutput{}, newErr(KindInternal, "timeline failed", err)
	}

	var out []DayCount
	total := 0
	for day, n := range counts {
		out = append(out, DayCount{Date: day, Count: n})
		total += n
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })

	result := TimelineOutput{Days: out, Total: total}
	result.DateRange[0] = since.Format("2006-01-02")
	result.DateRange[1] = time.Now().UTC().Format("2006-01-02")
	return result, nil
}

// WordCount is one entry of Wordcloud's output.
type WordCount struct {
	Text      string
	Count     int
	Frequency float64
}

// WordcloudOutput is the result of Wordcloud.
type WordcloudOutput struct {
	Words            []WordCount
	TotalMemories    int
	TotalUniqueWords int
}

var tokenSplit = regexp.MustCompile(`[^a-zA-Z0-9'-]+`)
var pureDigits = regexp.MustCompile(`^[0-9]+$`)

// stopWords is a fixed English stop-word set, per spec §6.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"being": true, "have": true, "has": true, "had": true, "do": true, "does": true,
	"did": true, "will": true, "would": true, "should": true, "could": true,
	"to": true, "of": true, "in": true, "on": true, "at": true, "by": true,
	"for": true, "with": true, "about": true, "against": true, "between": true,
	"into": true, "through": true, "during": true, "before": true, "after": true,
	"above": true, "below": true, "from": true, "up": true, "down": true,
	"this": true, "that": true, "these": true, "those": true, "it": true,
	"its": true, "he": true, "she": true, "they": true, "them": true, "his": true,
	"her": true, "their": true, "you": true, "your": true, "we": true, "our": true,
	"i": true, "me": true, "my": true, "not": true, "no": true, "so": true,
	"as": true, "if": true, "than": true, "then": true, "there": true, "here": true,
	"all": true, "any": true, "both": true, "each": true, "few": true, "more": true,
	"most": true, "other": true, "some": true, "such": true, "only": true,
	"can": true, "just": true, "also": true,
}

// Wordcloud tokenizes agentID's memory text and returns the top `limit`
// tokens by frequency, per spec §6.
func (s *Service) Wordcloud(agentID string, limit, minCount int) (WordcloudOutput, error) {
	if agentID == "" {
		return WordcloudOutput{}, validationErr("agentId is required")
	}
	if limit <= 0 || limit > s.Limits.MaxWordcloudLimit {
		limit = s.Limits.MaxWordcloudLimit
	}
	if minCount < 1 {
		minCount = 1
	}

	counts := map[string]int{}
	total := 0
	err := s.Store.StreamWhere(store.Filter{AgentID: agentID}, store.Projection{WithEmbedding: false}, 0, func(m *memory.Memory) bool {
		total++
		for _, tok := range tokenSplit.Split(strings.ToLower(m.Text), -1) {
			if len(tok) <= 2 || pureDigits.MatchString(tok) || stopWords[tok] {
				continue
			}
			counts[tok]++
		}
		return true
	})
	if err != nil {
		return WordcloudOutput{}, newErr(KindInternal, "wordcloud failed", err)
	}

	var words []WordCount
	var sumCounts int
	for tok, n := range counts {
		sumCounts += n
		if n >= minCount {
			words = append(words, WordCount{Text: tok, Count: n})
		}
	}
	sort.Slice(words, func(i, j int) bool {
		if words[i].Count != words[j].Count {
			return words[i].Count > words[j].Count
		}
		return words[i].Text < words[j].Text
	})
	if len(words) > limit {
		words = words[:limit]
	}
	for i := range words {
		if sumCounts > 0 {
			words[i].Frequency = float64(words[i].Count) / float64(sumCounts)
		}
	}

	return WordcloudOutput{Words: words, TotalMemories: total, TotalUniqueWords: len(counts)}, nil
}

// EmbeddingsProjectionOutput is the result of EmbeddingsProjection.
type EmbeddingsProjectionOutput struct {
	Points             []pca.Point
	VarianceExplained  []float64
}

// EmbeddingsProjection projects up to `limit` of agentID's embeddings into
// 2D or 3D via the PCA Projector.
func (s *Service) EmbeddingsProjection(agentID string, limit, dimensions int) (EmbeddingsProjectionOutput, error) {
	if agentID == "" {
		return EmbeddingsProjectionOutput{}, validationErr("agentId is required")
	}
	if limit <= 0 || limit > s.Limits.MaxProjectionLimit {
		limit = s.Limits.MaxProjectionLimit
	}
	if dimensions != 2 && dimensions != 3 {
		dimensions = 2
	}

	var vectors [][]float32
	err := s.Store.StreamWhere(store.Filter{AgentID: agentID}, store.Projection{WithEmbedding: true}, limit, func(m *memory.Memory) bool {
		vectors = append(vectors, m.Embedding)
		return true
	})
	if err != nil {
		return EmbeddingsProjectionOutput{}, newErr(KindInternal, "embeddingsProjection failed", err)
	}

	result := pca.Project(vectors, dimensions)
	return EmbeddingsProjectionOutput{Points: result.Points, VarianceExplained: result.VarianceExplained}, nil
}
