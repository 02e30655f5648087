package contradiction

import (
	"path/filepath"
	"testing"

	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/store"
)

func TestIsContentionShaped(t *testing.T) {
	if IsContentionShaped("short", []string{"a"}, nil) {
		t.Error("expected short text to be excluded")
	}
	if IsContentionShaped("a reasonably long sentence", nil, nil) {
		t.Error("expected untagged text to be excluded")
	}
	if IsContentionShaped("a reasonably long sentence", []string{"a"}, map[string]interface{}{"readOnly": true}) {
		t.Error("expected readOnly metadata to exclude")
	}
	if !IsContentionShaped("a reasonably long sentence", []string{"a"}, nil) {
		t.Error("expected a tagged, long, non-readOnly memory to be contention-shaped")
	}
}

func TestClassifyDirectNegation(t *testing.T) {
	v := Classify("I don't like tabs", "I like tabs")
	if !v.Contradicts || v.Probability != 0.75 {
		t.Errorf("expected direct negation contradiction, got %+v", v)
	}
}

func TestClassifyOppositePreference(t *testing.T) {
	v := Classify("I prefer dark mode in my editor", "I prefer light mode for documents")
	if !v.Contradicts {
		t.Errorf("expected opposite-preference contradiction, got %+v", v)
	}
	if v.Type != memory.ResolutionContextDependent {
		t.Errorf("expected context-dependent resolution type, got %v", v.Type)
	}
}

func TestClassifyTemporalMismatch(t *testing.T) {
	v := Classify("I used to work at Acme", "I currently work at Acme")
	if !v.Contradicts {
		t.Errorf("expected temporal contradiction, got %+v", v)
	}
	if v.Type != memory.ResolutionTemporal {
		t.Errorf("expected temporal resolution type, got %v", v.Type)
	}
}

func TestClassifyNoContradiction(t *testing.T) {
	v := Classify("I enjoy hiking on weekends", "The project deadline is Friday")
	if v.Contradicts {
		t.Errorf("expected no contradiction, got %+v", v)
	}
}

func TestFindCandidatesFiltersAndRanksByScore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer st.Close()

	query := vectorAt(0)
	near := vectorAt(0)
	far := vectorAt(1)

	idNear, _ := st.Insert(&memory.Memory{AgentID: "agent-1", Text: "near memory", MemoryType: memory.TypeFact, Layer: memory.LayerEpisodic, Embedding: near})
	st.Insert(&memory.Memory{AgentID: "agent-1", Text: "far memory", MemoryType: memory.TypeFact, Layer: memory.LayerEpisodic, Embedding: far})

	candidates, err := FindCandidates(st, "agent-1", query, "")
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected only the near memory above threshold, got %d", len(candidates))
	}
	if candidates[0].Memory.ID != idNear {
		t.Errorf("expected candidate %s, got %s", idNear, candidates[0].Memory.ID)
	}
}

func TestFindCandidatesExcludesSelf(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer st.Close()

	v := vectorAt(0)
	id, _ := st.Insert(&memory.Memory{AgentID: "agent-1", Text: "self", MemoryType: memory.TypeFact, Layer: memory.LayerEpisodic, Embedding: v})

	candidates, err := FindCandidates(st, "agent-1", v, id)
	if err != nil {
		t.Fatalf("FindCandidates failed: %v", err)
	}
	if len(candidates) != 0 {
		t.Errorf("expected self to be excluded, got %d candidates", len(candidates))
	}
}

func TestDetectAppendsSymmetricContradiction(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer st.Close()

	v := vectorAt(0)
	existingID, _ := st.Insert(&memory.Memory{
		AgentID: "agent-1", Text: "I prefer dark mode in my editor", Tags: []string{"pref"},
		MemoryType: memory.TypeFact, Layer: memory.LayerEpisodic, Embedding: v,
	})

	candidate := &memory.Memory{
		AgentID: "agent-1", Text: "I prefer light mode for documents", Tags: []string{"pref"},
		MemoryType: memory.TypeFact, Layer: memory.LayerEpisodic, Embedding: v,
	}
	id, _ := st.Insert(candidate)
	candidate.ID = id

	contradicted, err := Detect(st, candidate)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(contradicted) != 1 || contradicted[0] != existingID {
		t.Fatalf("expected contradiction against %s, got %v", existingID, contradicted)
	}

	got, _ := st.GetByID(id)
	if len(got.Contradictions) != 1 {
		t.Fatalf("expected contradiction recorded on candidate, got %+v", got.Contradictions)
	}
	other, _ := st.GetByID(existingID)
	if len(other.Contradictions) != 1 {
		t.Fatalf("expected mirrored contradiction on target, got %+v", other.Contradictions)
	}
}

func vectorAt(dim int) []float32 {
	v := make([]float32, memory.EmbeddingDimensions)
	v[dim] = 1
	return v
}
