// Package contradiction implements the Contradiction Detector: similarity
// candidate search plus a heuristic regex classifier.
package contradiction

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/store"
)

const (
	candidateScanCap    = 1000
	candidateMinScore   = 0.75
	candidateTopK       = 10
	contradictThreshold = 0.70
)

var (
	negationPattern  = regexp.MustCompile(`(?i)\b(not|no|never|don't|doesn't|won't|can't|shouldn't)\b`)
	preferencePattern = regexp.MustCompile(`(?i)\b(prefer|like|favorite|always use|best)\b`)
	pastPattern      = regexp.MustCompile(`(?i)\b(used to|previously|before|was|were|had)\b`)
	presentPattern   = regexp.MustCompile(`(?i)\b(now|currently|is|are|have|use)\b`)
)

// IsContentionShaped reports whether a memory is eligible for contradiction
// detection at all: text > 10 chars, at least one tag, and not explicitly
// marked read-only via metadata.
func IsContentionShaped(text string, tags []string, metadata map[string]interface{}) bool {
	if len(text) <= 10 {
		return false
	}
	if len(tags) == 0 {
		return false
	}
	if readOnly, ok := metadata["readOnly"].(bool); ok && readOnly {
		return false
	}
	return true
}

// Candidate is a similarity candidate considered for contradiction.
type Candidate struct {
	Memory *memory.Memory
	Score  float64
}

// FindCandidates streams up to candidateScanCap memories for agentID,
// scores them against queryEmbedding, keeps those scoring >= 0.75, and
// returns the top 10 by score.
func FindCandidates(st *store.Store, agentID string, queryEmbedding []float32, excludeID string) ([]Candidate, error) {
	var candidates []Candidate
	err := st.StreamWhere(store.Filter{AgentID: agentID}, store.Projection{WithEmbedding: true}, candidateScanCap, func(m *memory.Memory) bool {
		if m.ID == excludeID {
			return true
		}
		score, err := embedding.Cosine(queryEmbedding, m.Embedding)
		if err != nil || score < candidateMinScore {
			return true
		}
		candidates = append(candidates, Candidate{Memory: m, Score: score})
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("contradiction: find candidates: %w", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	if len(candidates) > candidateTopK {
		candidates = candidates[:candidateTopK]
	}
	return candidates, nil
}

// Verdict is the heuristic classifier's output for a pair of texts.
type Verdict struct {
	Contradicts bool
	Probability float64
	Type        memory.ResolutionType
}

// Classify runs the three heuristic patterns in order (direct negation,
// opposite preference, temporal mismatch) and returns the first that fires,
// per spec §4.5.
func Classify(textA, textB string) Verdict {
	aNeg, bNeg := negationPattern.MatchString(textA), negationPattern.MatchString(textB)
	if aNeg != bNeg {
		return Verdict{Contradicts: true, Probability: 0.75, Type: "direct"}
	}

	aPref, bPref := preferencePattern.MatchString(textA), preferencePattern.MatchString(textB)
	if aPref && bPref {
		overlap := tokenOverlapRatio(textA, textB)
		if overlap <= 0.3 {
			return Verdict{Contradicts: true, Probability: 0.70, Type: memory.ResolutionContextDependent}
		}
	}

	aPast, bPast := pastPattern.MatchString(textA), pastPattern.MatchString(textB)
	aPresent, bPresent := presentPattern.MatchString(textA), presentPattern.MatchString(textB)
	if (aPast && bPresent) || (bPast && aPresent) {
		return Verdict{Contradicts: true, Probability: 0.65, Type: memory.ResolutionTemporal}
	}

	return Verdict{Contradicts: false}
}

func tokenOverlapRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	overlap := 0
	for t := range setA {
		if setB[t] {
			overlap++
		}
	}
	union := len(setA)
	for t := range setB {
		if !setA[t] {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(overlap) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		out[tok] = true
	}
	return out
}

// Detect runs the full contradiction-detection pipeline for a candidate
// memory against the agent's existing memories, and (if the candidate is
// contention-shaped) appends a symmetric Contradiction to both memories for
// every match at probability >= 0.70. Non-fatal by design: callers in
// `remember` should log and proceed on error, per spec §7.
func Detect(st *store.Store, m *memory.Memory) ([]string, error) {
	if !IsContentionShaped(m.Text, m.Tags, m.Metadata) {
		return nil, nil
	}

	candidates, err := FindCandidates(st, m.AgentID, m.Embedding, m.ID)
	if err != nil {
		return nil, err
	}

	var contradicted []string
	for _, c := range candidates {
		verdict := Classify(m.Text, c.Memory.Text)
		if !verdict.Contradicts || verdict.Probability < contradictThreshold {
			continue
		}

		now := time.Now().UTC()
		err := st.Update(m.ID, store.Patch{
			AppendContradictions: []memory.Contradiction{{
				TargetMemoryID: c.Memory.ID,
				DetectedAt:     now,
				Resolution:     memory.ResolutionUnresolved,
			}},
		})
		if err != nil {
			return contradicted, fmt.Errorf("contradiction: append on source: %w", err)
		}
		err = st.Update(c.Memory.ID, store.Patch{
			AppendContradictions: []memory.Contradiction{{
				TargetMemoryID: m.ID,
				DetectedAt:     now,
				Resolution:     memory.ResolutionUnresolved,
			}},
		})
		if err != nil {
			return contradicted, fmt.Errorf("contradiction: append on target: %w", err)
		}
		contradicted = append(contradicted, c.Memory.ID)
	}
	return contradicted, nil
}
