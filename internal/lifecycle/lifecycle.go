// Package lifecycle implements the Lifecycle Engine: confidence updates,
// per-layer exponential decay, and promotion/expiration classification.
package lifecycle

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/store"
)

// decayRatesPerDay are the per-layer daily decay rates from spec §4.4.
var decayRatesPerDay = map[memory.Layer]float64{
	memory.LayerWorking:  0.050,
	memory.LayerEpisodic: 0.015,
	memory.LayerSemantic: 0.003,
	memory.LayerArchival: 0.001,
}

// Classification is the strength-bucket a memory falls into.
type Classification string

const (
	ClassVivid               Classification = "vivid"
	ClassFading              Classification = "fading"
	ClassDim                 Classification = "dim"
	ClassArchivalCandidate   Classification = "archival_candidate"
	ClassExpirationCandidate Classification = "expiration_candidate"
)

// Classify buckets a memory by its strength, per spec §4.4.
func Classify(strength float64) Classification {
	switch {
	case strength >= 0.80:
		return ClassVivid
	case strength >= 0.50:
		return ClassFading
	case strength >= 0.25:
		return ClassDim
	case strength >= 0.10:
		return ClassArchivalCandidate
	default:
		return ClassExpirationCandidate
	}
}

// BootstrapEligible reports whether a memory's strength still qualifies it
// to seed new reinforcement ("bootstrap-eligible iff strength >= 0.80").
func BootstrapEligible(strength float64) bool {
	return strength >= 0.80
}

// Reinforce applies the reinforcement confidence rule: c += (1-c)*0.15.
func Reinforce(confidence float64) float64 {
	return memory.ClampConfidence(confidence + (1-confidence)*0.15)
}

// StrongContradiction applies c -= c*0.25.
func StrongContradiction(confidence float64) float64 {
	return memory.ClampConfidence(confidence - confidence*0.25)
}

// WeakContradiction applies c -= c*0.08.
func WeakContradiction(confidence float64) float64 {
	return memory.ClampConfidence(confidence - confidence*0.08)
}

// Superseded applies c = max(0.02, c*0.60) for a memory resolved as
// superseded during conflict resolution.
func Superseded(confidence float64) float64 {
	return memory.ClampConfidence(math.Max(memory.MinConfidence, confidence*0.60))
}

// ContradictionUpdate chooses strong vs weak contradiction by detector
// probability, per spec §4.7 stage 5: strong if probability >= 0.80.
func ContradictionUpdate(confidence, probability float64) float64 {
	if probability >= 0.80 {
		return StrongContradiction(confidence)
	}
	return WeakContradiction(confidence)
}

// Decay computes the new strength for a memory decayed at wall-clock now,
// given the baseline (lastDecayedAt, falling back to lastReinforcedAt on the
// memory's first pass) its current strength was last computed from.
// Idempotent: calling it twice with the same now and the same baseline
// yields the same result, since both calls decay over the same zero-length
// increment — spec §4.4 and testable property 6. Callers must advance the
// baseline to now after persisting the result, or re-application at a fixed
// clock will compound instead of no-op.
func Decay(strength float64, layer memory.Layer, lastDecayedAt, lastReinforcedAt, now time.Time) float64 {
	rate, ok := decayRatesPerDay[layer]
	if !ok {
		rate = decayRatesPerDay[memory.LayerEpisodic]
	}
	baseline := lastDecayedAt
	if baseline.IsZero() {
		baseline = lastReinforcedAt
	}
	deltaDays := now.Sub(baseline).Seconds() / 86400
	if deltaDays < 0 {
		deltaDays = 0
	}
	return memory.ClampStrength(strength * math.Exp(-rate*deltaDays))
}

// PassStats summarizes one run of the decay pass.
type PassStats struct {
	TotalMemories        int
	Decayed              int
	ArchivalCandidates   int
	ExpirationCandidates int
	Errors               int
	DurationMs           int64
}

// RunDecayPass streams memories (optionally scoped to agentID), applies
// Decay to each, persists the new strength, and returns aggregate stats.
// Per-memory errors are counted, not fatal — the pass continues.
func RunDecayPass(st *store.Store, agentID string, now time.Time) (PassStats, error) {
	start := time.Now()
	stats := PassStats{}

	filter := store.Filter{}
	if agentID != "" {
		filter.AgentID = agentID
	}

	err := st.StreamWhere(filter, store.Projection{WithEmbedding: false}, 0, func(m *memory.Memory) bool {
		stats.TotalMemories++
		newStrength := Decay(m.Strength, m.Layer, m.LastDecayedAt, m.LastReinforcedAt, now)

		if err := st.SetDecay(m.ID, newStrength, now); err != nil {
			stats.Errors++
			log.Printf("[LIFECYCLE] decay failed for memory %s: %v", m.ID, err)
			return true
		}
		stats.Decayed++

		switch Classify(newStrength) {
		case ClassArchivalCandidate:
			stats.ArchivalCandidates++
		case ClassExpirationCandidate:
			stats.ExpirationCandidates++
		}
		return true
	})
	stats.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		return stats, fmt.Errorf("lifecycle: decay pass: %w", err)
	}
	return stats, nil
}
