// Package reflection implements the Reflection Pipeline: a nine-stage,
// job-tracked asynchronous pipeline over a session transcript.
package reflection

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/agentmemory/memoryd/internal/contradiction"
	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/lifecycle"
	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/store"
	"github.com/agentmemory/memoryd/internal/usage"
)

// dedupeMinScore is both the "is this a duplicate" threshold (§4.7 stage 2)
// and the reinforcement threshold referenced by stage 5: an atom matching
// an existing memory at or above this score is treated as a reinforcement
// of that memory rather than a new one.
const dedupeMinScore = 0.92

// graphLinkTopK bounds how many similar existing memories each new atom is
// proposed against in stage 8.
const graphLinkTopK = 3

// JobNotifier is called whenever a job or one of its stages changes state.
// Used to fan out eventbus notices; may be nil.
type JobNotifier func(job *memory.ReflectJob, stage string)

// Pipeline is the Reflection Pipeline executor.
type Pipeline struct {
	Store    *store.Store
	Embedder *embedding.Client
	Usage    *usage.Tracker
	Notify   JobNotifier

	// SettingsFor resolves the ResolvedPipelineSettings snapshotted at job
	// start. Must not be nil.
	SettingsFor func(agentID string) memory.ResolvedPipelineSettings

	baseCtx context.Context
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// NewPipeline builds a Pipeline with a bounded worker pool (concurrency
// limit maxConcurrentJobs) over concurrently-runnable reflection jobs,
// grounded on internal/aider/spawner.go's map-of-in-flight-work skeleton
// but implemented with golang.org/x/sync/errgroup for first-class
// cancellation (see SPEC_FULL.md §2).
func NewPipeline(st *store.Store, embedder *embedding.Client, tracker *usage.Tracker, notify JobNotifier, settingsFor func(string) memory.ResolvedPipelineSettings, maxConcurrentJobs int) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = 8
	}
	g.SetLimit(maxConcurrentJobs)

	return &Pipeline{
		Store:       st,
		Embedder:    embedder,
		Usage:       tracker,
		Notify:      notify,
		SettingsFor: settingsFor,
		baseCtx:     ctx,
		group:       g,
		cancel:      cancel,
	}
}

// Shutdown cancels the worker pool's context and waits for in-flight jobs
// to finish their current stage naturally (no re-entry), per spec §4.8's
// analogous shutdown contract for the Scheduler.
func (p *Pipeline) Shutdown() {
	p.cancel()
	p.group.Wait()
}

// TriggerReflect creates a new job and schedules it onto the worker pool,
// returning immediately with the job id.
func (p *Pipeline) TriggerReflect(agentID, sessionID, transcript string) (string, error) {
	job := memory.NewReflectJob(uuid.New().String(), agentID, sessionID)
	if err := p.Store.InsertReflectJob(job); err != nil {
		return "", fmt.Errorf("reflection: insert job: %w", err)
	}

	settings := p.SettingsFor(agentID)
	p.group.Go(func() error {
		p.runJob(job, transcript, settings)
		return nil // stage failures are recorded on the job, never propagated
	})
	return job.ID, nil
}

func (p *Pipeline) runJob(job *memory.ReflectJob, transcript string, settings memory.ResolvedPipelineSettings) {
	ctx := usage.WithStack(p.baseCtx)
	release := usage.Push(ctx, usage.Frame{Operation: "reflect", AgentID: job.AgentID, PipelineJobID: job.ID})
	defer release()

	now := time.Now().UTC()
	job.Status = memory.JobRunning
	job.StartedAt = &now
	if err := p.Store.UpdateReflectJob(job); err != nil {
		log.Printf("[REFLECT] job %s: failed to persist running status: %v", job.ID, err)
	}

	state := &jobState{agentID: job.AgentID}

	stages := []struct {
		name string
		fn   func(context.Context, *memory.ReflectJob, string, memory.ResolvedPipelineSettings, *jobState) (map[string]interface{}, error)
	}{
		{"extract", p.stageExtract},
		{"deduplicate", p.stageDeduplicate},
		{"conflict-check", p.stageConflictCheck},
		{"classify", p.stageClassify},
		{"confidence-update", p.stageConfidenceUpdate},
		{"decay-pass", p.stageDecayPass},
		{"layer-promote", p.stageLayerPromote},
		{"graph-link", p.stageGraphLink},
		{"entity-update", p.stageEntityUpdate},
	}

	failed := false
	for i, s := range stages {
		if failed {
			break
		}
		stageCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		started := time.Now().UTC()
		job.Stages[i].Status = memory.StageRunning
		job.Stages[i].StartedAt = &started

		stats, err := s.fn(stageCtx, job, transcript, settings, state)
		cancel()
		completed := time.Now().UTC()

		if err != nil {
			job.Stages[i].Status = memory.StageFailed
			job.Stages[i].Error = err.Error()
			job.Stages[i].CompletedAt = &completed
			job.Status = memory.JobFailed
			failed = true
			log.Printf("[REFLECT] job %s stage %s failed: %v", job.ID, s.name, err)
		} else {
			job.Stages[i].Status = memory.StageComplete
			job.Stages[i].Stats = stats
			job.Stages[i].CompletedAt = &completed
		}

		if perr := p.Store.UpdateReflectJob(job); perr != nil {
			log.Printf("[REFLECT] job %s: failed to persist stage %s: %v", job.ID, s.name, perr)
		}
		if p.Notify != nil {
			p.Notify(job, s.name)
		}
	}

	if !failed {
		job.Status = memory.JobCompleted
		completed := time.Now().UTC()
		job.CompletedAt = &completed
		if err := p.Store.UpdateReflectJob(job); err != nil {
			log.Printf("[REFLECT] job %s: failed to persist completion: %v", job.ID, err)
		}
	}
	if p.Notify != nil {
		p.Notify(job, "")
	}
}

// jobState carries data between stages within a single job run.
type jobState struct {
	agentID string

	atoms           []atom
	reinforceIDs    []string // existing memory ids matched as duplicates (stage 2)
	conflicts       []pendingConflict
	newMemoryIDs    []string
}

type atom struct {
	text      string
	embedding []float32
	duplicate bool
	memoryID  string // set once inserted in stage 4
}

type pendingConflict struct {
	atomIndex      int
	targetMemoryID string
	probability    float64
	resolution     memory.ResolutionType
}

// ---- stage 1: extract ---------------------------------------------------------

var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

func (p *Pipeline) stageExtract(ctx context.Context, job *memory.ReflectJob, transcript string, settings memory.ResolvedPipelineSettings, state *jobState) (map[string]interface{}, error) {
	var texts []string
	for _, s := range sentenceSplit.Split(transcript, -1) {
		s = strings.TrimSpace(s)
		if len(s) > 10 {
			texts = append(texts, s)
		}
	}

	if settings.Stages["extract"].UseLLM {
		log.Printf("[REFLECT] job %s: extract stage would use LLM enhancement (heuristic fallback used)", job.ID)
	}

	if len(texts) == 0 {
		return map[string]interface{}{"atomsExtracted": 0}, nil
	}

	vectors, err := p.Embedder.Embed(ctx, texts, embedding.HintDocument)
	if err != nil {
		return nil, fmt.Errorf("extract: embed candidates: %w", err)
	}
	for i, t := range texts {
		state.atoms = append(state.atoms, atom{text: t, embedding: vectors[i]})
	}
	return map[string]interface{}{"atomsExtracted": len(state.atoms)}, nil
}

// ---- stage 2: deduplicate ---------------------------------------------------------

const dedupeCandidateCap = 100

func (p *Pipeline) stageDeduplicate(ctx context.Context, job *memory.ReflectJob, transcript string, settings memory.ResolvedPipelineSettings, state *jobState) (map[string]interface{}, error) {
	dropped := 0
	for i := range state.atoms {
		bestScore, bestID, err := bestMatch(p.Store, state.agentID, state.atoms[i].embedding, dedupeCandidateCap)
		if err != nil {
			return nil, fmt.Errorf("deduplicate: %w", err)
		}
		if bestScore >= dedupeMinScore {
			state.atoms[i].duplicate = true
			state.reinforceIDs = append(state.reinforceIDs, bestID)
			dropped++
		}
	}
	return map[string]interface{}{"duplicatesDropped": dropped, "survivingAtoms": len(state.atoms) - dropped}, nil
}

func bestMatch(st *store.Store, agentID string, queryEmbedding []float32, cap int) (float64, string, error) {
	bestScore := -2.0
	bestID := ""
	err := st.StreamWhere(store.Filter{AgentID: agentID}, store.Projection{WithEmbedding: true}, cap, func(m *memory.Memory) bool {
		score, err := embedding.Cosine(queryEmbedding, m.Embedding)
		if err == nil && score > bestScore {
			bestScore = score
			bestID = m.ID
		}
		return true
	})
	if err != nil {
		return 0, "", err
	}
	return bestScore, bestID, nil
}

// ---- stage 3: conflict-check ---------------------------------------------------------

func (p *Pipeline) stageConflictCheck(ctx context.Context, job *memory.ReflectJob, transcript string, settings memory.ResolvedPipelineSettings, state *jobState) (map[string]interface{}, error) {
	found := 0
	for i, a := range state.atoms {
		if a.duplicate {
			continue
		}
		candidates, err := contradiction.FindCandidates(p.Store, state.agentID, a.embedding, "")
		if err != nil {
			return nil, fmt.Errorf("conflict-check: %w", err)
		}
		for _, c := range candidates {
			verdict := contradiction.Classify(a.text, c.Memory.Text)
			if verdict.Contradicts && verdict.Probability >= 0.70 {
				state.conflicts = append(state.conflicts, pendingConflict{
					atomIndex: i, targetMemoryID: c.Memory.ID, probability: verdict.Probability, resolution: verdict.Type,
				})
				found++
			}
		}
	}
	return map[string]interface{}{"conflictsFound": found}, nil
}

// ---- stage 4: classify ---------------------------------------------------------

var (
	decisionPattern   = regexp.MustCompile(`(?i)\b(decided|will|going to|plan to)\b`)
	preferPattern     = regexp.MustCompile(`(?i)\b(prefer|like|favorite|always use|best)\b`)
	observationPattern = regexp.MustCompile(`(?i)\b(noticed|saw|observed|seems|appears)\b`)
	opinionPattern    = regexp.MustCompile(`(?i)\b(think|believe|feel|opinion)\b`)
)

func classifyType(text string) memory.MemoryType {
	switch {
	case decisionPattern.MatchString(text):
		return memory.TypeDecision
	case preferPattern.MatchString(text):
		return memory.TypePreference
	case observationPattern.MatchString(text):
		return memory.TypeObservation
	case opinionPattern.MatchString(text):
		return memory.TypeOpinion
	default:
		return memory.TypeFact
	}
}

func (p *Pipeline) stageClassify(ctx context.Context, job *memory.ReflectJob, transcript string, settings memory.ResolvedPipelineSettings, state *jobState) (map[string]interface{}, error) {
	if settings.Stages["classify"].UseLLM {
		log.Printf("[REFLECT] job %s: classify stage would use LLM enhancement (heuristic fallback used)", job.ID)
	}

	inserted := 0
	for i := range state.atoms {
		a := &state.atoms[i]
		if a.duplicate {
			continue
		}
		memType := classifyType(a.text)
		m := &memory.Memory{
			AgentID:    state.agentID,
			SessionID:  job.SessionID,
			Text:       a.text,
			Tags:       []string{"reflection"},
			Embedding:  a.embedding,
			MemoryType: memType,
			Layer:      memory.DefaultLayer,
			Confidence: memory.InitialConfidence(memType),
			Strength:   1.0,
		}
		id, err := p.Store.Insert(m)
		if err != nil {
			return nil, fmt.Errorf("classify: insert memory: %w", err)
		}
		a.memoryID = id
		state.newMemoryIDs = append(state.newMemoryIDs, id)
		inserted++
	}

	for _, c := range state.conflicts {
		atomMemID := state.atoms[c.atomIndex].memoryID
		if atomMemID == "" {
			continue
		}
		now := time.Now().UTC()
		if err := p.Store.Update(atomMemID, store.Patch{
			AppendContradictions: []memory.Contradiction{{TargetMemoryID: c.targetMemoryID, DetectedAt: now, Resolution: memory.ResolutionUnresolved}},
		}); err != nil {
			return nil, fmt.Errorf("classify: append contradiction on new memory: %w", err)
		}
		if err := p.Store.Update(c.targetMemoryID, store.Patch{
			AppendContradictions: []memory.Contradiction{{TargetMemoryID: atomMemID, DetectedAt: now, Resolution: memory.ResolutionUnresolved}},
		}); err != nil {
			return nil, fmt.Errorf("classify: append contradiction on target: %w", err)
		}
	}

	return map[string]interface{}{"memoriesInserted": inserted}, nil
}

// ---- stage 5: confidence-update ---------------------------------------------------------

func (p *Pipeline) stageConfidenceUpdate(ctx context.Context, job *memory.ReflectJob, transcript string, settings memory.ResolvedPipelineSettings, state *jobState) (map[string]interface{}, error) {
	reinforced := 0
	for _, id := range state.reinforceIDs {
		m, err := p.Store.GetByID(id)
		if err != nil {
			continue
		}
		if err := p.Store.Reinforce(id, lifecycle.Reinforce(m.Confidence)); err != nil {
			return nil, fmt.Errorf("confidence-update: reinforce %s: %w", id, err)
		}
		reinforced++
	}

	conflicted := 0
	for _, c := range state.conflicts {
		m, err := p.Store.GetByID(c.targetMemoryID)
		if err != nil {
			continue
		}
		newConfidence := lifecycle.ContradictionUpdate(m.Confidence, c.probability)
		if err := p.Store.Update(c.targetMemoryID, store.Patch{Confidence: &newConfidence}); err != nil {
			return nil, fmt.Errorf("confidence-update: apply conflict %s: %w", c.targetMemoryID, err)
		}
		conflicted++
	}

	return map[string]interface{}{"reinforced": reinforced, "conflictedUpdated": conflicted}, nil
}

// ---- stage 6: decay-pass ---------------------------------------------------------

func (p *Pipeline) stageDecayPass(ctx context.Context, job *memory.ReflectJob, transcript string, settings memory.ResolvedPipelineSettings, state *jobState) (map[string]interface{}, error) {
	stats, err := lifecycle.RunDecayPass(p.Store, state.agentID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("decay-pass: %w", err)
	}
	return map[string]interface{}{
		"totalMemories":        stats.TotalMemories,
		"decayed":              stats.Decayed,
		"archivalCandidates":   stats.ArchivalCandidates,
		"expirationCandidates": stats.ExpirationCandidates,
		"errors":               stats.Errors,
		"durationMs":           stats.DurationMs,
	}, nil
}

// ---- stage 7: layer-promote ---------------------------------------------------------

func (p *Pipeline) stageLayerPromote(ctx context.Context, job *memory.ReflectJob, transcript string, settings memory.ResolvedPipelineSettings, state *jobState) (map[string]interface{}, error) {
	candidates := 0
	err := p.Store.StreamWhere(store.Filter{AgentID: state.agentID}, store.Projection{WithEmbedding: false}, 0, func(m *memory.Memory) bool {
		if m.Layer == memory.LayerSemantic && m.Strength < 0.10 {
			candidates++
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("layer-promote: %w", err)
	}
	return map[string]interface{}{"archivalCandidates": candidates, "autoPromoted": 0}, nil
}

// ---- stage 8: graph-link ---------------------------------------------------------

func (p *Pipeline) stageGraphLink(ctx context.Context, job *memory.ReflectJob, transcript string, settings memory.ResolvedPipelineSettings, state *jobState) (map[string]interface{}, error) {
	proposed := 0
	for _, a := range state.atoms {
		if a.duplicate || a.memoryID == "" {
			continue
		}
		candidates, err := contradiction.FindCandidates(p.Store, state.agentID, a.embedding, a.memoryID)
		if err != nil {
			return nil, fmt.Errorf("graph-link: %w", err)
		}
		if len(candidates) > graphLinkTopK {
			candidates = candidates[:graphLinkTopK]
		}
		for _, c := range candidates {
			edgeType := memory.EdgeCoOccurs
			switch {
			case c.Score >= 0.85:
				edgeType = memory.EdgeDerivesFrom
			case c.Score >= 0.78:
				edgeType = memory.EdgeSupports
			}
			pe := &memory.PendingEdge{
				SourceID:    a.memoryID,
				Type:        edgeType,
				TargetID:    c.Memory.ID,
				Weight:      c.Score,
				CreatedAt:   time.Now().UTC(),
				Probability: c.Score,
				Status:      memory.PendingStatusPending,
				Reason:      "reflection pipeline similarity proposal",
			}
			if _, err := p.Store.InsertPendingEdge(pe); err != nil {
				return nil, fmt.Errorf("graph-link: insert pending edge: %w", err)
			}
			proposed++
		}
	}
	return map[string]interface{}{"pendingEdgesProposed": proposed}, nil
}

// ---- stage 9: entity-update ---------------------------------------------------------

var capitalizedWord = regexp.MustCompile(`\b[A-Z][a-zA-Z]{2,}\b`)

func (p *Pipeline) stageEntityUpdate(ctx context.Context, job *memory.ReflectJob, transcript string, settings memory.ResolvedPipelineSettings, state *jobState) (map[string]interface{}, error) {
	if settings.Stages["entityUpdate"].UseLLM {
		log.Printf("[REFLECT] job %s: entity-update stage would use LLM enhancement (heuristic fallback used)", job.ID)
	}

	entitiesUpdated := 0
	for _, a := range state.atoms {
		if a.duplicate || a.memoryID == "" {
			continue
		}
		names := capitalizedWord.FindAllString(a.text, -1)
		seen := map[string]bool{}
		for _, name := range names {
			slug := slugify(name)
			if seen[slug] {
				continue
			}
			seen[slug] = true

			if err := p.Store.UpsertEntity(&memory.Entity{
				Slug: slug, AgentID: state.agentID, Name: name, Kind: "term", MemoryIDs: []string{a.memoryID},
			}); err != nil {
				return nil, fmt.Errorf("entity-update: upsert %s: %w", slug, err)
			}
			entitiesUpdated++

			if err := p.Store.Update(a.memoryID, store.Patch{
				AppendEdges: []memory.GraphEdge{{Type: memory.EdgeMentionsEntity, TargetID: slug, Weight: 1.0, CreatedAt: time.Now().UTC()}},
			}); err != nil {
				return nil, fmt.Errorf("entity-update: append edge: %w", err)
			}
		}
	}
	return map[string]interface{}{"entitiesUpdated": entitiesUpdated}, nil
}

func slugify(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
