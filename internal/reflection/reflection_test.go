package reflection

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/store"
	"github.com/agentmemory/memoryd/internal/usage"
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

func offSettings(agentID string) memory.ResolvedPipelineSettings {
	stages := map[string]memory.StageSettings{}
	for _, s := range memory.EnhanceableStages {
		stages[s] = memory.StageSettings{UseLLM: false}
	}
	return memory.ResolvedPipelineSettings{Stages: stages}
}

func waitForTerminal(t *testing.T, st *store.Store, jobID string) *memory.ReflectJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.GetReflectJob(jobID)
		if err != nil {
			t.Fatalf("GetReflectJob failed: %v", err)
		}
		if job.Status == memory.JobCompleted || job.Status == memory.JobFailed {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for reflection job to reach a terminal status")
	return nil
}

func TestTriggerReflectRunsAllNineStagesToCompletion(t *testing.T) {
	st := setupTestStore(t)
	tracker := usage.NewTracker(nil, nil)
	embedder := embedding.NewMock()
	embedder.OnUsage(tracker.Listener())
	p := NewPipeline(st, embedder, tracker, nil, offSettings, 4)
	defer p.Shutdown()

	transcript := "I decided to use dark roast coffee every morning. I noticed the office prefers tea instead."
	jobID, err := p.TriggerReflect("agent-1", "session-1", transcript)
	if err != nil {
		t.Fatalf("TriggerReflect failed: %v", err)
	}

	job := waitForTerminal(t, st, jobID)
	if job.Status != memory.JobCompleted {
		t.Fatalf("expected job to complete, got status %v with stages %+v", job.Status, job.Stages)
	}
	if len(job.Stages) != len(memory.StageNames) {
		t.Fatalf("expected %d stages, got %d", len(memory.StageNames), len(job.Stages))
	}
	for _, s := range job.Stages {
		if s.Status != memory.StageComplete {
			t.Errorf("expected stage %s to complete, got %v (%s)", s.Stage, s.Status, s.Error)
		}
	}
}

func TestTriggerReflectInsertsNewMemories(t *testing.T) {
	st := setupTestStore(t)
	tracker := usage.NewTracker(nil, nil)
	embedder := embedding.NewMock()
	p := NewPipeline(st, embedder, tracker, nil, offSettings, 4)
	defer p.Shutdown()

	jobID, err := p.TriggerReflect("agent-2", "session-1", "I decided to migrate the service to a new datastore.")
	if err != nil {
		t.Fatalf("TriggerReflect failed: %v", err)
	}
	waitForTerminal(t, st, jobID)

	n, err := st.CountWhere(store.Filter{AgentID: "agent-2"})
	if err != nil {
		t.Fatalf("CountWhere failed: %v", err)
	}
	if n == 0 {
		t.Error("expected at least one memory to be inserted by the pipeline")
	}
}

func TestTriggerReflectEmitsNotifications(t *testing.T) {
	st := setupTestStore(t)
	tracker := usage.NewTracker(nil, nil)
	embedder := embedding.NewMock()

	var notifications int
	notify := func(job *memory.ReflectJob, stage string) {
		notifications++
	}
	p := NewPipeline(st, embedder, tracker, notify, offSettings, 4)
	defer p.Shutdown()

	jobID, err := p.TriggerReflect("agent-3", "session-1", "I think the new layout looks better than before.")
	if err != nil {
		t.Fatalf("TriggerReflect failed: %v", err)
	}
	waitForTerminal(t, st, jobID)

	if notifications == 0 {
		t.Error("expected at least one notification to be emitted during the run")
	}
}

func TestTriggerReflectEmptyTranscriptStillCompletes(t *testing.T) {
	st := setupTestStore(t)
	tracker := usage.NewTracker(nil, nil)
	embedder := embedding.NewMock()
	p := NewPipeline(st, embedder, tracker, nil, offSettings, 4)
	defer p.Shutdown()

	jobID, err := p.TriggerReflect("agent-4", "session-1", "")
	if err != nil {
		t.Fatalf("TriggerReflect failed: %v", err)
	}
	job := waitForTerminal(t, st, jobID)
	if job.Status != memory.JobCompleted {
		t.Fatalf("expected empty-transcript job to complete trivially, got %v", job.Status)
	}
}

func TestTriggerReflectDeduplicatesRepeatedText(t *testing.T) {
	st := setupTestStore(t)
	tracker := usage.NewTracker(nil, nil)
	embedder := embedding.NewMock()
	p := NewPipeline(st, embedder, tracker, nil, offSettings, 4)
	defer p.Shutdown()

	text := "I always use tabs for indentation in this codebase."
	jobID1, err := p.TriggerReflect("agent-5", "session-1", text)
	if err != nil {
		t.Fatalf("TriggerReflect failed: %v", err)
	}
	waitForTerminal(t, st, jobID1)

	countAfterFirst, _ := st.CountWhere(store.Filter{AgentID: "agent-5"})

	jobID2, err := p.TriggerReflect("agent-5", "session-2", text)
	if err != nil {
		t.Fatalf("TriggerReflect failed: %v", err)
	}
	job2 := waitForTerminal(t, st, jobID2)

	countAfterSecond, _ := st.CountWhere(store.Filter{AgentID: "agent-5"})
	if countAfterSecond != countAfterFirst {
		t.Errorf("expected the identical second transcript to be deduplicated, not inserted again: before=%d after=%d", countAfterFirst, countAfterSecond)
	}

	var dedupeStage *memory.StageRecord
	for i := range job2.Stages {
		if job2.Stages[i].Stage == "deduplicate" {
			dedupeStage = &job2.Stages[i]
		}
	}
	if dedupeStage == nil || dedupeStage.Stats["duplicatesDropped"].(float64) == 0 {
		t.Errorf("expected the deduplicate stage to report a dropped duplicate, got %+v", dedupeStage)
	}
}

func TestShutdownWaitsForInFlightJobs(t *testing.T) {
	st := setupTestStore(t)
	tracker := usage.NewTracker(nil, nil)
	embedder := embedding.NewMock()
	p := NewPipeline(st, embedder, tracker, nil, offSettings, 4)

	jobID, err := p.TriggerReflect("agent-6", "session-1", "I prefer light mode over dark mode in most editors.")
	if err != nil {
		t.Fatalf("TriggerReflect failed: %v", err)
	}
	p.Shutdown()

	job, err := st.GetReflectJob(jobID)
	if err != nil {
		t.Fatalf("GetReflectJob failed: %v", err)
	}
	if job.Status != memory.JobCompleted && job.Status != memory.JobFailed {
		t.Errorf("expected Shutdown to wait for the in-flight job to finish, got status %v", job.Status)
	}
}
