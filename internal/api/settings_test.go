package api

import (
	"testing"
	"time"

	"github.com/agentmemory/memoryd/internal/memory"
)

func TestGetSettingsRequiresAgentID(t *testing.T) {
	svc := setupTestService(t)
	if _, err := svc.GetSettings(""); !IsKind(err, KindValidation) {
		t.Error("expected ValidationError for missing agentId")
	}
}

func TestGetSettingsTranslatesNotFound(t *testing.T) {
	svc := setupTestService(t)
	if _, err := svc.GetSettings("agent-without-settings"); !IsKind(err, KindNotFound) {
		t.Error("expected NotFound for an agent with no settings document")
	}
}

func TestUpsertSettingsRequiresAgentID(t *testing.T) {
	svc := setupTestService(t)
	if err := svc.UpsertSettings(&memory.Settings{}); !IsKind(err, KindValidation) {
		t.Error("expected ValidationError for missing agentId")
	}
}

func TestUpsertThenGetSettingsRoundTrips(t *testing.T) {
	svc := setupTestService(t)
	doc := &memory.Settings{AgentID: "agent-1", SemanticLevel: memory.SemanticBasic}
	if err := svc.UpsertSettings(doc); err != nil {
		t.Fatalf("UpsertSettings failed: %v", err)
	}
	got, err := svc.GetSettings("agent-1")
	if err != nil {
		t.Fatalf("GetSettings failed: %v", err)
	}
	if got.SemanticLevel != memory.SemanticBasic {
		t.Errorf("expected semanticLevel to round trip, got %v", got.SemanticLevel)
	}
}

func TestDeleteSettingsRequiresAgentID(t *testing.T) {
	svc := setupTestService(t)
	if err := svc.DeleteSettings(""); !IsKind(err, KindValidation) {
		t.Error("expected ValidationError for missing agentId")
	}
}

func TestDeleteSettingsRemovesDocument(t *testing.T) {
	svc := setupTestService(t)
	doc := &memory.Settings{AgentID: "agent-1"}
	if err := svc.UpsertSettings(doc); err != nil {
		t.Fatalf("UpsertSettings failed: %v", err)
	}
	if err := svc.DeleteSettings("agent-1"); err != nil {
		t.Fatalf("DeleteSettings failed: %v", err)
	}
	if _, err := svc.GetSettings("agent-1"); !IsKind(err, KindNotFound) {
		t.Error("expected NotFound after deleting the settings document")
	}
}

func TestResolvedSettingsFallsBackToDaemonDefaultsWithNoDocuments(t *testing.T) {
	svc := setupTestService(t)
	resolved := svc.ResolvedSettings("agent-without-any-settings")
	if len(resolved.Stages) != len(memory.EnhanceableStages) {
		t.Errorf("expected one resolved stage per enhanceable stage, got %+v", resolved.Stages)
	}
}

func TestResolvedSettingsAppliesAgentOverride(t *testing.T) {
	svc := setupTestService(t)
	doc := &memory.Settings{AgentID: "agent-1", StageUseLLM: map[string]bool{"extract": true}}
	if err := svc.UpsertSettings(doc); err != nil {
		t.Fatalf("UpsertSettings failed: %v", err)
	}
	resolved := svc.ResolvedSettings("agent-1")
	if !resolved.Stages["extract"].UseLLM {
		t.Error("expected the agent's per-stage override to win")
	}
}

func TestUsageSummaryGroupsByOperation(t *testing.T) {
	svc := setupTestService(t)
	now := time.Now().UTC()
	events := []memory.UsageEvent{
		{Timestamp: now, Operation: "embed", AgentID: "agent-1", TotalTokens: 10, EstimatedCostUsd: 0.01},
		{Timestamp: now, Operation: "embed", AgentID: "agent-1", TotalTokens: 20, EstimatedCostUsd: 0.02},
		{Timestamp: now, Operation: "reflect", AgentID: "agent-1", TotalTokens: 5, EstimatedCostUsd: 0.005},
	}
	for _, ev := range events {
		if err := svc.Store.InsertUsageEvent(ev); err != nil {
			t.Fatalf("InsertUsageEvent failed: %v", err)
		}
	}

	buckets, err := svc.UsageSummary(UsageSummaryInput{AgentID: "agent-1", GroupBy: GroupByOperation})
	if err != nil {
		t.Fatalf("UsageSummary failed: %v", err)
	}
	var embedBucket *UsageBucket
	for i := range buckets {
		if buckets[i].Key == "embed" {
			embedBucket = &buckets[i]
		}
	}
	if embedBucket == nil {
		t.Fatal("expected an 'embed' bucket")
	}
	if embedBucket.Count != 2 || embedBucket.TotalTokens != 30 {
		t.Errorf("expected the two embed events aggregated, got %+v", embedBucket)
	}
}
