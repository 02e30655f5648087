package api

import (
	"time"

	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/settings"
	"github.com/agentmemory/memoryd/internal/store"
)

// GetSettings fetches the settings document for agentID, or
// memory.GlobalAgentID for the global document.
func (s *Service) GetSettings(agentID string) (*memory.Settings, error) {
	if agentID == "" {
		return nil, validationErr("agentId is required")
	}
	doc, err := s.Store.GetSettings(agentID)
	if err != nil {
		return nil, translate("getSettings", err)
	}
	return doc, nil
}

// UpsertSettings inserts or replaces a settings document.
func (s *Service) UpsertSettings(doc *memory.Settings) error {
	if doc.AgentID == "" {
		return validationErr("agentId is required")
	}
	if err := s.Store.UpsertSettings(doc); err != nil {
		return newErr(KindInternal, "upsertSettings failed", err)
	}
	return nil
}

// DeleteSettings removes a settings document, reverting its agent (or the
// whole fleet, for memory.GlobalAgentID) to daemon defaults.
func (s *Service) DeleteSettings(agentID string) error {
	if agentID == "" {
		return validationErr("agentId is required")
	}
	if err := s.Store.DeleteSettings(agentID); err != nil {
		return newErr(KindInternal, "deleteSettings failed", err)
	}
	return nil
}

// ResolvedSettings returns the fully merged settings a reflection job would
// snapshot for agentID right now.
func (s *Service) ResolvedSettings(agentID string) memory.ResolvedPipelineSettings {
	agentDoc, _ := s.Store.GetSettings(agentID)
	globalDoc, _ := s.Store.GetSettings(memory.GlobalAgentID)
	return settings.Resolve(agentDoc, globalDoc, s.DaemonDefaults)
}

// UsageGroupBy selects how UsageSummary buckets its results.
type UsageGroupBy string

const (
	GroupByOperation UsageGroupBy = "operation"
	GroupByAgent     UsageGroupBy = "agent"
	GroupByStage     UsageGroupBy = "stage"
)

// UsageBucket is one group's aggregated usage.
type UsageBucket struct {
	Key              string
	Count            int
	TotalTokens      int64
	EstimatedCostUsd float64
}

// UsageSummaryInput bounds a UsageSummary query.
type UsageSummaryInput struct {
	AgentID string
	Since   *time.Time
	Until   *time.Time
	GroupBy UsageGroupBy
}

// UsageSummary aggregates persisted usage events over a time window,
// grouped by operation, agent, or pipeline stage, per spec §6.
func (s *Service) UsageSummary(in UsageSummaryInput) ([]UsageBucket, error) {
	events, err := s.Store.QueryUsageEvents(store.UsageEventFilter{AgentID: in.AgentID, Since: in.Since, Until: in.Until})
	if err != nil {
		return nil, newErr(KindInternal, "usageSummary failed", err)
	}

	order := []string{}
	buckets := map[string]*UsageBucket{}
	keyFor := func(ev memory.UsageEvent) string {
		switch in.GroupBy {
		case GroupByAgent:
			return ev.AgentID
		case GroupByStage:
			return ev.PipelineStage
		default:
			return ev.Operation
		}
	}

	for _, ev := range events {
		key := keyFor(ev)
		b, ok := buckets[key]
		if !ok {
			b = &UsageBucket{Key: key}
			buckets[key] = b
			order = append(order, key)
		}
		b.Count++
		b.TotalTokens += int64(ev.TotalTokens)
		b.EstimatedCostUsd += ev.EstimatedCostUsd
	}

	out := make([]UsageBucket, 0, len(order))
	for _, key := range order {
		out = append(out, *buckets[key])
	}
	return out, nil
}
