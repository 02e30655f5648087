package store

import (
	"fmt"
	"time"

	"github.com/agentmemory/memoryd/internal/memory"
)

// UsageEventFilter narrows QueryUsageEvents to a time window and/or agent.
type UsageEventFilter struct {
	AgentID string
	Since   *time.Time
	Until   *time.Time
}

// QueryUsageEvents returns every usage event matching filter, oldest first.
// Used by the Usage Tracker's summary endpoints to group by operation,
// agent, or pipeline stage after the fact.
func (s *Store) QueryUsageEvents(filter UsageEventFilter) ([]memory.UsageEvent, error) {
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		where = append(where, "timestamp < ?")
		args = append(args, formatTime(*filter.Until))
	}

	q := `SELECT timestamp, operation, agent_id, model, provider, total_tokens, input_texts,
		input_type, estimated_cost_usd, pipeline_job_id, pipeline_stage, memory_id, is_mock
		FROM usage_events WHERE ` + joinAnd(where) + ` ORDER BY timestamp ASC`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query usage events: %w", err)
	}
	defer rows.Close()

	var out []memory.UsageEvent
	for rows.Next() {
		var ev memory.UsageEvent
		var ts string
		var isMock int
		if err := rows.Scan(&ts, &ev.Operation, &ev.AgentID, &ev.Model, &ev.Provider, &ev.TotalTokens,
			&ev.InputTexts, &ev.InputType, &ev.EstimatedCostUsd, &ev.PipelineJobID, &ev.PipelineStage,
			&ev.MemoryID, &isMock); err != nil {
			return nil, fmt.Errorf("store: scan usage event: %w", err)
		}
		ev.Timestamp = mustParseTime(ts)
		ev.IsMock = isMock != 0
		out = append(out, ev)
	}
	return out, rows.Err()
}
