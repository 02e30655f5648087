package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentmemory/memoryd/internal/memory"
)

// ---- episodes ---------------------------------------------------------

// InsertEpisode assigns an id if absent and persists the episode.
func (s *Store) InsertEpisode(e *memory.Episode) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	participants, err := json.Marshal(nonNilStrings(e.Participants))
	if err != nil {
		return "", err
	}
	topics, err := json.Marshal(nonNilStrings(e.DominantTopics))
	if err != nil {
		return "", err
	}
	factIDs, err := json.Marshal(nonNilStrings(e.FactIDs))
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(`
		INSERT INTO episodes (id, agent_id, session_id, title, narrative, participants,
			dominant_topics, fact_ids, embedding, strength, layer, started_at, ended_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.AgentID, e.SessionID, e.Title, e.Narrative, string(participants), string(topics),
		string(factIDs), encodeEmbedding(e.Embedding), e.Strength, string(e.Layer),
		formatTime(e.StartedAt), formatTime(e.EndedAt),
	)
	if err != nil {
		return "", fmt.Errorf("store: insert episode: %w", err)
	}
	return e.ID, nil
}

// ---- entities -----------------------------------------------------------

// UpsertEntity inserts the entity or, if (agentId, slug) already exists,
// merges mentionCount and memoryIds.
func (s *Store) UpsertEntity(e *memory.Entity) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var mentionCount int
	var memoryIDsJSON string
	err = tx.QueryRow(`SELECT mention_count, memory_ids FROM entities WHERE agent_id = ? AND slug = ?`,
		e.AgentID, e.Slug).Scan(&mentionCount, &memoryIDsJSON)

	existingIDs := map[string]bool{}
	if err == nil {
		var ids []string
		if uerr := json.Unmarshal([]byte(memoryIDsJSON), &ids); uerr == nil {
			for _, id := range ids {
				existingIDs[id] = true
			}
		}
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("store: upsert entity read: %w", err)
	}

	for _, id := range e.MemoryIDs {
		existingIDs[id] = true
	}
	merged := make([]string, 0, len(existingIDs))
	for id := range existingIDs {
		merged = append(merged, id)
	}
	idsJSON, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO entities (slug, agent_id, name, kind, mention_count, memory_ids)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(agent_id, slug) DO UPDATE SET
			name = excluded.name, kind = excluded.kind,
			mention_count = mention_count + 1, memory_ids = excluded.memory_ids`,
		e.Slug, e.AgentID, e.Name, e.Kind, 1, string(idsJSON),
	)
	if err != nil {
		return fmt.Errorf("store: upsert entity: %w", err)
	}
	return tx.Commit()
}

// ---- reflect jobs ---------------------------------------------------------

// InsertReflectJob persists a newly created job.
func (s *Store) InsertReflectJob(j *memory.ReflectJob) error {
	stagesJSON, err := json.Marshal(j.Stages)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO reflect_jobs (id, agent_id, session_id, status, created_at, started_at, completed_at, stages)
		VALUES (?,?,?,?,?,?,?,?)`,
		j.ID, j.AgentID, j.SessionID, string(j.Status), formatTime(j.CreatedAt),
		formatOptionalTime(zeroIfNil(j.StartedAt)), formatOptionalTime(zeroIfNil(j.CompletedAt)), string(stagesJSON),
	)
	if err != nil {
		return fmt.Errorf("store: insert reflect job: %w", err)
	}
	return nil
}

// UpdateReflectJob persists the full state of an existing job.
func (s *Store) UpdateReflectJob(j *memory.ReflectJob) error {
	stagesJSON, err := json.Marshal(j.Stages)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE reflect_jobs SET status = ?, started_at = ?, completed_at = ?, stages = ?
		WHERE id = ?`,
		string(j.Status), formatOptionalTime(zeroIfNil(j.StartedAt)), formatOptionalTime(zeroIfNil(j.CompletedAt)),
		string(stagesJSON), j.ID,
	)
	if err != nil {
		return fmt.Errorf("store: update reflect job: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetReflectJob fetches a job by id.
func (s *Store) GetReflectJob(id string) (*memory.ReflectJob, error) {
	row := s.db.QueryRow(`SELECT id, agent_id, session_id, status, created_at, started_at, completed_at, stages
		FROM reflect_jobs WHERE id = ?`, id)
	return scanReflectJob(row)
}

// ListReflectJobs returns the most recent jobs for an agent, newest first.
func (s *Store) ListReflectJobs(agentID string, limit int) ([]*memory.ReflectJob, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT id, agent_id, session_id, status, created_at, started_at, completed_at, stages
		FROM reflect_jobs WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list reflect jobs: %w", err)
	}
	defer rows.Close()
	var out []*memory.ReflectJob
	for rows.Next() {
		j, err := scanReflectJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanReflectJob(row scanner) (*memory.ReflectJob, error) {
	var j memory.ReflectJob
	var createdAt, startedAt, completedAt, stagesJSON string
	err := row.Scan(&j.ID, &j.AgentID, &j.SessionID, &j.Status, &createdAt, &startedAt, &completedAt, &stagesJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan reflect job: %w", err)
	}
	j.CreatedAt = mustParseTime(createdAt)
	if startedAt != "" {
		t := mustParseTime(startedAt)
		j.StartedAt = &t
	}
	if completedAt != "" {
		t := mustParseTime(completedAt)
		j.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(stagesJSON), &j.Stages); err != nil {
		return nil, fmt.Errorf("store: unmarshal stages: %w", err)
	}
	return &j, nil
}

func zeroIfNil(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// ---- pending edges ---------------------------------------------------------

// InsertPendingEdge assigns an id if absent and persists the proposal.
func (s *Store) InsertPendingEdge(pe *memory.PendingEdge) (string, error) {
	if pe.ID == "" {
		pe.ID = uuid.New().String()
	}
	if pe.Status == "" {
		pe.Status = memory.PendingStatusPending
	}
	metaJSON, err := marshalMeta(pe.Metadata)
	if err != nil {
		return "", err
	}
	_, err = s.db.Exec(`
		INSERT INTO pending_edges (id, source_id, type, target_id, weight, created_at, metadata, probability, status, reason)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		pe.ID, pe.SourceID, string(pe.Type), pe.TargetID, pe.Weight, formatTime(pe.CreatedAt),
		string(metaJSON), pe.Probability, string(pe.Status), pe.Reason,
	)
	if err != nil {
		return "", fmt.Errorf("store: insert pending edge: %w", err)
	}
	return pe.ID, nil
}

// GetPendingEdge fetches a pending edge by id.
func (s *Store) GetPendingEdge(id string) (*memory.PendingEdge, error) {
	row := s.db.QueryRow(`SELECT id, source_id, type, target_id, weight, created_at, metadata, probability, status, reason
		FROM pending_edges WHERE id = ?`, id)
	return scanPendingEdge(row)
}

// ListPendingEdges returns pending edges sorted by (probability desc,
// createdAt desc), optionally filtered by type/minProbability.
func (s *Store) ListPendingEdges(edgeType *memory.EdgeType, minProbability float64, limit int) ([]*memory.PendingEdge, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	where := []string{"status = ?"}
	args := []interface{}{string(memory.PendingStatusPending)}
	if edgeType != nil {
		where = append(where, "type = ?")
		args = append(args, string(*edgeType))
	}
	if minProbability > 0 {
		where = append(where, "probability >= ?")
		args = append(args, minProbability)
	}
	q := `SELECT id, source_id, type, target_id, weight, created_at, metadata, probability, status, reason
		FROM pending_edges WHERE ` + joinAnd(where) + ` ORDER BY probability DESC, created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list pending edges: %w", err)
	}
	defer rows.Close()
	var out []*memory.PendingEdge
	for rows.Next() {
		pe, err := scanPendingEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, pe)
	}
	return out, rows.Err()
}

// DeletePendingEdge removes the pending edge (used after approve/reject).
func (s *Store) DeletePendingEdge(id string) error {
	res, err := s.db.Exec(`DELETE FROM pending_edges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete pending edge: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPendingEdge(row scanner) (*memory.PendingEdge, error) {
	var pe memory.PendingEdge
	var createdAt, metaJSON string
	err := row.Scan(&pe.ID, &pe.SourceID, &pe.Type, &pe.TargetID, &pe.Weight, &createdAt,
		&metaJSON, &pe.Probability, &pe.Status, &pe.Reason)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan pending edge: %w", err)
	}
	pe.CreatedAt = mustParseTime(createdAt)
	if err := json.Unmarshal([]byte(metaJSON), &pe.Metadata); err != nil {
		return nil, fmt.Errorf("store: unmarshal pending edge metadata: %w", err)
	}
	return &pe, nil
}

func joinAnd(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}

// ---- usage events ---------------------------------------------------------

// InsertUsageEvent appends one usage event. Append-only, per spec invariant 9.
func (s *Store) InsertUsageEvent(ev memory.UsageEvent) error {
	isMock := 0
	if ev.IsMock {
		isMock = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO usage_events (timestamp, operation, agent_id, model, provider, total_tokens,
			input_texts, input_type, estimated_cost_usd, pipeline_job_id, pipeline_stage, memory_id, is_mock)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		formatTime(ev.Timestamp), ev.Operation, ev.AgentID, ev.Model, ev.Provider, ev.TotalTokens,
		ev.InputTexts, ev.InputType, ev.EstimatedCostUsd, ev.PipelineJobID, ev.PipelineStage, ev.MemoryID, isMock,
	)
	if err != nil {
		return fmt.Errorf("store: insert usage event: %w", err)
	}
	return nil
}

// ---- settings ---------------------------------------------------------

// GetSettings fetches the settings document for agentID (or memory.GlobalAgentID).
func (s *Store) GetSettings(agentID string) (*memory.Settings, error) {
	row := s.db.QueryRow(`SELECT agent_id, semantic_level, stage_use_llm, llm_endpoint, llm_model,
		llm_temp, llm_max_tokens, llm_timeout_ms FROM settings WHERE agent_id = ?`, agentID)
	var st memory.Settings
	var stageJSON string
	err := row.Scan(&st.AgentID, &st.SemanticLevel, &stageJSON, &st.LLM.Endpoint, &st.LLM.Model,
		&st.LLM.Temperature, &st.LLM.MaxTokens, &st.LLM.TimeoutMs)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get settings: %w", err)
	}
	if err := json.Unmarshal([]byte(stageJSON), &st.StageUseLLM); err != nil {
		return nil, fmt.Errorf("store: unmarshal stage_use_llm: %w", err)
	}
	return &st, nil
}

// UpsertSettings inserts or replaces the settings document for its AgentID.
func (s *Store) UpsertSettings(st *memory.Settings) error {
	stageJSON, err := json.Marshal(st.StageUseLLM)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO settings (agent_id, semantic_level, stage_use_llm, llm_endpoint, llm_model,
			llm_temp, llm_max_tokens, llm_timeout_ms)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(agent_id) DO UPDATE SET
			semantic_level = excluded.semantic_level, stage_use_llm = excluded.stage_use_llm,
			llm_endpoint = excluded.llm_endpoint, llm_model = excluded.llm_model,
			llm_temp = excluded.llm_temp, llm_max_tokens = excluded.llm_max_tokens,
			llm_timeout_ms = excluded.llm_timeout_ms`,
		st.AgentID, string(st.SemanticLevel), string(stageJSON), st.LLM.Endpoint, st.LLM.Model,
		st.LLM.Temperature, st.LLM.MaxTokens, st.LLM.TimeoutMs,
	)
	if err != nil {
		return fmt.Errorf("store: upsert settings: %w", err)
	}
	return nil
}

// DeleteSettings removes the settings document for agentID.
func (s *Store) DeleteSettings(agentID string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("store: delete settings: %w", err)
	}
	return nil
}
