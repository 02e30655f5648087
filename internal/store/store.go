// Package store is the Memory Store: authoritative SQLite-backed persistence
// for memories and their satellite entities (episodes, entities, reflect
// jobs, pending edges, usage events, settings).
package store

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentmemory/memoryd/internal/memory"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned by getById and similar point lookups.
var ErrNotFound = fmt.Errorf("memory: not found")

// Store is the SQLite-backed Memory Store.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and applies
// the embedded schema. Mirrors the teacher's pragma configuration.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-64000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: failed to set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ---- memory CRUD ----------------------------------------------------------

// Insert assigns an id and monotonic timestamps to m, then persists it.
func (s *Store) Insert(m *memory.Memory) (string, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.LastReinforcedAt.IsZero() {
		m.LastReinforcedAt = now
	}

	tagsJSON, err := json.Marshal(nonNilStrings(m.Tags))
	if err != nil {
		return "", fmt.Errorf("store: marshal tags: %w", err)
	}
	metaJSON, err := marshalMeta(m.Metadata)
	if err != nil {
		return "", fmt.Errorf("store: marshal metadata: %w", err)
	}
	edgesJSON, err := json.Marshal(nonNilEdges(m.Edges))
	if err != nil {
		return "", fmt.Errorf("store: marshal edges: %w", err)
	}
	contraJSON, err := json.Marshal(nonNilContradictions(m.Contradictions))
	if err != nil {
		return "", fmt.Errorf("store: marshal contradictions: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO memories (
			id, agent_id, project_id, session_id, text, tags, metadata, embedding,
			memory_type, layer, confidence, strength, edges, contradictions,
			created_at, updated_at, last_reinforced_at, last_decayed_at, expires_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.AgentID, m.ProjectID, m.SessionID, m.Text, string(tagsJSON), string(metaJSON),
		encodeEmbedding(m.Embedding), string(m.MemoryType), string(m.Layer), m.Confidence, m.Strength,
		string(edgesJSON), string(contraJSON),
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt), formatTime(m.LastReinforcedAt),
		formatOptionalTime(m.LastDecayedAt), formatExpiresAt(m.ExpiresAt),
	)
	if err != nil {
		return "", fmt.Errorf("store: insert memory: %w", err)
	}
	return m.ID, nil
}

// GetByID fetches a single memory, or ErrNotFound.
func (s *Store) GetByID(id string) (*memory.Memory, error) {
	row := s.db.QueryRow(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get memory %s: %w", id, err)
	}
	return m, nil
}

// Filter describes the predicate accepted by Find, CountWhere, and
// StreamWhere.
type Filter struct {
	AgentID       string
	ProjectID     string
	Tags          []string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Sort selects ascending or descending order by (createdAt, id).
type Sort string

const (
	SortAsc  Sort = "asc"
	SortDesc Sort = "desc"
)

// Cursor is the composite (createdAt, id) pagination token.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Page is the result of Find.
type Page struct {
	Memories   []*memory.Memory
	HasMore    bool
	NextCursor *Cursor
}

// Find returns a page of memories matching filter, ordered by (createdAt,
// id) per sort, starting strictly after cursor if given.
func (s *Store) Find(filter Filter, sort Sort, cursor *Cursor, limit int) (Page, error) {
	if limit <= 0 {
		limit = 10
	}
	where, args := buildWhere(filter)
	op := ">"
	orderDir := "ASC"
	if sort == SortDesc {
		op = "<"
		orderDir = "DESC"
	}
	if cursor != nil {
		where = append(where, fmt.Sprintf("(created_at %s ? OR (created_at = ? AND id %s ?))", op, op))
		args = append(args, formatTime(cursor.CreatedAt), formatTime(cursor.CreatedAt), cursor.ID)
	}

	q := `SELECT ` + memoryColumns + ` FROM memories`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY created_at %s, id %s LIMIT ?", orderDir, orderDir)
	args = append(args, limit+1)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return Page{}, fmt.Errorf("store: find: %w", err)
	}
	defer rows.Close()

	var out []*memory.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return Page{}, fmt.Errorf("store: find scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("store: find rows: %w", err)
	}

	page := Page{Memories: out}
	if len(out) > limit {
		page.Memories = out[:limit]
		page.HasMore = true
		last := page.Memories[len(page.Memories)-1]
		page.NextCursor = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return page, nil
}

// Patch is a set of field updates applied atomically to a memory, plus
// array-append operations for edges/contradictions and a positional update
// for contradiction resolution.
type Patch struct {
	Text       *string
	Tags       []string
	Metadata   map[string]interface{}
	MemoryType *memory.MemoryType
	Layer      *memory.Layer
	Confidence *float64
	Strength   *float64
	Embedding  []float32
	ExpiresAt  *time.Time

	AppendEdges          []memory.GraphEdge
	AppendContradictions []memory.Contradiction

	ResolveContradiction *ContradictionResolution
}

// ContradictionResolution identifies a positional update to an existing
// contradiction entry by its targetMemoryId.
type ContradictionResolution struct {
	TargetMemoryID string
	Resolution     memory.ResolutionType
	ResolutionNote string
}

// Update applies patch to the memory identified by id, atomically.
func (s *Store) Update(id string, patch Patch) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: update begin tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("store: update read: %w", err)
	}

	if patch.Text != nil {
		m.Text = *patch.Text
	}
	if patch.Tags != nil {
		m.Tags = patch.Tags
	}
	if patch.Metadata != nil {
		m.Metadata = patch.Metadata
	}
	if patch.MemoryType != nil {
		m.MemoryType = *patch.MemoryType
	}
	if patch.Layer != nil {
		m.Layer = *patch.Layer
	}
	if patch.Confidence != nil {
		m.Confidence = memory.ClampConfidence(*patch.Confidence)
	}
	if patch.Strength != nil {
		m.Strength = memory.ClampStrength(*patch.Strength)
	}
	if patch.Embedding != nil {
		m.Embedding = patch.Embedding
	}
	if patch.ExpiresAt != nil {
		m.ExpiresAt = patch.ExpiresAt
	}
	m.Edges = append(m.Edges, patch.AppendEdges...)
	m.Contradictions = append(m.Contradictions, patch.AppendContradictions...)

	if patch.ResolveContradiction != nil {
		r := patch.ResolveContradiction
		for i := range m.Contradictions {
			if m.Contradictions[i].TargetMemoryID == r.TargetMemoryID {
				m.Contradictions[i].Resolution = r.Resolution
				m.Contradictions[i].ResolutionNote = r.ResolutionNote
				now := time.Now().UTC()
				m.Contradictions[i].ResolvedAt = &now
				break
			}
		}
	}

	m.UpdatedAt = time.Now().UTC()

	tagsJSON, err := json.Marshal(nonNilStrings(m.Tags))
	if err != nil {
		return fmt.Errorf("store: marshal tags: %w", err)
	}
	metaJSON, err := marshalMeta(m.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	edgesJSON, err := json.Marshal(nonNilEdges(m.Edges))
	if err != nil {
		return fmt.Errorf("store: marshal edges: %w", err)
	}
	contraJSON, err := json.Marshal(nonNilContradictions(m.Contradictions))
	if err != nil {
		return fmt.Errorf("store: marshal contradictions: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE memories SET
			text = ?, tags = ?, metadata = ?, embedding = ?, memory_type = ?, layer = ?,
			confidence = ?, strength = ?, edges = ?, contradictions = ?, updated_at = ?,
			last_reinforced_at = ?, last_decayed_at = ?, expires_at = ?
		WHERE id = ?`,
		m.Text, string(tagsJSON), string(metaJSON), encodeEmbedding(m.Embedding),
		string(m.MemoryType), string(m.Layer), m.Confidence, m.Strength,
		string(edgesJSON), string(contraJSON), formatTime(m.UpdatedAt),
		formatTime(m.LastReinforcedAt), formatOptionalTime(m.LastDecayedAt), formatExpiresAt(m.ExpiresAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("store: update exec: %w", err)
	}
	return tx.Commit()
}

// Reinforce resets strength to 1.0, bumps lastReinforcedAt, and applies the
// given confidence in one atomic write. Used by the Lifecycle Engine.
func (s *Store) Reinforce(id string, confidence float64) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`UPDATE memories SET confidence = ?, strength = 1.0, last_reinforced_at = ?, updated_at = ? WHERE id = ?`,
		memory.ClampConfidence(confidence), formatTime(now), formatTime(now), id)
	if err != nil {
		return fmt.Errorf("store: reinforce: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetDecay persists the result of one decay-pass application.
func (s *Store) SetDecay(id string, strength float64, decayedAt time.Time) error {
	res, err := s.db.Exec(`UPDATE memories SET strength = ?, last_decayed_at = ? WHERE id = ?`,
		memory.ClampStrength(strength), formatTime(decayedAt), id)
	if err != nil {
		return fmt.Errorf("store: set decay: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a single memory by id.
func (s *Store) Delete(id string) error {
	res, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWhere deletes every memory matching filter and returns the count
// removed. Only AgentID and CreatedBefore are honored, per spec §6 clear/purge.
func (s *Store) DeleteWhere(filter Filter) (int64, error) {
	where, args := []string{"agent_id = ?"}, []interface{}{filter.AgentID}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(*filter.CreatedBefore))
	}
	q := `DELETE FROM memories WHERE ` + strings.Join(where, " AND ")
	res, err := s.db.Exec(q, args...)
	if err != nil {
		return 0, fmt.Errorf("store: delete where: %w", err)
	}
	return res.RowsAffected()
}

// CountWhere counts memories matching filter.
func (s *Store) CountWhere(filter Filter) (int64, error) {
	where, args := buildWhere(filter)
	q := `SELECT COUNT(*) FROM memories`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	var n int64
	if err := s.db.QueryRow(q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count where: %w", err)
	}
	return n, nil
}

// DistinctAgentIDs returns every agent id with at least one memory, used by
// the decay-pass scheduler to sweep the whole fleet each run.
func (s *Store) DistinctAgentIDs() ([]string, error) {
	rows, err := s.db.Query(`SELECT DISTINCT agent_id FROM memories ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("store: distinct agent ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan agent id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Projection selects which columns StreamWhere materializes. Embedding is
// only decoded when WithEmbedding is true, so callers who only need
// text/tags avoid the decode cost.
type Projection struct {
	WithEmbedding bool
}

// StreamWhere calls fn for each memory matching filter, newest first,
// stopping early if fn returns false or the hard cap is reached. cap <= 0
// means no cap.
func (s *Store) StreamWhere(filter Filter, proj Projection, cap int, fn func(*memory.Memory) bool) error {
	where, args := buildWhere(filter)
	q := `SELECT ` + memoryColumns + ` FROM memories`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return fmt.Errorf("store: stream where: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		if cap > 0 && count >= cap {
			break
		}
		m, err := scanMemory(rows)
		if err != nil {
			return fmt.Errorf("store: stream scan: %w", err)
		}
		if !proj.WithEmbedding {
			m.Embedding = nil
		}
		count++
		if !fn(m) {
			break
		}
	}
	return rows.Err()
}

func buildWhere(filter Filter) ([]string, []interface{}) {
	var where []string
	var args []interface{}
	if filter.AgentID != "" {
		where = append(where, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	for _, tag := range filter.Tags {
		where = append(where, "tags LIKE ?")
		args = append(args, "%\""+tag+"\"%")
	}
	if filter.CreatedAfter != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*filter.CreatedAfter))
	}
	if filter.CreatedBefore != nil {
		where = append(where, "created_at < ?")
		args = append(args, formatTime(*filter.CreatedBefore))
	}
	return where, args
}

const memoryColumns = `id, agent_id, project_id, session_id, text, tags, metadata, embedding,
	memory_type, layer, confidence, strength, edges, contradictions,
	created_at, updated_at, last_reinforced_at, last_decayed_at, expires_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (*memory.Memory, error) {
	var m memory.Memory
	var tagsJSON, metaJSON, edgesJSON, contraJSON string
	var embeddingBlob []byte
	var createdAt, updatedAt, lastReinforcedAt, lastDecayedAt, expiresAt string

	err := row.Scan(
		&m.ID, &m.AgentID, &m.ProjectID, &m.SessionID, &m.Text, &tagsJSON, &metaJSON, &embeddingBlob,
		&m.MemoryType, &m.Layer, &m.Confidence, &m.Strength, &edgesJSON, &contraJSON,
		&createdAt, &updatedAt, &lastReinforcedAt, &lastDecayedAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &m.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(edgesJSON), &m.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	if err := json.Unmarshal([]byte(contraJSON), &m.Contradictions); err != nil {
		return nil, fmt.Errorf("unmarshal contradictions: %w", err)
	}
	m.Embedding = decodeEmbedding(embeddingBlob)

	m.CreatedAt = mustParseTime(createdAt)
	m.UpdatedAt = mustParseTime(updatedAt)
	m.LastReinforcedAt = mustParseTime(lastReinforcedAt)
	if lastDecayedAt != "" {
		t := mustParseTime(lastDecayedAt)
		m.LastDecayedAt = t
	}
	if expiresAt != "" {
		t := mustParseTime(expiresAt)
		m.ExpiresAt = &t
	}
	return &m, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilEdges(e []memory.GraphEdge) []memory.GraphEdge {
	if e == nil {
		return []memory.GraphEdge{}
	}
	return e
}

func nonNilContradictions(c []memory.Contradiction) []memory.Contradiction {
	if c == nil {
		return []memory.Contradiction{}
	}
	return c
}

func marshalMeta(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	return json.Marshal(m)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatOptionalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return formatTime(t)
}

func formatExpiresAt(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func mustParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
