package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentmemory/memoryd/internal/memory"
)

// ApplyEdge appends edge to source.edges, and — when symmetric is true —
// appends a mirrored reverse edge to target.edges, atomically. When
// pendingEdgeID is non-empty, the pending edge row is deleted in the same
// transaction. Used by the Graph Service for both approve() and
// createDirect() (pendingEdgeID == "" for the latter).
func (s *Store) ApplyEdge(sourceID, targetID string, edge memory.GraphEdge, symmetric bool, pendingEdgeID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: apply edge begin: %w", err)
	}
	defer tx.Rollback()

	if err := appendEdgeTx(tx, sourceID, edge); err != nil {
		return err
	}

	if symmetric {
		reverse := memory.GraphEdge{
			Type:      edge.Type,
			TargetID:  sourceID,
			Weight:    edge.Weight,
			CreatedAt: edge.CreatedAt,
			Metadata:  edge.Metadata,
		}
		if err := appendEdgeTx(tx, targetID, reverse); err != nil {
			return err
		}
	}

	if pendingEdgeID != "" {
		if _, err := tx.Exec(`DELETE FROM pending_edges WHERE id = ?`, pendingEdgeID); err != nil {
			return fmt.Errorf("store: apply edge delete pending: %w", err)
		}
	}

	return tx.Commit()
}

func appendEdgeTx(tx *sql.Tx, memoryID string, edge memory.GraphEdge) error {
	row := tx.QueryRow(`SELECT edges FROM memories WHERE id = ?`, memoryID)
	var edgesJSON string
	if err := row.Scan(&edgesJSON); err == sql.ErrNoRows {
		return ErrNotFound
	} else if err != nil {
		return fmt.Errorf("store: apply edge read %s: %w", memoryID, err)
	}

	var edges []memory.GraphEdge
	if err := json.Unmarshal([]byte(edgesJSON), &edges); err != nil {
		return fmt.Errorf("store: apply edge unmarshal %s: %w", memoryID, err)
	}
	edges = append(edges, edge)

	newJSON, err := json.Marshal(edges)
	if err != nil {
		return fmt.Errorf("store: apply edge marshal %s: %w", memoryID, err)
	}

	now := formatTime(time.Now().UTC())
	if _, err := tx.Exec(`UPDATE memories SET edges = ?, updated_at = ? WHERE id = ?`, string(newJSON), now, memoryID); err != nil {
		return fmt.Errorf("store: apply edge write %s: %w", memoryID, err)
	}
	return nil
}

// Exists reports whether a memory with the given id exists.
func (s *Store) Exists(id string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: exists: %w", err)
	}
	return n > 0, nil
}

// FindInboundEdges returns every memory for agentID whose edges[] contains
// one pointing at targetID. Used by Graph Service traversal for the
// inbound direction, per spec §4.6 ("locate memories whose edges[].targetId
// equals the current id").
func (s *Store) FindInboundEdges(agentID, targetID string) ([]*memory.Memory, error) {
	var out []*memory.Memory
	err := s.StreamWhere(Filter{AgentID: agentID}, Projection{WithEmbedding: false}, 0, func(m *memory.Memory) bool {
		for _, e := range m.Edges {
			if e.TargetID == targetID {
				out = append(out, m)
				break
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("store: find inbound edges: %w", err)
	}
	return out, nil
}
