package api

import (
	"github.com/agentmemory/memoryd/internal/graph"
	"github.com/agentmemory/memoryd/internal/memory"
)

// ListPendingEdges returns pending edges sorted by (probability desc, createdAt desc).
func (s *Service) ListPendingEdges(edgeType *memory.EdgeType, minProbability float64, limit int) ([]*memory.PendingEdge, error) {
	edges, err := s.Graph.ListPendingEdges(edgeType, minProbability, limit)
	if err != nil {
		return nil, newErr(KindInternal, "listPendingEdges failed", err)
	}
	return edges, nil
}

// ApprovePendingEdge applies a single pending edge.
func (s *Service) ApprovePendingEdge(id string) error {
	if id == "" {
		return validationErr("id is required")
	}
	if err := s.Graph.Approve(id); err != nil {
		return translate("approvePendingEdge", err)
	}
	return nil
}

// RejectPendingEdge discards a single pending edge.
func (s *Service) RejectPendingEdge(id string) error {
	if id == "" {
		return validationErr("id is required")
	}
	if err := s.Graph.Reject(id); err != nil {
		return translate("rejectPendingEdge", err)
	}
	return nil
}

// BatchResult reports the per-id outcome of ApproveBatch.
type BatchResult struct {
	Approved int
	Failed   map[string]string
}

// ApproveBatch approves every id in ids, continuing past individual
// failures and reporting them by id.
func (s *Service) ApproveBatch(ids []string) BatchResult {
	result := BatchResult{Failed: map[string]string{}}
	for _, id := range ids {
		if err := s.Graph.Approve(id); err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Approved++
	}
	return result
}

// CreateEdge appends a direct GraphEdge, bypassing the pending queue.
func (s *Service) CreateEdge(sourceID, targetID string, edgeType memory.EdgeType, weight float64, metadata map[string]interface{}) error {
	if sourceID == "" || targetID == "" {
		return validationErr("sourceId and targetId are required")
	}
	if err := s.Graph.CreateDirect(sourceID, targetID, edgeType, weight, metadata); err != nil {
		return translate("createEdge", err)
	}
	return nil
}

// Traverse runs a bounded BFS from startID.
func (s *Service) Traverse(startID string, opts graph.TraverseOptions) (*graph.TraverseResult, error) {
	if startID == "" {
		return nil, validationErr("startId is required")
	}
	result, err := s.Graph.Traverse(startID, opts)
	if err != nil {
		return nil, translate("traverse", err)
	}
	return result, nil
}

// GetNode fetches a single memory by id, for graph-explorer callers.
func (s *Service) GetNode(id string) (*memory.Memory, error) {
	if id == "" {
		return nil, validationErr("id is required")
	}
	m, err := s.Store.GetByID(id)
	if err != nil {
		return nil, translate("getNode", err)
	}
	return m, nil
}
