// Package graph implements the Graph Service: the pending-edge review
// queue, bidirectional edge application, and bounded BFS traversal.
package graph

import (
	"fmt"
	"time"

	"github.com/agentmemory/memoryd/internal/memory"
	"github.com/agentmemory/memoryd/internal/store"
)

// Service is the Graph Service.
type Service struct {
	Store *store.Store
}

// ListPendingEdges returns pending edges sorted by (probability desc,
// createdAt desc), per spec §4.6.
func (g *Service) ListPendingEdges(edgeType *memory.EdgeType, minProbability float64, limit int) ([]*memory.PendingEdge, error) {
	return g.Store.ListPendingEdges(edgeType, minProbability, limit)
}

// Approve applies a pending edge: appends a GraphEdge to the source, and —
// for CO_OCCURS/CONTRADICTS — a mirrored edge to the target, then deletes
// the pending edge. Atomic across all writes.
func (g *Service) Approve(id string) error {
	pe, err := g.Store.GetPendingEdge(id)
	if err != nil {
		return err
	}
	edge := memory.GraphEdge{
		Type:      pe.Type,
		TargetID:  pe.TargetID,
		Weight:    pe.Weight,
		CreatedAt: time.Now().UTC(),
		Metadata:  pe.Metadata,
	}
	if err := g.Store.ApplyEdge(pe.SourceID, pe.TargetID, edge, pe.Type.IsSymmetric(), pe.ID); err != nil {
		return fmt.Errorf("graph: approve %s: %w", id, err)
	}
	return nil
}

// Reject deletes the pending edge without mutating any memory.
func (g *Service) Reject(id string) error {
	return g.Store.DeletePendingEdge(id)
}

// CreateDirect appends a GraphEdge (and its mirror, for symmetric types)
// without going through the pending queue. Fails with store.ErrNotFound if
// either memory is absent.
func (g *Service) CreateDirect(sourceID, targetID string, edgeType memory.EdgeType, weight float64, metadata map[string]interface{}) error {
	srcOK, err := g.Store.Exists(sourceID)
	if err != nil {
		return err
	}
	if !srcOK {
		return store.ErrNotFound
	}
	tgtOK, err := g.Store.Exists(targetID)
	if err != nil {
		return err
	}
	if !tgtOK {
		return store.ErrNotFound
	}

	edge := memory.GraphEdge{
		Type:      edgeType,
		TargetID:  targetID,
		Weight:    memory.ClampStrength(weight),
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	return g.Store.ApplyEdge(sourceID, targetID, edge, edgeType.IsSymmetric(), "")
}

// Direction selects which edges traverse() follows.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
	DirectionBoth     Direction = "both"
)

// MaxTraversalDepth is the hard cap on traverse's maxDepth, per spec §4.6.
const MaxTraversalDepth = 5

// Connection is one node reached during traversal.
type Connection struct {
	Memory       *memory.Memory
	Relationship memory.EdgeType
	Depth        int
	Path         []string
}

// TraverseResult is the output of Traverse.
type TraverseResult struct {
	CenterNode *memory.Memory
	Connected  []Connection
}

// TraverseOptions bounds a traversal.
type TraverseOptions struct {
	Direction Direction
	MaxDepth  int
	EdgeTypes []memory.EdgeType
}

// Traverse runs a breadth-first search from startID, bounded by
// maxDepth/direction/edgeTypes, per spec §4.6.
func (g *Service) Traverse(startID string, opts TraverseOptions) (*TraverseResult, error) {
	if opts.MaxDepth <= 0 || opts.MaxDepth > MaxTraversalDepth {
		opts.MaxDepth = MaxTraversalDepth
	}
	if opts.Direction == "" {
		opts.Direction = DirectionOutbound
	}

	center, err := g.Store.GetByID(startID)
	if err != nil {
		return nil, fmt.Errorf("graph: traverse start: %w", err)
	}

	type queueItem struct {
		id    string
		depth int
		path  []string
	}

	visited := map[string]bool{startID: true}
	queue := []queueItem{{id: startID, depth: 0, path: []string{startID}}}
	result := &TraverseResult{CenterNode: center}

	typeAllowed := func(t memory.EdgeType) bool {
		if len(opts.EdgeTypes) == 0 {
			return true
		}
		for _, et := range opts.EdgeTypes {
			if et == t {
				return true
			}
		}
		return false
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= opts.MaxDepth {
			continue
		}

		current, err := g.Store.GetByID(item.id)
		if err != nil {
			continue
		}

		if opts.Direction == DirectionOutbound || opts.Direction == DirectionBoth {
			for _, e := range current.Edges {
				if !typeAllowed(e.Type) {
					continue
				}
				if !isIdentifierTarget(e.Type, e.TargetID) {
					continue
				}
				if visited[e.TargetID] {
					continue
				}
				target, err := g.Store.GetByID(e.TargetID)
				if err != nil {
					continue
				}
				visited[e.TargetID] = true
				newPath := append(append([]string(nil), item.path...), e.TargetID)
				result.Connected = append(result.Connected, Connection{
					Memory: target, Relationship: e.Type, Depth: item.depth + 1, Path: newPath,
				})
				queue = append(queue, queueItem{id: e.TargetID, depth: item.depth + 1, path: newPath})
			}
		}

		if opts.Direction == DirectionInbound || opts.Direction == DirectionBoth {
			inbound, err := g.Store.FindInboundEdges(current.AgentID, item.id)
			if err != nil {
				continue
			}
			for _, src := range inbound {
				if visited[src.ID] {
					continue
				}
				var relType memory.EdgeType
				matched := false
				for _, e := range src.Edges {
					if e.TargetID == item.id && typeAllowed(e.Type) {
						relType = e.Type
						matched = true
						break
					}
				}
				if !matched {
					continue
				}
				visited[src.ID] = true
				newPath := append(append([]string(nil), item.path...), src.ID)
				result.Connected = append(result.Connected, Connection{
					Memory: src, Relationship: relType, Depth: item.depth + 1, Path: newPath,
				})
				queue = append(queue, queueItem{id: src.ID, depth: item.depth + 1, path: newPath})
			}
		}
	}

	return result, nil
}

// isIdentifierTarget reports whether targetID should be treated as a memory
// id for outbound traversal. MENTIONS_ENTITY edges carry an entity slug in
// targetId and must be skipped, per spec §9.
func isIdentifierTarget(edgeType memory.EdgeType, targetID string) bool {
	return edgeType != memory.EdgeMentionsEntity
}
