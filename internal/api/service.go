// Package api implements the Public API surface (§6): a Service that wires
// the Memory Store, Embedding Client, Recall Engine, Lifecycle Engine,
// Contradiction Detector, Graph Service, Reflection Pipeline, Settings
// Resolver, and Usage Tracker together behind a single operation-level
// contract, translating every component error into the seven boundary
// error kinds (§7).
package api

import (
	"github.com/agentmemory/memoryd/internal/embedding"
	"github.com/agentmemory/memoryd/internal/graph"
	"github.com/agentmemory/memoryd/internal/recall"
	"github.com/agentmemory/memoryd/internal/reflection"
	"github.com/agentmemory/memoryd/internal/settings"
	"github.com/agentmemory/memoryd/internal/store"
	"github.com/agentmemory/memoryd/internal/usage"
)

// Limits bounds the operation-entry validation rules from spec §6.
type Limits struct {
	MaxTextLen         int
	MaxTags            int
	MaxTagLen          int
	MaxListLimit       int
	MaxTimelineDays    int
	MaxWordcloudLimit  int
	MaxProjectionLimit int
	RestoreBatchSize   int
}

// DefaultLimits returns the limits named in spec §6.
func DefaultLimits() Limits {
	return Limits{
		MaxTextLen:         50000,
		MaxTags:            50,
		MaxTagLen:          100,
		MaxListLimit:       100,
		MaxTimelineDays:    365,
		MaxWordcloudLimit:  500,
		MaxProjectionLimit: 500,
		RestoreBatchSize:   10,
	}
}

// Service is the Public API surface.
type Service struct {
	Store        *store.Store
	Embedder     *embedding.Client
	RecallEngine *recall.Engine
	Graph        *graph.Service
	Reflection *reflection.Pipeline
	Usage      *usage.Tracker
	Limits     Limits

	// DaemonDefaults feeds the Settings Resolver's lowest-precedence tier.
	DaemonDefaults settings.DaemonDefaults
}

// New builds a Service from its already-constructed components.
func New(st *store.Store, embedder *embedding.Client, recallEngine *recall.Engine, graphSvc *graph.Service, pipeline *reflection.Pipeline, tracker *usage.Tracker, daemonDefaults settings.DaemonDefaults) *Service {
	return &Service{
		Store:          st,
		Embedder:       embedder,
		RecallEngine:   recallEngine,
		Graph:          graphSvc,
		Reflection:     pipeline,
		Usage:          tracker,
		Limits:         DefaultLimits(),
		DaemonDefaults: daemonDefaults,
	}
}
