// Package memory defines the data model shared by every component of the
// agent memory service: the memory itself, its embedded graph edges and
// contradictions, and the satellite entities (episodes, named entities,
// reflection jobs, usage events, and settings) that orbit it.
package memory

import "time"

// EmbeddingDimensions is the fixed width of every stored embedding vector.
const EmbeddingDimensions = 1024

// MemoryType classifies the kind of statement a memory represents.
type MemoryType string

const (
	TypePreference MemoryType = "preference"
	TypeDecision   MemoryType = "decision"
	TypeFact       MemoryType = "fact"
	TypeObservation MemoryType = "observation"
	TypeOpinion    MemoryType = "opinion"
	TypeEpisode    MemoryType = "episode"
)

// DefaultMemoryType is used when a caller does not specify one.
const DefaultMemoryType = TypeFact

// InitialConfidence returns the starting confidence for a freshly classified
// memory type, per spec §3.
func InitialConfidence(t MemoryType) float64 {
	switch t {
	case TypePreference:
		return 0.80
	case TypeDecision:
		return 0.90
	case TypeFact:
		return 0.60
	case TypeObservation:
		return 0.50
	case TypeOpinion:
		return 0.40
	case TypeEpisode:
		return 0.60
	default:
		return 0.60
	}
}

// Layer is the lifecycle tier governing a memory's decay rate.
type Layer string

const (
	LayerWorking  Layer = "working"
	LayerEpisodic Layer = "episodic"
	LayerSemantic Layer = "semantic"
	LayerArchival Layer = "archival"
)

// DefaultLayer is used when a caller does not specify one.
const DefaultLayer = LayerEpisodic

// Confidence bounds, per spec §3 invariant 3.
const (
	MinConfidence = 0.02
	MaxConfidence = 0.98
)

// ClampConfidence enforces the [MinConfidence, MaxConfidence] bound.
func ClampConfidence(c float64) float64 {
	if c < MinConfidence {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// ClampStrength enforces the [0, 1] bound on strength, per invariant 4.
func ClampStrength(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// EdgeType enumerates the typed directed relations a GraphEdge may carry.
type EdgeType string

const (
	EdgePrecedes       EdgeType = "PRECEDES"
	EdgeCauses         EdgeType = "CAUSES"
	EdgeSupports       EdgeType = "SUPPORTS"
	EdgeContradicts    EdgeType = "CONTRADICTS"
	EdgeDerivesFrom    EdgeType = "DERIVES_FROM"
	EdgeSupersedes     EdgeType = "SUPERSEDES"
	EdgeMentionsEntity EdgeType = "MENTIONS_ENTITY"
	EdgeCoOccurs       EdgeType = "CO_OCCURS"
	EdgeContextOf      EdgeType = "CONTEXT_OF"
)

// IsSymmetric reports whether applying this edge type from A to B must also
// produce a matching B to A edge (spec §3 invariant 5).
func (t EdgeType) IsSymmetric() bool {
	return t == EdgeCoOccurs || t == EdgeContradicts
}

// GraphEdge is a typed, weighted directed relation embedded on its source
// Memory.
type GraphEdge struct {
	Type      EdgeType               `json:"type"`
	TargetID  string                 `json:"targetId"`
	Weight    float64                `json:"weight"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// PendingEdgeStatus is the review state of a PendingEdge.
type PendingEdgeStatus string

const (
	PendingStatusPending  PendingEdgeStatus = "pending"
	PendingStatusApproved PendingEdgeStatus = "approved"
	PendingStatusRejected PendingEdgeStatus = "rejected"
)

// PendingEdge is a proposed GraphEdge awaiting approval before it is applied
// to the source and (for symmetric types) target memories.
type PendingEdge struct {
	ID          string                 `json:"id"`
	SourceID    string                 `json:"sourceId"`
	Type        EdgeType               `json:"type"`
	TargetID    string                 `json:"targetId"`
	Weight      float64                `json:"weight"`
	CreatedAt   time.Time              `json:"createdAt"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Probability float64                `json:"probability"`
	Status      PendingEdgeStatus      `json:"status"`
	Reason      string                 `json:"reason,omitempty"`
}

// ResolutionType is the outcome of a Contradiction once adjudicated.
type ResolutionType string

const (
	ResolutionUnresolved      ResolutionType = "unresolved"
	ResolutionSuperseded      ResolutionType = "superseded"
	ResolutionContextDependent ResolutionType = "context-dependent"
	ResolutionTemporal        ResolutionType = "temporal"
)

// Contradiction is a symmetric link between two memories detected by the
// heuristic (or LLM) classifier, embedded on both memories it connects.
type Contradiction struct {
	TargetMemoryID string         `json:"targetMemoryId"`
	DetectedAt     time.Time      `json:"detectedAt"`
	Resolution     ResolutionType `json:"resolution"`
	ResolvedAt     *time.Time     `json:"resolvedAt,omitempty"`
	ResolutionNote string         `json:"resolutionNote,omitempty"`
}

// Memory is the atomic unit of the memory store.
type Memory struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId"`
	ProjectID string `json:"projectId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	Text     string                 `json:"text"`
	Tags     []string               `json:"tags,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Embedding []float32 `json:"-"`

	MemoryType MemoryType `json:"memoryType"`
	Layer      Layer      `json:"layer"`
	Confidence float64    `json:"confidence"`
	Strength   float64    `json:"strength"`

	Edges          []GraphEdge      `json:"edges,omitempty"`
	Contradictions []Contradiction  `json:"contradictions,omitempty"`

	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	LastReinforcedAt time.Time  `json:"lastReinforcedAt"`
	LastDecayedAt    time.Time  `json:"lastDecayedAt,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
}

// Episode is a session-scoped narrative summarizing a run of activity.
type Episode struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agentId"`
	SessionID      string    `json:"sessionId"`
	Title          string    `json:"title"`
	Narrative      string    `json:"narrative"`
	Participants   []string  `json:"participants,omitempty"`
	DominantTopics []string  `json:"dominantTopics,omitempty"`
	FactIDs        []string  `json:"factIds,omitempty"`
	Embedding      []float32 `json:"-"`
	Strength       float64   `json:"strength"`
	Layer          Layer     `json:"layer"`
	StartedAt      time.Time `json:"startedAt"`
	EndedAt        time.Time `json:"endedAt"`
}

// Entity is a denormalized term extracted from memories during reflection.
type Entity struct {
	Slug         string   `json:"slug"`
	AgentID      string   `json:"agentId"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	MentionCount int      `json:"mentionCount"`
	MemoryIDs    []string `json:"memoryIds,omitempty"`
}

// JobStatus is the lifecycle state of a ReflectJob or one of its stages.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// StageStatus is the lifecycle state of a single pipeline stage.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageComplete StageStatus = "complete"
	StageFailed  StageStatus = "failed"
)

// StageNames lists the nine reflection pipeline stages in execution order
// (spec §4.7). ReflectJob.Stages must have exactly this length on creation.
var StageNames = []string{
	"extract",
	"deduplicate",
	"conflict-check",
	"classify",
	"confidence-update",
	"decay-pass",
	"layer-promote",
	"graph-link",
	"entity-update",
}

// StageRecord tracks the status and stats of a single pipeline stage run.
type StageRecord struct {
	Stage       string                 `json:"stage"`
	Status      StageStatus            `json:"status"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	CompletedAt *time.Time             `json:"completedAt,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Stats       map[string]interface{} `json:"stats,omitempty"`
}

// ReflectJob is a persisted record of one reflection pipeline run.
type ReflectJob struct {
	ID          string        `json:"id"`
	AgentID     string        `json:"agentId"`
	SessionID   string        `json:"sessionId,omitempty"`
	Status      JobStatus     `json:"status"`
	CreatedAt   time.Time     `json:"createdAt"`
	StartedAt   *time.Time    `json:"startedAt,omitempty"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
	Stages      []StageRecord `json:"stages"`
}

// NewReflectJob builds a job with all nine stages pre-populated as pending.
func NewReflectJob(id, agentID, sessionID string) *ReflectJob {
	stages := make([]StageRecord, len(StageNames))
	for i, name := range StageNames {
		stages[i] = StageRecord{Stage: name, Status: StagePending}
	}
	return &ReflectJob{
		ID:        id,
		AgentID:   agentID,
		SessionID: sessionID,
		Status:    JobPending,
		CreatedAt: time.Now(),
		Stages:    stages,
	}
}

// UsageEvent is an append-only time-series record of a single embedding call.
type UsageEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	Operation        string    `json:"operation"`
	AgentID          string    `json:"agentId,omitempty"`
	Model            string    `json:"model"`
	Provider         string    `json:"provider"`
	TotalTokens      int       `json:"totalTokens"`
	InputTexts       int       `json:"inputTexts"`
	InputType        string    `json:"inputType,omitempty"`
	EstimatedCostUsd float64   `json:"estimatedCostUsd"`
	PipelineJobID    string    `json:"pipelineJobId,omitempty"`
	PipelineStage    string    `json:"pipelineStage,omitempty"`
	MemoryID         string    `json:"memoryId,omitempty"`
	IsMock           bool      `json:"isMock"`
}

// SemanticLevel controls how much of the reflection pipeline an LLM may
// enhance, per spec §4.10.
type SemanticLevel string

const (
	SemanticOff      SemanticLevel = "off"
	SemanticBasic    SemanticLevel = "basic"
	SemanticEnhanced SemanticLevel = "enhanced"
	SemanticFull     SemanticLevel = "full"
)

// GlobalAgentID is the sentinel agentId used for the global settings document.
const GlobalAgentID = "_global"

// EnhanceableStages lists the five pipeline stages that may be LLM-enhanced.
var EnhanceableStages = []string{"extract", "classify", "entityUpdate", "graphLink", "layerPromote"}

// LLMProviderConfig configures the optional LLM backing the enhanceable
// pipeline stages.
type LLMProviderConfig struct {
	Endpoint    string  `yaml:"endpoint" json:"endpoint"`
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"maxTokens" json:"maxTokens"`
	TimeoutMs   int     `yaml:"timeoutMs" json:"timeoutMs"`
}

// Settings is a per-agent (or "_global") settings document.
type Settings struct {
	AgentID       string          `yaml:"agentId" json:"agentId"`
	SemanticLevel SemanticLevel   `yaml:"semanticLevel" json:"semanticLevel"`
	StageUseLLM   map[string]bool `yaml:"stageUseLlm" json:"stageUseLlm,omitempty"`
	LLM           LLMProviderConfig `yaml:"llm" json:"llm"`
}

// ResolvedPipelineSettings is the fully merged settings record a reflection
// job snapshots at start, per spec §4.10.
type ResolvedPipelineSettings struct {
	Stages map[string]StageSettings `json:"stages"`
	LLM    LLMProviderConfig        `json:"llm"`
}

// StageSettings is the resolved configuration for a single pipeline stage.
type StageSettings struct {
	UseLLM bool `json:"useLlm"`
}
