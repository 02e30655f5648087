package eventbus

// Subject naming, adapted from the teacher's agent.%s.status convention.
const (
	SubjectUsageEvent     = "usage.event"
	SubjectJobStageFmt    = "reflect.job.%s.stage" // formatted with jobId
	SubjectJobCompleteFmt = "reflect.job.%s.complete"
)

// UsageEventMessage is published on SubjectUsageEvent after every embedding
// call that emits a usage signal.
type UsageEventMessage struct {
	Operation        string  `json:"operation"`
	AgentID          string  `json:"agentId,omitempty"`
	Model            string  `json:"model"`
	TotalTokens      int     `json:"totalTokens"`
	EstimatedCostUsd float64 `json:"estimatedCostUsd"`
	IsMock           bool    `json:"isMock"`
}

// JobStageMessage is published on SubjectJobStageFmt whenever a reflection
// pipeline stage transitions status.
type JobStageMessage struct {
	JobID  string `json:"jobId"`
	Stage  string `json:"stage"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// JobCompleteMessage is published on SubjectJobCompleteFmt when a job
// reaches a terminal status.
type JobCompleteMessage struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}
