package types

import "time"

// StepStatus is the lifecycle state of a single thinking step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepError     StepStatus = "error"
)

// ProcessStatus is the lifecycle state of a thinking process.
// Terminal transitions are one-shot: once completed or error, the status
// never changes again.
type ProcessStatus string

const (
	ProcessInProgress ProcessStatus = "in_progress"
	ProcessCompleted  ProcessStatus = "completed"
	ProcessError      ProcessStatus = "error"
)

// ThinkingStep is one unit of reasoning emitted by a strategy.
type ThinkingStep struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	Reasoning   string     `json:"reasoning"`
	Status      StepStatus `json:"status"`
	Tokens      int        `json:"tokens"`
	Cached      bool       `json:"cached,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ThinkingProcess is the structured reasoning artifact returned to clients.
// Steps are append-only in strategy-emission order.
type ThinkingProcess struct {
	ProcessID  string         `json:"process_id"`
	Problem    string         `json:"problem"`
	ModelName  string         `json:"model_name"`
	Steps      []ThinkingStep `json:"steps"`
	StartedAt  time.Time      `json:"started_at"`
	Status     ProcessStatus  `json:"status"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`

	Visualization *Visualization `json:"visualization,omitempty"`
}

// Visualization describes step relationships as a small graph.
type Visualization struct {
	Nodes []VisualizationNode `json:"nodes"`
	Edges []VisualizationEdge `json:"edges"`
}

// VisualizationNode is a single step node in the visualization.
type VisualizationNode struct {
	ID    int    `json:"id"`
	Label string `json:"label"`
	Kind  string `json:"kind,omitempty"`
}

// VisualizationEdge links two step nodes.
type VisualizationEdge struct {
	From     int    `json:"from"`
	To       int    `json:"to"`
	Relation string `json:"relation,omitempty"`
}
