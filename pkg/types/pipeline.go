package types

// PipelinePhase labels the coarse phase a pipeline run is in. The phase
// advances with the stage index and never moves backwards.
type PipelinePhase string

const (
	PhasePreprocessing PipelinePhase = "preprocessing"
	PhaseProcessing    PipelinePhase = "processing"
	PhaseReasoning     PipelinePhase = "reasoning"
)

// InterStageToken is the structured summary passed between pipeline stages.
// All list fields accumulate monotonically; stages never remove entries.
type InterStageToken struct {
	OriginalQuery   string        `json:"original_query"`
	Phase           PipelinePhase `json:"phase"`
	CompletedStages []int         `json:"completed_stages"`
	Entities        []string      `json:"entities"`
	Themes          []string      `json:"themes"`
	Relationships   []string      `json:"relationships"`
	Conclusions     []string      `json:"conclusions"`
	NextFocus       string        `json:"next_focus,omitempty"`
}

// StageOutput captures the result of one completed pipeline stage.
type StageOutput struct {
	Index     int        `json:"index"`
	Name      string     `json:"name"`
	Output    string     `json:"output"`
	Usage     TokenUsage `json:"token_usage"`
	LatencyMs int64      `json:"latency_ms"`
}

// PipelineResult is the aggregate outcome of a pipeline run. On failure,
// Success is false, FinalOutput is empty, and Intermediates preserves the
// stages that completed before the failure.
type PipelineResult struct {
	Success        bool            `json:"success"`
	FinalOutput    string          `json:"final_output"`
	Intermediates  []StageOutput   `json:"intermediates"`
	Token          InterStageToken `json:"token"`
	TotalUsage     TokenUsage      `json:"total_usage"`
	TotalLatencyMs int64           `json:"total_latency_ms"`
	Error          string          `json:"error,omitempty"`
}
