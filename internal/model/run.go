package model

import "time"

// RunStatus represents the current state of a batch run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusIngesting   RunStatus = "ingesting"
	RunStatusRelativized RunStatus = "relativized"
	RunStatusComposing   RunStatus = "composing"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// Stage names used in rejections, phase results and logs.
const (
	StageIngest     = "ingest"
	StageRelativize = "relativize"
	StageCompose    = "compose"
	StageRank       = "rank"
)

// PhaseStatus represents the outcome of one stage of a run.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// PhaseResult holds the outcome of a stage.
type PhaseResult struct {
	Name     string         `json:"name"`
	Status   PhaseStatus    `json:"status"`
	Duration int64          `json:"duration_ms"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Run represents a single batch run.
type Run struct {
	ID        string     `json:"id"`
	Vertical  string     `json:"vertical"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of a run.
type RunResult struct {
	Observations int           `json:"observations"`
	Records      int           `json:"records"`
	Rejections   int           `json:"rejections"`
	DeadLettered int           `json:"dead_lettered"`
	Excluded     int           `json:"excluded"`
	Phases       []PhaseResult `json:"phases"`
	Report       string        `json:"report,omitempty"`
	Error        string        `json:"error,omitempty"`
}
