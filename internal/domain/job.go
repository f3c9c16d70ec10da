package domain

import "time"

// JobKind enumerates the pipeline families a job can belong to.
type JobKind string

const (
	JobKindProcessing  JobKind = "processing"
	JobKindStyle       JobKind = "style"
	JobKindExport      JobKind = "export"
	JobKindFusion      JobKind = "fusion"
	JobKindComposition JobKind = "composition"
)

// JobStatus enumerates job lifecycle states. Transitions are monotonic along
// pending -> processing -> {completed, failed}; completed and failed are
// terminal.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further status transitions may occur.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// BlendMode selects the fusion blending strategy.
type BlendMode string

const (
	BlendModePoisson BlendMode = "poisson"
	BlendModeAlpha   BlendMode = "alpha"
)

// Layout selects the composition arrangement.
type Layout string

const (
	LayoutHorizontal Layout = "horizontal"
	LayoutVertical   Layout = "vertical"
	LayoutGrid2x2    Layout = "grid_2x2"
)

// ExportSourceType identifies which upstream result an export job upscales.
type ExportSourceType string

const (
	ExportSourceProcessed   ExportSourceType = "processed"
	ExportSourceStyled      ExportSourceType = "styled"
	ExportSourceAIGenerated ExportSourceType = "ai_generated"
)

// JobParams carries the kind-specific parameters frozen at job creation.
// Only the fields relevant to the job's kind are populated; the whole struct
// is stored as one JSONB column and never mutated after creation.
type JobParams struct {
	// processing + style
	PhotoID string `json:"photo_id,omitempty"`

	// style
	StyleID    string `json:"style_id,omitempty"`
	Generative bool   `json:"generative,omitempty"`
	// UpstreamJobID chains a style job to the processing job whose result it
	// styles; empty means the original photo is styled directly.
	UpstreamJobID string `json:"upstream_job_id,omitempty"`

	// export
	SourceType  ExportSourceType `json:"source_type,omitempty"`
	SourceJobID string           `json:"source_job_id,omitempty"`
	SourceKey   string           `json:"source_key,omitempty"`
	Paid        bool             `json:"paid,omitempty"`

	// fusion + composition
	PhotoIDs  []string  `json:"photo_ids,omitempty"`
	BlendMode BlendMode `json:"blend_mode,omitempty"`
	Layout    Layout    `json:"layout,omitempty"`
}

// Job is the uniform durable record for one unit of pipeline work. One shape
// covers all five kinds; the task identifier on the broker equals Job.ID, so
// queued work and the durable record form a one-to-one mapping.
type Job struct {
	ID     string
	UserID string
	Kind   JobKind
	Params JobParams

	Status       JobStatus
	Progress     int
	CurrentStep  string
	AttemptCount int

	// Result locators, present iff Status == completed.
	ResultKey    string
	MaskKey      string
	PreviewKey   string
	ThumbnailKey string

	ResultWidth      int
	ResultHeight     int
	FileSizeBytes    int64
	ProcessingTimeMS int64

	// Error fields, present iff Status == failed.
	ErrorKind    ErrorKind
	ErrorMessage string
	Suggestion   string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// JobResult is the atomic completion payload written in a single transaction
// together with status=completed and progress=100.
type JobResult struct {
	ResultKey        string
	MaskKey          string
	PreviewKey       string
	ThumbnailKey     string
	Width            int
	Height           int
	FileSizeBytes    int64
	ProcessingTimeMS int64
}
