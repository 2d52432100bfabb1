package task

import (
	"time"

	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
)

// Status is a run's lifecycle state. Terminal statuses are final.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusRunning        Status = "running"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	StatusPartialSuccess Status = "partial_success"
	StatusCanceled       Status = "canceled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusPartialSuccess, StatusCanceled:
		return true
	}
	return false
}

// Budget bounds a task's planning and repair effort.
type Budget struct {
	MaxRetries int `json:"maxRetries,omitempty"`
	MaxSteps   int `json:"maxSteps,omitempty"`
}

// Spec is what a caller submits: a goal plus optional typed inputs, an
// output schema for verification, and budgets.
type Spec struct {
	Goal         string         `json:"goal"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Constraints  []string       `json:"constraints,omitempty"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
	Budget       Budget         `json:"budget,omitempty"`
}

// StepKind discriminates planned steps.
type StepKind string

const (
	StepTemplate  StepKind = "template"
	StepAgentGoal StepKind = "agent_goal"
)

// Step is one planned unit of work.
type Step struct {
	Kind       StepKind       `json:"kind"`
	TemplateID string         `json:"templateId,omitempty"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Goal       string         `json:"goal,omitempty"`
}

// Progress counts completed steps.
type Progress struct {
	TotalSteps int `json:"totalSteps"`
	DoneSteps  int `json:"doneSteps"`
}

// RunError is the recorded failure of a run.
type RunError struct {
	Code    aiberrors.Code `json:"code"`
	Message string         `json:"message"`
}

// Run is one task execution.
type Run struct {
	ID          string     `json:"id"`
	TemplateID  string     `json:"templateId,omitempty"`
	SessionID   string     `json:"sessionId,omitempty"`
	OwnsSession bool       `json:"ownsSession,omitempty"`
	Status      Status     `json:"status"`
	Progress    Progress   `json:"progress"`
	ElapsedMS   int64      `json:"elapsedMs"`
	Result      any        `json:"result,omitempty"`
	Error       *RunError  `json:"error,omitempty"`
	ArtifactIDs []string   `json:"artifactIds,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}
