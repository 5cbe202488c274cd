// Package repothread defines core types shared across the gateway, the backend
// client, and the terminal client.
package repothread

import "fmt"

// OperationKind identifies which backend operation created a job.
type OperationKind string

// Supported operation kinds.
const (
	KindAnalyze OperationKind = "analyze"
	KindConvert OperationKind = "convert"
)

// DefaultNumTweets is the thread length requested when the caller omits one.
const DefaultNumTweets = 14

// Valid reports whether k is a known kind.
func (k OperationKind) Valid() bool {
	return k == KindAnalyze || k == KindConvert
}

// ResultField is the envelope field used for synchronous results.
func (k OperationKind) ResultField() string {
	if k == KindConvert {
		return "thread"
	}
	return "blog"
}

// GatewayPath is the public path serving this kind.
func (k OperationKind) GatewayPath() string {
	if k == KindConvert {
		return "/api/convert-thread"
	}
	return "/api/analyze"
}

// ProgressLabel renders the human-readable progress text for a poll attempt.
func (k OperationKind) ProgressLabel(attempt int) string {
	if k == KindConvert {
		return fmt.Sprintf("Generating thread... (attempt %d)", attempt)
	}
	return fmt.Sprintf("Analyzing repository... (attempt %d)", attempt)
}

// JobStatus is the lifecycle state reported by the backend.
type JobStatus string

// Job status values as reported by the backend.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further polling should occur.
// Unknown values are treated as terminal failures.
func (s JobStatus) Terminal() bool {
	return s != JobStatusPending
}

// Job is the transient view of a backend job.
type Job struct {
	ID     string        `json:"job_id"`
	Kind   OperationKind `json:"kind,omitempty"`
	Status JobStatus     `json:"status"`
	Result string        `json:"result,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// AnalyzeRequest is the inbound payload for repository analysis.
type AnalyzeRequest struct {
	RepoURL string `json:"repoUrl"`
}

// ConvertRequest is the inbound payload for thread conversion.
// NumTweets is a pointer so that an omitted value can take the default.
type ConvertRequest struct {
	Blog      string `json:"blog"`
	NumTweets *int   `json:"numTweets,omitempty"`
}

// Submission is the result of a creation call. Exactly one of JobID or Result
// is populated, depending on whether the backend runs the operation
// asynchronously or returns the text directly.
type Submission struct {
	JobID  string
	Result string
}

// Mode selects how a backend operation returns its result.
type Mode string

// Supported modes.
const (
	ModeAsync Mode = "async"
	ModeSync  Mode = "sync"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeAsync || m == ModeSync
}
