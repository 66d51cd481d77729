package model

import (
	"encoding/json"
	"time"
)

// JobState はジョブの状態を表す。
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateDelayed   JobState = "delayed"
)

// JobStates は全状態の一覧（集計順）。
var JobStates = []JobState{
	JobStateWaiting,
	JobStateActive,
	JobStateCompleted,
	JobStateFailed,
	JobStateDelayed,
}

// BackoffType はリトライ間隔の計算方式。
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"
	BackoffExponential BackoffType = "exponential"
)

// Backoff はリトライ間隔のポリシー。
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Job はキューに投入された1件の作業を表す。
// Attemptsは実行済み回数、MaxAttemptsは初回を含む最大実行回数。
type Job struct {
	ID          string          `json:"id"`
	Queue       string          `json:"queue"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Backoff     Backoff         `json:"backoff"`
	State       JobState        `json:"state"`
	Error       string          `json:"error,omitempty"`
	Stack       string          `json:"stack,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	RunAt       time.Time       `json:"run_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}
