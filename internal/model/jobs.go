package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// JobStatus represents the current state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusRunning    JobStatus = "running"
	StatusPausing    JobStatus = "pausing"
	StatusCancelling JobStatus = "cancelling"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether a job in this status will never transition again.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// LogLevel classifies a job log entry
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// JobLogEntry is one line of a job's append-only log stream
type JobLogEntry struct {
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Level     LogLevel  `bson:"level" json:"level"`
	Message   string    `bson:"message" json:"message"`
}

// JobProgress tracks how far along a job body is
type JobProgress struct {
	Current int    `bson:"current" json:"current"`
	Total   int    `bson:"total" json:"total"`
	Message string `bson:"message" json:"message"`
}

// Job represents a background processing task. The record in the store is the
// unit of shared mutable state: status, progress, logs and control flags are
// mutated only through atomic store updates so pause/resume/cancel work
// regardless of which worker process executes the job body.
type Job struct {
	ID              primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	OwnerID         string             `bson:"owner_id" json:"owner_id"`
	Marketplace     string             `bson:"marketplace" json:"marketplace"`
	Type            string             `bson:"type" json:"type"`
	Status          JobStatus          `bson:"status" json:"status"`
	Progress        JobProgress        `bson:"progress" json:"progress"`
	Params          map[string]string  `bson:"params,omitempty" json:"params,omitempty"`
	Result          interface{}        `bson:"result,omitempty" json:"result,omitempty"`
	Logs            []JobLogEntry      `bson:"logs" json:"logs"`
	CancelRequested bool               `bson:"cancel_requested" json:"cancel_requested"`
	PauseRequested  bool               `bson:"pause_requested" json:"pause_requested"`
	CreatedAt       time.Time          `bson:"created_at" json:"created_at"`
	StartedAt       *time.Time         `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt     *time.Time         `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	UpdatedAt       time.Time          `bson:"updated_at" json:"updated_at"`
}
