package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is the audit row of one relayed webhook event.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"job_id"` // ULID length

	EventID string `gorm:"type:varchar(64);index" json:"event_id,omitempty"`
	UserID  string `gorm:"type:varchar(64);index;not null" json:"user_id"`

	Prompt string `gorm:"type:text;not null" json:"prompt"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when finished
	Outcome *string `gorm:"type:varchar(16)" json:"outcome,omitempty"`
	Error   *string `gorm:"type:text" json:"error,omitempty"`

	ReceivedAt time.Time  `json:"received_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Job) TableName() string { return "relay_jobs" }
