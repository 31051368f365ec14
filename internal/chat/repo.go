package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Updates(map[string]any{
			"status":     JobRunning,
			"started_at": at,
		}).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id, outcome string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      JobSucceeded,
			"outcome":     outcome,
			"error":       nil,
			"finished_at": at,
		}).Error
}

// MarkJobFailed records errMsg. outcome may be empty when the task never ran.
func (r *Repo) MarkJobFailed(ctx context.Context, id, outcome, errMsg string, at time.Time) error {
	var o any
	if outcome != "" {
		o = outcome
	}
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      JobFailed,
			"outcome":     o,
			"error":       errMsg,
			"finished_at": at,
		}).Error
}

// InsertMessages writes msgs in one transaction.
func (r *Repo) InsertMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&msgs).Error
	})
}

// ListMessagesByJob returns the turns committed by a job in insertion order.
func (r *Repo) ListMessagesByJob(ctx context.Context, jobID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// CountJobsByStatus is used by the admin stats endpoint.
func (r *Repo) CountJobsByStatus(ctx context.Context) (map[JobStatus]int64, error) {
	var rows []struct {
		Status JobStatus
		N      int64
	}
	if err := r.db.WithContext(ctx).Model(&Job{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[JobStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.N
	}
	return out, nil
}
