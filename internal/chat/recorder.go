package chat

import (
	"context"
	"time"

	"github.com/suPer8Hu/chat-relay/internal/relay"
	"github.com/suPer8Hu/chat-relay/internal/session"
)

// Recorder writes the relay journal through a Repo.
type Recorder struct {
	repo *Repo
	now  func() time.Time
}

var _ relay.Journal = (*Recorder)(nil)

func NewRecorder(repo *Repo) *Recorder {
	return &Recorder{repo: repo, now: time.Now}
}

func (r *Recorder) Queued(ctx context.Context, t relay.Task) error {
	return r.repo.CreateJob(ctx, &Job{
		ID:         t.JobID,
		EventID:    t.EventID,
		UserID:     t.UserID,
		Prompt:     t.Text,
		Status:     JobQueued,
		ReceivedAt: t.ReceivedAt,
	})
}

func (r *Recorder) Started(ctx context.Context, jobID string) error {
	return r.repo.UpdateJobStatusRunning(ctx, jobID, r.now())
}

func (r *Recorder) Finished(ctx context.Context, jobID string, outcome relay.Outcome, cause error) error {
	if cause != nil {
		return r.repo.MarkJobFailed(ctx, jobID, string(outcome), cause.Error(), r.now())
	}
	return r.repo.MarkJobSucceeded(ctx, jobID, string(outcome), r.now())
}

func (r *Recorder) TurnCommitted(ctx context.Context, t relay.Task, reply string) error {
	now := r.now()
	return r.repo.InsertMessages(ctx, []Message{
		{JobID: t.JobID, UserID: t.UserID, Role: string(session.RoleUser), Content: t.Text, CreatedAt: now},
		{JobID: t.JobID, UserID: t.UserID, Role: string(session.RoleModel), Content: reply, CreatedAt: now},
	})
}
