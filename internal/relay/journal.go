package relay

import "context"

// Journal is an audit trail of tasks and committed turns. It is written to but
// never read back by the pipeline, so its failures are logged and ignored.
type Journal interface {
	Queued(ctx context.Context, t Task) error
	Started(ctx context.Context, jobID string) error
	Finished(ctx context.Context, jobID string, outcome Outcome, cause error) error
	TurnCommitted(ctx context.Context, t Task, reply string) error
}

// NopJournal discards everything.
type NopJournal struct{}

func (NopJournal) Queued(context.Context, Task) error                     { return nil }
func (NopJournal) Started(context.Context, string) error                  { return nil }
func (NopJournal) Finished(context.Context, string, Outcome, error) error { return nil }
func (NopJournal) TurnCommitted(context.Context, Task, string) error      { return nil }
