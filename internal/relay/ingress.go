package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/suPer8Hu/chat-relay/internal/common"
	"github.com/suPer8Hu/chat-relay/internal/line"
	"github.com/suPer8Hu/chat-relay/internal/signature"
)

// eventTTL covers the platform's redelivery window for unacknowledged events.
const eventTTL = 24 * time.Hour

// Summary counts what happened to the events of one webhook call.
type Summary struct {
	Accepted   int `json:"accepted"`
	Ignored    int `json:"ignored"`
	Duplicates int `json:"duplicates"`
	Dropped    int `json:"dropped"`
}

// Ingress authenticates webhook calls and hands text events to the queue.
// It never waits for the AI backend.
type Ingress struct {
	verifier *signature.Verifier
	queue    Enqueuer
	seen     Claimer
	journal  Journal
	now      func() time.Time
}

func NewIngress(verifier *signature.Verifier, queue Enqueuer, seen Claimer, journal Journal) *Ingress {
	if seen == nil {
		seen = NewMemoryClaims()
	}
	if journal == nil {
		journal = NopJournal{}
	}
	return &Ingress{verifier: verifier, queue: queue, seen: seen, journal: journal, now: time.Now}
}

// Accept verifies body against sig and enqueues its text events. Only
// signature errors are returned; everything after authentication is absorbed
// and logged so the caller can acknowledge the webhook.
func (in *Ingress) Accept(ctx context.Context, body []byte, sig string) (Summary, error) {
	var sum Summary

	start := time.Now()
	if err := in.verifier.Verify(body, sig); err != nil {
		return sum, err
	}
	verifyCost := time.Since(start)

	payload, err := line.ParsePayload(body)
	if err != nil {
		slog.Warn("webhook payload rejected", "error", err)
		return sum, nil
	}

	for _, ev := range payload.Events {
		if !ev.IsText() {
			sum.Ignored++
			continue
		}
		if ev.WebhookEventID != "" {
			fresh, err := in.seen.Claim(ctx, "event:"+ev.WebhookEventID, eventTTL)
			if err != nil {
				slog.Warn("event de-duplication unavailable", "event_id", ev.WebhookEventID, "error", err)
			} else if !fresh {
				slog.Info("duplicate event skipped", "event_id", ev.WebhookEventID, "redelivery", ev.IsRedelivery())
				sum.Duplicates++
				continue
			}
		}

		if in.enqueue(ctx, ev) {
			sum.Accepted++
		} else {
			sum.Dropped++
		}
	}

	slog.Debug("webhook accepted", "events", len(payload.Events), "accepted", sum.Accepted, "verify", verifyCost, "cost", time.Since(start))
	return sum, nil
}

func (in *Ingress) enqueue(ctx context.Context, ev line.Event) bool {
	jobID, err := common.NewULID()
	if err != nil {
		slog.Error("job id generation failed", "error", err)
		return false
	}

	received := in.now()
	if ev.Timestamp > 0 {
		received = time.UnixMilli(ev.Timestamp)
	}
	t := Task{
		JobID:      jobID,
		EventID:    ev.WebhookEventID,
		UserID:     ev.Source.UserID,
		ReplyToken: ev.ReplyToken,
		Text:       ev.Message.Text,
		ReceivedAt: received,
	}

	if err := in.journal.Queued(ctx, t); err != nil {
		slog.Warn("journal queue failed", "job_id", jobID, "error", err)
	}
	if err := in.queue.Enqueue(ctx, t); err != nil {
		slog.Error("task dropped", "job_id", jobID, "user_id", t.UserID, "error", err)
		if jerr := in.journal.Finished(ctx, jobID, "", err); jerr != nil {
			slog.Warn("journal finish failed", "job_id", jobID, "error", jerr)
		}
		return false
	}
	return true
}
