package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/session"
)

// Pipeline states. The transition table only moves forward; every task starts
// over in stateReceived.
const (
	stateReceived    = "received"
	stateWelcoming   = "welcoming"
	stateLimited     = "limited"
	stateGenerating  = "generating"
	stateAnswered    = "answered"
	stateApologizing = "apologizing"
)

const (
	triggerNewSession       = "newSession"
	triggerQuotaExceeded    = "quotaExceeded"
	triggerAccepted         = "accepted"
	triggerGenerated        = "generated"
	triggerGenerationFailed = "generationFailed"
	triggerStoreFailed      = "storeFailed"
)

// Profiles resolves a user's display name on the chat platform.
type Profiles interface {
	DisplayName(ctx context.Context, userID string) (string, error)
}

type Options struct {
	Limit        int
	ContextTurns int
	Preamble     session.Preamble

	WelcomeText  string
	LimitText    string
	ApologyText  string
	FallbackName string

	// Location decides the calendar day used for the daily reset.
	Location *time.Location
	// AITimeout bounds a single provider call; zero means no bound.
	AITimeout time.Duration
}

type Pipeline struct {
	store    session.Store
	provider ai.Provider
	sender   Sender
	profiles Profiles
	journal  Journal
	opts     Options
	now      func() time.Time
}

type PipelineOption func(*Pipeline)

func WithProfiles(p Profiles) PipelineOption {
	return func(pl *Pipeline) { pl.profiles = p }
}

func WithJournal(j Journal) PipelineOption {
	return func(pl *Pipeline) {
		if j != nil {
			pl.journal = j
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(pl *Pipeline) { pl.now = now }
}

func NewPipeline(store session.Store, provider ai.Provider, sender Sender, opts Options, options ...PipelineOption) *Pipeline {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	p := &Pipeline{
		store:    store,
		provider: provider,
		sender:   sender,
		journal:  NopJournal{},
		opts:     opts,
		now:      time.Now,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// run is the per-task scratch state shared by the state machine actions.
type run struct {
	task    Task
	today   string
	sess    session.Session
	created bool

	answer  string
	reply   string
	outcome Outcome
	cause   error
	next    string
}

// Handle processes t and records it in the journal. Failures are logged only:
// the webhook was acknowledged long before this runs.
func (p *Pipeline) Handle(ctx context.Context, t Task) {
	start := time.Now()
	if err := p.journal.Started(ctx, t.JobID); err != nil {
		slog.Warn("journal start failed", "job_id", t.JobID, "error", err)
	}

	outcome, err := p.Process(ctx, t)

	if jerr := p.journal.Finished(ctx, t.JobID, outcome, err); jerr != nil {
		slog.Warn("journal finish failed", "job_id", t.JobID, "error", jerr)
	}
	if err != nil {
		slog.Error("task failed", "job_id", t.JobID, "user_id", t.UserID, "outcome", outcome, "cost", time.Since(start), "error", err)
		return
	}
	slog.Info("task done", "job_id", t.JobID, "user_id", t.UserID, "outcome", outcome, "cost", time.Since(start))
}

// Process runs one task through the decision list and dispatches the reply.
// Same-user tasks are serialized for the whole check, AI call and commit.
func (p *Pipeline) Process(ctx context.Context, t Task) (Outcome, error) {
	unlock, err := p.store.Lock(ctx, t.UserID)
	if err != nil {
		return "", fmt.Errorf("lock session %s: %w", t.UserID, err)
	}
	defer unlock()

	received := t.ReceivedAt
	if received.IsZero() {
		received = p.now()
	}
	r := &run{task: t, today: session.DayOf(received, p.opts.Location)}

	r.sess, r.created, err = p.store.GetOrCreate(ctx, t.UserID, r.today)
	if err != nil {
		r.cause = fmt.Errorf("load session: %w", err)
		r.reply, r.outcome = p.opts.ApologyText, OutcomeApology
	} else if err := p.decide(ctx, r); err != nil {
		return "", err
	}

	derr := p.sender.Dispatch(ctx, t.ReplyToken, r.reply)
	if derr != nil {
		slog.Warn("reply dispatch failed", "job_id", t.JobID, "user_id", t.UserID, "outcome", r.outcome, "error", derr)
	}

	if r.outcome == OutcomeWelcome {
		p.resolveName(ctx, t.UserID)
	}
	return r.outcome, errors.Join(r.cause, derr)
}

func (p *Pipeline) decide(ctx context.Context, r *run) error {
	m := p.machine(r)

	trigger := triggerAccepted
	switch {
	case r.created:
		trigger = triggerNewSession
	case !session.Allow(r.sess, p.opts.Limit):
		trigger = triggerQuotaExceeded
	}

	// Actions never fire from inside OnEntry; they leave the follow-up
	// trigger in r.next and this loop fires it.
	for trigger != "" {
		if err := m.FireCtx(ctx, trigger); err != nil {
			return fmt.Errorf("pipeline %s on %s: %w", trigger, m.MustState(), err)
		}
		trigger, r.next = r.next, ""
	}
	return nil
}

func (p *Pipeline) machine(r *run) *stateless.StateMachine {
	m := stateless.NewStateMachine(stateReceived)

	m.Configure(stateReceived).
		Permit(triggerNewSession, stateWelcoming).
		Permit(triggerQuotaExceeded, stateLimited).
		Permit(triggerAccepted, stateGenerating)

	m.Configure(stateWelcoming).
		OnEntry(func(_ context.Context, _ ...any) error {
			r.reply, r.outcome = p.opts.WelcomeText, OutcomeWelcome
			return nil
		})

	m.Configure(stateLimited).
		OnEntry(func(_ context.Context, _ ...any) error {
			r.reply, r.outcome = p.opts.LimitText, OutcomeLimited
			return nil
		})

	m.Configure(stateGenerating).
		Permit(triggerGenerated, stateAnswered).
		Permit(triggerGenerationFailed, stateApologizing).
		OnEntry(func(ctx context.Context, _ ...any) error {
			answer, err := p.generate(ctx, r)
			if err != nil {
				r.cause = err
				r.next = triggerGenerationFailed
				return nil
			}
			r.answer = answer
			r.next = triggerGenerated
			return nil
		})

	m.Configure(stateAnswered).
		Permit(triggerStoreFailed, stateApologizing).
		OnEntry(func(ctx context.Context, _ ...any) error {
			if err := p.commit(ctx, r); err != nil {
				r.cause = err
				r.next = triggerStoreFailed
				return nil
			}
			r.reply, r.outcome = r.answer, OutcomeAnswered
			return nil
		})

	m.Configure(stateApologizing).
		OnEntry(func(_ context.Context, _ ...any) error {
			r.reply, r.outcome = p.opts.ApologyText, OutcomeApology
			return nil
		})

	return m
}

// generate calls the provider with the bounded context window followed by the
// new input.
func (p *Pipeline) generate(ctx context.Context, r *run) (string, error) {
	window := session.BuildContext(p.opts.Preamble, r.sess.History, p.opts.ContextTurns)
	msgs := make([]ai.Message, 0, len(window)+1)
	for _, turn := range window {
		msgs = append(msgs, ai.Message{Role: providerRole(turn.Role), Content: turn.Text})
	}
	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: r.task.Text})

	if p.opts.AITimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.AITimeout)
		defer cancel()
	}

	start := time.Now()
	answer, err := p.provider.Chat(ctx, msgs)
	if err == nil && strings.TrimSpace(answer) == "" {
		err = ai.ErrEmptyReply
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAICall, err)
	}
	slog.Debug("ai call done", "job_id", r.task.JobID, "user_id", r.task.UserID, "messages", len(msgs), "cost", time.Since(start))
	return answer, nil
}

// commit records a successful turn.
func (p *Pipeline) commit(ctx context.Context, r *run) error {
	userID := r.task.UserID
	if err := p.store.RecordTurn(ctx, userID, session.RoleUser, r.task.Text); err != nil {
		return fmt.Errorf("record user turn: %w", err)
	}
	if err := p.store.RecordTurn(ctx, userID, session.RoleModel, r.answer); err != nil {
		return fmt.Errorf("record model turn: %w", err)
	}
	allowed, err := p.store.IncrementAndCheckQuota(ctx, userID, p.opts.Limit)
	if err != nil {
		return fmt.Errorf("increment quota: %w", err)
	}
	if !allowed {
		slog.Warn("quota already exhausted at commit", "user_id", userID)
	}
	if err := p.store.Touch(ctx, userID, r.today); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	if err := p.journal.TurnCommitted(ctx, r.task, r.answer); err != nil {
		slog.Warn("journal turn failed", "job_id", r.task.JobID, "error", err)
	}
	return nil
}

// resolveName caches the user's display name. It never affects the reply.
func (p *Pipeline) resolveName(ctx context.Context, userID string) {
	if p.profiles == nil {
		return
	}
	name, err := p.profiles.DisplayName(ctx, userID)
	if err != nil || strings.TrimSpace(name) == "" {
		if err != nil {
			slog.Info("profile lookup failed, using fallback name", "user_id", userID, "error", err)
		}
		name = p.opts.FallbackName
	}
	if name == "" {
		return
	}
	if err := p.store.SetDisplayName(ctx, userID, name); err != nil {
		slog.Warn("set display name failed", "user_id", userID, "error", err)
	}
}

func providerRole(r session.Role) string {
	if r == session.RoleModel {
		return ai.RoleAssistant
	}
	return ai.RoleUser
}
