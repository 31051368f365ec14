package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	// replyTokenTTL outlives the platform's own reply token expiry.
	replyTokenTTL   = 10 * time.Minute
	dispatchTimeout = 10 * time.Second
)

// Replier sends messages to the chat platform's reply channel.
type Replier interface {
	Reply(ctx context.Context, replyToken string, texts ...string) error
}

// Sender delivers a reply for a task.
type Sender interface {
	Dispatch(ctx context.Context, replyToken string, texts ...string) error
}

// Dispatcher sends each reply at most once per reply token. Failed sends are
// not retried: the token is consumed either way.
type Dispatcher struct {
	replier Replier
	claims  Claimer
	timeout time.Duration
}

func NewDispatcher(replier Replier, claims Claimer) *Dispatcher {
	if claims == nil {
		claims = NewMemoryClaims()
	}
	return &Dispatcher{replier: replier, claims: claims, timeout: dispatchTimeout}
}

func (d *Dispatcher) Dispatch(ctx context.Context, replyToken string, texts ...string) error {
	start := time.Now()

	ok, err := d.claims.Claim(ctx, "reply:"+replyToken, replyTokenTTL)
	if err != nil {
		return fmt.Errorf("%w: claim token: %w", ErrDispatch, err)
	}
	if !ok {
		return ErrTokenUsed
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.replier.Reply(sendCtx, replyToken, texts...); err != nil {
		return fmt.Errorf("%w: %w", ErrDispatch, err)
	}
	slog.Debug("reply sent", "reply_token", replyToken, "messages", len(texts), "cost", time.Since(start))
	return nil
}
