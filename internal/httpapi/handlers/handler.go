package handlers

import (
	"context"

	"github.com/suPer8Hu/chat-relay/internal/chat"
	"github.com/suPer8Hu/chat-relay/internal/config"
	"github.com/suPer8Hu/chat-relay/internal/relay"
	"github.com/suPer8Hu/chat-relay/internal/session"
)

// Acceptor verifies a raw webhook body and queues its events.
type Acceptor interface {
	Accept(ctx context.Context, body []byte, sig string) (relay.Summary, error)
}

type Handler struct {
	Cfg      config.Config
	Ingress  Acceptor
	Sessions session.Store
	// Jobs is nil when the journal is disabled.
	Jobs *chat.Repo
}

func NewHandler(cfg config.Config, ingress Acceptor, sessions session.Store, jobs *chat.Repo) *Handler {
	return &Handler{Cfg: cfg, Ingress: ingress, Sessions: sessions, Jobs: jobs}
}
