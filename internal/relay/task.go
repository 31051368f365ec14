// Package relay is the asynchronous reply pipeline: it accepts authenticated
// webhook events, queues them, runs each through the session state machine and
// delivers the reply with the event's single-use reply token.
package relay

import (
	"errors"
	"time"
)

var (
	ErrAICall      = errors.New("relay: ai call failed")
	ErrDispatch    = errors.New("relay: reply dispatch failed")
	ErrTokenUsed   = errors.New("relay: reply token already used")
	ErrQueueFull   = errors.New("relay: work queue full")
	ErrQueueClosed = errors.New("relay: work queue closed")
)

// Task is one inbound text message waiting for a reply.
type Task struct {
	JobID      string    `json:"job_id"`
	EventID    string    `json:"event_id,omitempty"`
	UserID     string    `json:"user_id"`
	ReplyToken string    `json:"reply_token"`
	Text       string    `json:"text"`
	ReceivedAt time.Time `json:"received_at"`
}

// Outcome is the terminal branch a task took through the pipeline.
type Outcome string

const (
	OutcomeWelcome  Outcome = "welcome"
	OutcomeLimited  Outcome = "limited"
	OutcomeAnswered Outcome = "answered"
	OutcomeApology  Outcome = "apology"
)
