// Package line is a minimal client for the LINE Messaging API: webhook payload
// decoding, reply sending and profile lookup.
package line

import (
	"encoding/json"
	"fmt"
)

const (
	EventTypeMessage = "message"
	MessageTypeText  = "text"
)

type Payload struct {
	Destination string  `json:"destination"`
	Events      []Event `json:"events"`
}

type Event struct {
	Type            string           `json:"type"`
	WebhookEventID  string           `json:"webhookEventId"`
	ReplyToken      string           `json:"replyToken"`
	Timestamp       int64            `json:"timestamp"`
	Source          Source           `json:"source"`
	Message         *EventMessage    `json:"message,omitempty"`
	DeliveryContext *DeliveryContext `json:"deliveryContext,omitempty"`
}

type Source struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	GroupID string `json:"groupId,omitempty"`
	RoomID  string `json:"roomId,omitempty"`
}

type EventMessage struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type DeliveryContext struct {
	IsRedelivery bool `json:"isRedelivery"`
}

// IsText reports whether e is a text message the relay should answer.
func (e Event) IsText() bool {
	return e.Type == EventTypeMessage &&
		e.Message != nil &&
		e.Message.Type == MessageTypeText &&
		e.ReplyToken != "" &&
		e.Source.UserID != ""
}

// IsRedelivery reports whether the platform is resending an event it could not deliver.
func (e Event) IsRedelivery() bool {
	return e.DeliveryContext != nil && e.DeliveryContext.IsRedelivery
}

// ParsePayload decodes an already authenticated webhook body.
func ParsePayload(body []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("line: decode webhook: %w", err)
	}
	return &p, nil
}
