// Package session holds per-user conversation state: the turn history sent to
// the AI backend, the daily request counter and the date that drives the lazy
// daily reset.
package session

import (
	"context"
	"errors"
	"time"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// DayLayout formats the calendar date a session was last active on.
const DayLayout = "2006-01-02"

var ErrNotFound = errors.New("session: not found")

// Turn is one history entry.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

type Session struct {
	UserID           string    `json:"user_id"`
	History          []Turn    `json:"history"`
	RequestCount     int       `json:"request_count"`
	LastActivityDate string    `json:"last_activity_date"`
	DisplayName      string    `json:"display_name,omitempty"`
	LastSeen         time.Time `json:"last_seen"`
}

// Clone returns a copy that shares no memory with s.
func (s Session) Clone() Session {
	out := s
	if s.History != nil {
		out.History = append([]Turn(nil), s.History...)
	}
	return out
}

// DayOf returns the calendar date of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DayLayout)
}

// Expired reports whether today is a later calendar day than the session's
// last activity. Dates in DayLayout order lexically, so an event stamped with
// an earlier day than the stored one belongs to the current session.
func Expired(sess Session, today string) bool {
	return today > sess.LastActivityDate
}

type Stats struct {
	Sessions int `json:"sessions"`
	Turns    int `json:"turns"`
}

// Store is the process-wide mapping of user id to conversation state.
// Implementations must make every method safe for concurrent use.
type Store interface {
	// GetOrCreate returns the user's session for today. A missing session, or
	// one last active on an earlier day, is replaced by an empty one in the
	// same critical section; created reports that case. A today older than
	// the stored date never resets.
	GetOrCreate(ctx context.Context, userID, today string) (sess Session, created bool, err error)

	// RecordTurn appends one entry to the user's history.
	RecordTurn(ctx context.Context, userID string, role Role, text string) error

	// IncrementAndCheckQuota increments the request counter if it is below
	// limit and reports whether it did.
	IncrementAndCheckQuota(ctx context.Context, userID string, limit int) (bool, error)

	// Touch records today as the user's last activity date. The date only
	// moves forward.
	Touch(ctx context.Context, userID, today string) error

	SetDisplayName(ctx context.Context, userID, name string) error

	// Lock serializes work on a single user. The returned func releases it.
	Lock(ctx context.Context, userID string) (unlock func(), err error)

	Evict(ctx context.Context, userID string) (bool, error)

	// EvictIdle removes sessions not seen for longer than idle.
	EvictIdle(ctx context.Context, idle time.Duration) (int, error)

	Stats(ctx context.Context) (Stats, error)
}
