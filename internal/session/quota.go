package session

// DefaultDailyLimit is the number of AI round trips a user gets per day.
const DefaultDailyLimit = 20

// Allow reports whether s may make another AI call today.
func Allow(s Session, limit int) bool {
	return s.RequestCount < limit
}
