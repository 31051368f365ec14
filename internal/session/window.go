package session

// DefaultContextTurns is the number of user/model pairs sent upstream.
const DefaultContextTurns = 6

// Preamble is the fixed instruction/acknowledgment pair that opens every
// upstream conversation.
type Preamble struct {
	Instruction string
	Ack         string
}

// BuildContext returns the preamble followed by the most recent 2*pairs
// history entries, oldest first. history is not modified.
func BuildContext(p Preamble, history []Turn, pairs int) []Turn {
	if pairs < 0 {
		pairs = 0
	}
	start := len(history) - 2*pairs
	if start < 0 {
		start = 0
	}

	out := make([]Turn, 0, 2+len(history)-start)
	out = append(out,
		Turn{Role: RoleUser, Text: p.Instruction},
		Turn{Role: RoleModel, Text: p.Ack},
	)
	return append(out, history[start:]...)
}
