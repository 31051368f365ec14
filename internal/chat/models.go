package chat

import "time"

// Message is one committed turn. Rows are written in user/model pairs that
// mirror the in-memory session history.
type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID     string    `gorm:"type:varchar(26);index;not null" json:"job_id"`
	UserID    string    `gorm:"type:varchar(64);index:idx_relay_msg_user_id,priority:1;not null" json:"user_id"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index:idx_relay_msg_user_id,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "relay_messages" }

// Models lists every table the journal owns, for AutoMigrate.
func Models() []any {
	return []any{&Job{}, &Message{}}
}
