package models

import "time"

// Column is the lifecycle state of a Card. Any column may move to any other.
type Column string

const (
	ColumnIdeas      Column = "ideas"
	ColumnTodo       Column = "todo"
	ColumnInProgress Column = "inprogress"
	ColumnCompleted  Column = "completed"
)

// DefaultColumn is where a card lands when no column is given.
const DefaultColumn = ColumnTodo

var columns = []Column{ColumnIdeas, ColumnTodo, ColumnInProgress, ColumnCompleted}

// Columns returns the known columns in board order.
func Columns() []Column {
	out := make([]Column, len(columns))
	copy(out, columns)
	return out
}

func (c Column) Valid() bool {
	for _, known := range columns {
		if c == known {
			return true
		}
	}
	return false
}

type Card struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	BoardID     uint       `gorm:"index;not null" json:"board_id"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `json:"description"`
	Column      Column     `gorm:"column:column;not null;default:todo" json:"column"`
	Agent       *string    `json:"agent"`
	Tokens      int64      `gorm:"not null;default:0" json:"tokens"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
	Tags        string     `json:"tags"`
	// Timestamps come from the event that produced the change, so gorm must not stamp them.
	CreatedAt time.Time `gorm:"autoCreateTime:false" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false;index" json:"updated_at"`

	CalendarEventID string `json:"-"` // Google Calendar event mirroring EndAt
}

// Comment is append-only. CardID is not a foreign key: comments arriving
// through sync may reference a card that no longer exists.
type Comment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CardID    uint      `gorm:"index;not null" json:"card_id"`
	Author    string    `gorm:"not null" json:"author"`
	Content   string    `gorm:"not null" json:"content"`
	Source    string    `gorm:"not null;default:local" json:"source"`
	CreatedAt time.Time `gorm:"autoCreateTime:false" json:"created_at"`
}

const (
	CommentSourceLocal = "local"
	CommentSourceSync  = "sync"
	CommentSourceWeb   = "web"
)
