package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/chxlky/boardsync/internal/models"
)

type CardCreateData struct {
	BoardID     uint          `json:"board_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Column      models.Column `json:"column"`
	Agent       *string       `json:"agent"`
	Tokens      int64         `json:"tokens"`
	StartAt     *time.Time    `json:"start_at"`
	EndAt       *time.Time    `json:"end_at"`
	Tags        string        `json:"tags"`
}

// CardUpdateData is a field-level patch: nil fields keep their stored value.
type CardUpdateData struct {
	ID     uint           `json:"id"`
	Column *models.Column `json:"column"`
	Agent  *string        `json:"agent"`
	Tokens *int64         `json:"tokens"`
	EndAt  *time.Time     `json:"end_at"`
	Tags   *string        `json:"tags"`
}

// Empty reports whether the patch touches no field.
func (d CardUpdateData) Empty() bool {
	return d.Column == nil && d.Agent == nil && d.Tokens == nil && d.EndAt == nil && d.Tags == nil
}

type CardCommentData struct {
	CardID  uint   `json:"card_id"`
	Author  string `json:"author"`
	Content string `json:"content"`
}

type BoardShareData struct {
	BoardID uint `json:"board_id"`
}

func malformed(t Type, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, t, fmt.Sprintf(format, args...))
}

// CardCreate decodes and validates the payload of a card:create event.
// An empty column defaults to models.DefaultColumn.
func (e Event) CardCreate() (CardCreateData, error) {
	var d CardCreateData
	if err := e.decodeData(&d); err != nil {
		return d, err
	}
	if d.BoardID == 0 {
		return d, malformed(e.Type, "board_id is required")
	}
	if strings.TrimSpace(d.Title) == "" {
		return d, malformed(e.Type, "title is required")
	}
	if d.Column == "" {
		d.Column = models.DefaultColumn
	}
	if !d.Column.Valid() {
		return d, malformed(e.Type, "unknown column %q", d.Column)
	}
	if d.Tokens < 0 {
		return d, malformed(e.Type, "tokens must not be negative")
	}
	return d, nil
}

func (e Event) CardUpdate() (CardUpdateData, error) {
	var d CardUpdateData
	if err := e.decodeData(&d); err != nil {
		return d, err
	}
	if d.ID == 0 {
		return d, malformed(e.Type, "id is required")
	}
	if d.Column != nil && !d.Column.Valid() {
		return d, malformed(e.Type, "unknown column %q", *d.Column)
	}
	if d.Tokens != nil && *d.Tokens < 0 {
		return d, malformed(e.Type, "tokens must not be negative")
	}
	return d, nil
}

func (e Event) CardComment() (CardCommentData, error) {
	var d CardCommentData
	if err := e.decodeData(&d); err != nil {
		return d, err
	}
	if d.CardID == 0 {
		return d, malformed(e.Type, "card_id is required")
	}
	if strings.TrimSpace(d.Author) == "" || strings.TrimSpace(d.Content) == "" {
		return d, malformed(e.Type, "author and content are required")
	}
	return d, nil
}

func (e Event) BoardShare() (BoardShareData, error) {
	var d BoardShareData
	if err := e.decodeData(&d); err != nil {
		return d, err
	}
	if d.BoardID == 0 {
		return d, malformed(e.Type, "board_id is required")
	}
	return d, nil
}
