package models

type Board struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"not null" json:"name"`
	Slug        string `gorm:"uniqueIndex;not null" json:"slug"`
	Description string `json:"description"`
}

// BoardShare grants read access to a board through an opaque token.
type BoardShare struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	BoardID uint   `gorm:"index;not null" json:"board_id"`
	Token   string `gorm:"uniqueIndex;not null" json:"token"`
}
