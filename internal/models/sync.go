package models

import "time"

// ProcessedEvent records an event id once its mutation has committed.
// It is written in the same transaction as the mutation.
type ProcessedEvent struct {
	ID        string `gorm:"primaryKey"`
	Type      string
	Source    string
	AppliedAt time.Time `gorm:"index"`
}

// RelayFailure counts failed deliveries of one relay unit.
type RelayFailure struct {
	UnitKey      string `gorm:"primaryKey"`
	Attempts     int    `gorm:"not null;default:0"`
	LastError    string
	DeadLettered bool `gorm:"default:false"`
	UpdatedAt    time.Time
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&Board{},
		&Card{},
		&Comment{},
		&BoardShare{},
		&ProcessedEvent{},
		&RelayFailure{},
	}
}
