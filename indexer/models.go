package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRecord is the persisted form of a committed event.
type EventRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   uint64    `gorm:"uniqueIndex"`
	Type       string    `gorm:"size:64;index"`
	EscrowID   *uint64   `gorm:"index"`
	Account    string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time
}

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{})
}
