package domain

import "time"

// Idempotency represents a recorded result of a previously processed request,
// keyed by (user_id, run_id, key). It enables safe retries for POST
// operations by returning the originally produced step without re-executing
// side effects such as content generation or counter increments.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_run_key,priority:1"`
	RunID     string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_run_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_run_key,priority:3"`
	StepID    string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
