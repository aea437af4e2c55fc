package models

import (
	"time"
)

// SlotStatus is the lifecycle state of a slot. It only moves forward:
// pending -> open -> closed_with_winner | closed_no_winner
type SlotStatus string

const (
	SlotPending          SlotStatus = "pending"
	SlotOpen             SlotStatus = "open"
	SlotClosedNoWinner   SlotStatus = "closed_no_winner"
	SlotClosedWithWinner SlotStatus = "closed_with_winner"
)

// Closed reports whether the status is terminal
func (s SlotStatus) Closed() bool {
	return s == SlotClosedNoWinner || s == SlotClosedWithWinner
}

// Slot is one daily claim window, keyed by date and marker (e.g. 2024-06-01_0900)
type Slot struct {
	SlotKey      string     `gorm:"primaryKey;size:32" json:"slot_key"`
	Date         string     `gorm:"size:10;not null;index" json:"date"`
	Marker       string     `gorm:"size:5;not null" json:"marker"`
	Status       SlotStatus `gorm:"size:24;not null" json:"status"`
	WinnerID     *string    `gorm:"size:64" json:"winner_id,omitempty"`
	AttemptCount int64      `gorm:"not null;default:0" json:"attempt_count"` // never decreases
	OpenAt       time.Time  `gorm:"not null" json:"open_at"`
	CloseAt      time.Time  `gorm:"not null" json:"close_at"`
	WonAt        *time.Time `json:"won_at,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasWinner reports whether a winner has been recorded
func (s *Slot) HasWinner() bool {
	return s.WinnerID != nil && *s.WinnerID != ""
}

// AttemptOutcome is the result of a single claim attempt
type AttemptOutcome string

const (
	AttemptWon  AttemptOutcome = "won"
	AttemptLost AttemptOutcome = "lost"
)

// Attempt records one user's claim on a slot. A user gets at most one row per slot.
type Attempt struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	SlotKey     string         `gorm:"size:32;not null;uniqueIndex:idx_attempt_slot_user,priority:1" json:"slot_key"`
	UserID      string         `gorm:"size:64;not null;uniqueIndex:idx_attempt_slot_user,priority:2" json:"user_id"`
	Outcome     AttemptOutcome `gorm:"size:8;not null" json:"outcome"`
	AttemptedAt time.Time      `gorm:"not null" json:"attempted_at"`
}
