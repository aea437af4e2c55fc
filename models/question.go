package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Question is the single question submitted by a slot's winner
type Question struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	SlotKey      string     `gorm:"size:32;not null;uniqueIndex" json:"slot_key"` // one question per slot
	AuthorID     string     `gorm:"size:64;not null" json:"author_id"`
	Text         string     `gorm:"size:1024;not null" json:"text"`
	Options      []Option   `gorm:"foreignKey:QuestionID" json:"options"`
	CreatedAt    time.Time  `json:"created_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"` // moderation soft delete, votes are kept
	DeletedBy    string     `gorm:"size:64" json:"deleted_by,omitempty"`
	DeleteReason string     `gorm:"size:255" json:"delete_reason,omitempty"`
}

// BeforeCreate assigns a UUID when none was set
func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}
	return nil
}

// Removed reports whether the question was soft deleted by a moderator
func (q *Question) Removed() bool {
	return q.DeletedAt != nil
}

// TotalVotes is derived from the option counters and never stored
func (q *Question) TotalVotes() int64 {
	var total int64
	for _, opt := range q.Options {
		total += opt.VoteCount
	}
	return total
}

// Option is one answer choice of a question, ordered by Position
type Option struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	QuestionID string `gorm:"size:36;not null;uniqueIndex:idx_option_position,priority:1" json:"question_id"`
	Position   int    `gorm:"not null;uniqueIndex:idx_option_position,priority:2" json:"position"`
	Label      string `gorm:"size:255;not null" json:"label"`
	VoteCount  int64  `gorm:"not null;default:0" json:"vote_count"`
}

// Vote is final: one per (question, voter), never changed or retracted
type Vote struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	QuestionID string    `gorm:"size:36;not null;uniqueIndex:idx_vote_question_voter,priority:1" json:"question_id"`
	VoterID    string    `gorm:"size:64;not null;uniqueIndex:idx_vote_question_voter,priority:2" json:"voter_id"`
	OptionID   uint      `gorm:"not null;index" json:"option_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// All lists every model for migrations
func All() []interface{} {
	return []interface{}{&Slot{}, &Attempt{}, &Question{}, &Option{}, &Vote{}}
}
