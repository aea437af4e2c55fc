package events

import (
	"time"

	"github.com/google/uuid"
)

// Type 事件类型
type Type string

const (
	WinnerDetermined  Type = "winner_determined"
	QuestionSubmitted Type = "question_submitted"
	VoteCast          Type = "vote_cast"
	SlotClosed        Type = "slot_closed"
	QuestionRemoved   Type = "question_removed"
)

// Event 核心逻辑在事务提交后发出的领域事件
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	SlotKey    string    `json:"slot_key,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	QuestionID string    `json:"question_id,omitempty"`
	OptionID   uint      `json:"option_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func newEvent(t Type, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: at}
}

// NewWinnerDetermined 获胜者产生
func NewWinnerDetermined(slotKey, userID string, at time.Time) Event {
	e := newEvent(WinnerDetermined, at)
	e.SlotKey = slotKey
	e.UserID = userID
	return e
}

// NewQuestionSubmitted 问题提交
func NewQuestionSubmitted(slotKey, questionID, authorID string, at time.Time) Event {
	e := newEvent(QuestionSubmitted, at)
	e.SlotKey = slotKey
	e.QuestionID = questionID
	e.UserID = authorID
	return e
}

// NewVoteCast 投票成功
func NewVoteCast(questionID string, optionID uint, at time.Time) Event {
	e := newEvent(VoteCast, at)
	e.QuestionID = questionID
	e.OptionID = optionID
	return e
}

// NewSlotClosed 时段关闭
func NewSlotClosed(slotKey, status string, at time.Time) Event {
	e := newEvent(SlotClosed, at)
	e.SlotKey = slotKey
	e.Status = status
	return e
}

// NewQuestionRemoved 问题被管理员移除
func NewQuestionRemoved(slotKey, questionID, moderator string, at time.Time) Event {
	e := newEvent(QuestionRemoved, at)
	e.SlotKey = slotKey
	e.QuestionID = questionID
	e.UserID = moderator
	return e
}

// Emitter 发送事件，实现不得阻塞调用方
type Emitter interface {
	Emit(e Event)
}

// Nop 丢弃全部事件
type Nop struct{}

// Emit 不做任何处理
func (Nop) Emit(Event) {}
