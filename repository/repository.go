package repository

import (
	"context"
	"errors"
	"time"

	"yourturn-backend/models"
	"yourturn-backend/schedule"
)

var (
	ErrSlotNotOpen      = errors.New("时段未开放")
	ErrSlotNotFound     = errors.New("时段不存在")
	ErrAttemptNotFound  = errors.New("抢答记录不存在")
	ErrDuplicateAttempt = errors.New("重复抢答")
	ErrNotWinner        = errors.New("不是该时段的获胜者")
	ErrQuestionExists   = errors.New("该时段已提交问题")
	ErrQuestionNotFound = errors.New("问题不存在")
	ErrQuestionRemoved  = errors.New("问题已被移除")
	ErrAlreadyVoted     = errors.New("已经投过票")
	ErrVoteNotFound     = errors.New("投票记录不存在")
	ErrUnknownOption    = errors.New("选项不属于该问题")
)

// AttemptResult 一次抢答的结果
type AttemptResult struct {
	Attempt      models.Attempt
	Won          bool
	Duplicate    bool // 之前已有记录，Attempt为原记录
	AttemptCount int64
}

// CloseResult 关闭时段的结果
type CloseResult struct {
	Slot    models.Slot
	Changed bool // 本次调用是否完成了状态迁移
}

// SlotRepository 时段与抢答记录的数据访问接口
type SlotRepository interface {
	// RecordAttempt 在一个事务内记录抢答并通过条件更新决出唯一获胜者
	RecordAttempt(ctx context.Context, slot schedule.Slot, userID string, at time.Time) (*AttemptResult, error)
	// CloseSlot 幂等地将时段置为关闭，不存在的时段会被创建为 closed_no_winner
	CloseSlot(ctx context.Context, slot schedule.Slot, at time.Time) (*CloseResult, error)
	GetSlot(ctx context.Context, slotKey string) (*models.Slot, error)
	ListSlotsByDate(ctx context.Context, date string) ([]models.Slot, error)
	GetAttempt(ctx context.Context, slotKey, userID string) (*models.Attempt, error)
}

// QuestionRepository 问题数据访问接口
type QuestionRepository interface {
	// CreateQuestion 创建问题及选项，并在事务内再次校验获胜者与唯一性
	CreateQuestion(ctx context.Context, q *models.Question, at time.Time) error
	GetQuestion(ctx context.Context, id string) (*models.Question, error)
	GetQuestionBySlot(ctx context.Context, slotKey string) (*models.Question, error)
	ListQuestionsBySlots(ctx context.Context, slotKeys []string) (map[string]*models.Question, error)
	SoftDeleteQuestion(ctx context.Context, id, moderator, reason string, at time.Time) (*models.Question, bool, error)
}

// VoteRepository 投票数据访问接口
type VoteRepository interface {
	// CastVote 写入投票并原子增加选项计数
	CastVote(ctx context.Context, questionID, voterID string, optionID uint, at time.Time) (*models.Vote, error)
	GetVote(ctx context.Context, questionID, voterID string) (*models.Vote, error)
}

// Repository 聚合全部数据访问接口
type Repository interface {
	SlotRepository
	QuestionRepository
	VoteRepository
}
