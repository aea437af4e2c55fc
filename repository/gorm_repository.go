package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"yourturn-backend/models"
	"yourturn-backend/schedule"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRepository 基于GORM的数据仓库，MySQL与SQLite均可使用
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository 创建数据仓库
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// RecordAttempt 记录一次抢答。
// 获胜者仅由 UPDATE ... WHERE winner_id IS NULL 决定，RowsAffected==1 即为唯一获胜者
func (r *GormRepository) RecordAttempt(ctx context.Context, slot schedule.Slot, userID string, at time.Time) (*AttemptResult, error) {
	result := &AttemptResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. 时段行不存在时创建
		row := newSlotRow(slot, models.SlotOpen)
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("创建时段失败: %w", err)
		}

		// 2. 重复抢答直接返回原结果
		var prior models.Attempt
		err := tx.Where("slot_key = ? AND user_id = ?", slot.Key, userID).First(&prior).Error
		if err == nil {
			return ErrDuplicateAttempt
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("查询抢答记录失败: %w", err)
		}

		// 3. 计数，仅对开放中的时段生效
		res := tx.Model(&models.Slot{}).
			Where("slot_key = ? AND status = ?", slot.Key, models.SlotOpen).
			UpdateColumn("attempt_count", gorm.Expr("attempt_count + ?", 1))
		if res.Error != nil {
			return fmt.Errorf("更新抢答计数失败: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSlotNotOpen
		}

		// 4. 条件更新决出获胜者
		res = tx.Model(&models.Slot{}).
			Where("slot_key = ? AND status = ? AND winner_id IS NULL", slot.Key, models.SlotOpen).
			UpdateColumns(map[string]interface{}{"winner_id": userID, "won_at": at})
		if res.Error != nil {
			return fmt.Errorf("更新获胜者失败: %w", res.Error)
		}
		result.Won = res.RowsAffected == 1

		// 5. 写入抢答记录，唯一索引兜底并发重复
		result.Attempt = models.Attempt{
			SlotKey:     slot.Key,
			UserID:      userID,
			Outcome:     models.AttemptLost,
			AttemptedAt: at,
		}
		if result.Won {
			result.Attempt.Outcome = models.AttemptWon
		}
		if err := tx.Create(&result.Attempt).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrDuplicateAttempt
			}
			return fmt.Errorf("写入抢答记录失败: %w", err)
		}

		var current models.Slot
		if err := tx.Where("slot_key = ?", slot.Key).First(&current).Error; err != nil {
			return fmt.Errorf("读取时段失败: %w", err)
		}
		result.AttemptCount = current.AttemptCount
		return nil
	})

	if errors.Is(err, ErrDuplicateAttempt) {
		prior, getErr := r.GetAttempt(ctx, slot.Key, userID)
		if getErr != nil {
			return nil, getErr
		}
		current, getErr := r.GetSlot(ctx, slot.Key)
		if getErr != nil {
			return nil, getErr
		}
		return &AttemptResult{
			Attempt:      *prior,
			Won:          prior.Outcome == models.AttemptWon,
			Duplicate:    true,
			AttemptCount: current.AttemptCount,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CloseSlot 幂等关闭时段：open -> closed_with_winner | closed_no_winner
func (r *GormRepository) CloseSlot(ctx context.Context, slot schedule.Slot, at time.Time) (*CloseResult, error) {
	result := &CloseResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 无人抢答的时段直接以关闭状态落库
		row := newSlotRow(slot, models.SlotClosedNoWinner)
		row.ClosedAt = &at
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("创建时段失败: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			result.Changed = true
		} else {
			res = tx.Model(&models.Slot{}).
				Where("slot_key = ? AND status = ?", slot.Key, models.SlotOpen).
				UpdateColumns(map[string]interface{}{
					"status": gorm.Expr("CASE WHEN winner_id IS NULL THEN ? ELSE ? END",
						models.SlotClosedNoWinner, models.SlotClosedWithWinner),
					"closed_at":  at,
					"updated_at": at,
				})
			if res.Error != nil {
				return fmt.Errorf("关闭时段失败: %w", res.Error)
			}
			result.Changed = res.RowsAffected == 1
		}

		return tx.Where("slot_key = ?", slot.Key).First(&result.Slot).Error
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetSlot 获取时段，不存在时返回 ErrSlotNotFound
func (r *GormRepository) GetSlot(ctx context.Context, slotKey string) (*models.Slot, error) {
	var slot models.Slot
	if err := r.db.WithContext(ctx).Where("slot_key = ?", slotKey).First(&slot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("获取时段失败: %w", err)
	}
	return &slot, nil
}

// ListSlotsByDate 获取某天已落库的时段
func (r *GormRepository) ListSlotsByDate(ctx context.Context, date string) ([]models.Slot, error) {
	var slots []models.Slot
	if err := r.db.WithContext(ctx).Where("date = ?", date).Order("open_at").Find(&slots).Error; err != nil {
		return nil, fmt.Errorf("获取时段列表失败: %w", err)
	}
	return slots, nil
}

// GetAttempt 获取用户在某时段的抢答记录
func (r *GormRepository) GetAttempt(ctx context.Context, slotKey, userID string) (*models.Attempt, error) {
	var attempt models.Attempt
	err := r.db.WithContext(ctx).Where("slot_key = ? AND user_id = ?", slotKey, userID).First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("获取抢答记录失败: %w", err)
	}
	return &attempt, nil
}

// CreateQuestion 创建问题。时段状态不变，窗口内仍可记录抢答，关闭由 CloseSlot 完成
func (r *GormRepository) CreateQuestion(ctx context.Context, q *models.Question, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot models.Slot
		if err := tx.Where("slot_key = ?", q.SlotKey).First(&slot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotWinner
			}
			return fmt.Errorf("获取时段失败: %w", err)
		}
		if !slot.HasWinner() || *slot.WinnerID != q.AuthorID {
			return ErrNotWinner
		}

		var count int64
		if err := tx.Model(&models.Question{}).Where("slot_key = ?", q.SlotKey).Count(&count).Error; err != nil {
			return fmt.Errorf("查询问题失败: %w", err)
		}
		if count > 0 {
			return ErrQuestionExists
		}

		q.CreatedAt = at
		if err := tx.Create(q).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrQuestionExists
			}
			return fmt.Errorf("创建问题失败: %w", err)
		}
		return nil
	})
}

func preloadOptions(db *gorm.DB) *gorm.DB {
	return db.Preload("Options", func(db *gorm.DB) *gorm.DB {
		return db.Order("position")
	})
}

// GetQuestion 获取问题及其有序选项，包括已移除的问题
func (r *GormRepository) GetQuestion(ctx context.Context, id string) (*models.Question, error) {
	var q models.Question
	if err := preloadOptions(r.db.WithContext(ctx)).Where("id = ?", id).First(&q).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("获取问题失败: %w", err)
	}
	return &q, nil
}

// GetQuestionBySlot 获取时段的问题
func (r *GormRepository) GetQuestionBySlot(ctx context.Context, slotKey string) (*models.Question, error) {
	var q models.Question
	if err := preloadOptions(r.db.WithContext(ctx)).Where("slot_key = ?", slotKey).First(&q).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, fmt.Errorf("获取问题失败: %w", err)
	}
	return &q, nil
}

// ListQuestionsBySlots 批量获取问题，按时段标识索引
func (r *GormRepository) ListQuestionsBySlots(ctx context.Context, slotKeys []string) (map[string]*models.Question, error) {
	out := make(map[string]*models.Question, len(slotKeys))
	if len(slotKeys) == 0 {
		return out, nil
	}
	var questions []models.Question
	if err := preloadOptions(r.db.WithContext(ctx)).Where("slot_key IN ?", slotKeys).Find(&questions).Error; err != nil {
		return nil, fmt.Errorf("获取问题列表失败: %w", err)
	}
	for i := range questions {
		out[questions[i].SlotKey] = &questions[i]
	}
	return out, nil
}

// SoftDeleteQuestion 软删除问题，重复调用不会覆盖首次的删除信息
func (r *GormRepository) SoftDeleteQuestion(ctx context.Context, id, moderator, reason string, at time.Time) (*models.Question, bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Question{}).
		Where("id = ? AND deleted_at IS NULL", id).
		UpdateColumns(map[string]interface{}{
			"deleted_at":    at,
			"deleted_by":    moderator,
			"delete_reason": reason,
		})
	if res.Error != nil {
		return nil, false, fmt.Errorf("删除问题失败: %w", res.Error)
	}
	q, err := r.GetQuestion(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return q, res.RowsAffected == 1, nil
}

// CastVote 写入投票，投票记录与计数在同一事务中提交
func (r *GormRepository) CastVote(ctx context.Context, questionID, voterID string, optionID uint, at time.Time) (*models.Vote, error) {
	vote := &models.Vote{
		QuestionID: questionID,
		VoterID:    voterID,
		OptionID:   optionID,
		CreatedAt:  at,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var q models.Question
		if err := tx.Where("id = ?", questionID).First(&q).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQuestionNotFound
			}
			return fmt.Errorf("获取问题失败: %w", err)
		}
		if q.Removed() {
			return ErrQuestionRemoved
		}

		var count int64
		if err := tx.Model(&models.Vote{}).
			Where("question_id = ? AND voter_id = ?", questionID, voterID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("查询投票记录失败: %w", err)
		}
		if count > 0 {
			return ErrAlreadyVoted
		}

		var option models.Option
		if err := tx.Where("id = ? AND question_id = ?", optionID, questionID).First(&option).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownOption
			}
			return fmt.Errorf("获取选项失败: %w", err)
		}

		if err := tx.Create(vote).Error; err != nil {
			if isDuplicateKey(err) {
				return ErrAlreadyVoted
			}
			return fmt.Errorf("写入投票失败: %w", err)
		}

		// 原子增加投票计数
		if err := tx.Model(&option).UpdateColumn("vote_count", gorm.Expr("vote_count + ?", 1)).Error; err != nil {
			return fmt.Errorf("更新投票计数失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vote, nil
}

// GetVote 获取用户对问题的投票
func (r *GormRepository) GetVote(ctx context.Context, questionID, voterID string) (*models.Vote, error) {
	var vote models.Vote
	err := r.db.WithContext(ctx).Where("question_id = ? AND voter_id = ?", questionID, voterID).First(&vote).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVoteNotFound
		}
		return nil, fmt.Errorf("获取投票记录失败: %w", err)
	}
	return &vote, nil
}

func newSlotRow(slot schedule.Slot, status models.SlotStatus) models.Slot {
	return models.Slot{
		SlotKey: slot.Key,
		Date:    slot.Date,
		Marker:  slot.Marker.String(),
		Status:  status,
		OpenAt:  slot.OpenAt,
		CloseAt: slot.CloseAt,
	}
}

// isDuplicateKey 识别唯一索引冲突，驱动未翻译错误时按错误信息判断
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate entry")
}
