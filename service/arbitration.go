package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"yourturn-backend/clock"
	"yourturn-backend/events"
	"yourturn-backend/models"
	"yourturn-backend/repository"
	"yourturn-backend/schedule"
)

// ClaimResult 抢答结果
type ClaimResult struct {
	SlotKey          string    `json:"slot_key"`
	Won              bool      `json:"won"`
	AlreadyAttempted bool      `json:"already_attempted"`
	AttemptCount     int64     `json:"attempt_count"`
	AttemptedAt      time.Time `json:"attempted_at"`
}

// ArbitrationService 抢答仲裁服务
type ArbitrationService struct {
	slots    repository.SlotRepository
	registry *schedule.Registry
	clock    clock.Clock
	emitter  events.Emitter
}

// NewArbitrationService 创建仲裁服务
func NewArbitrationService(slots repository.SlotRepository, registry *schedule.Registry, clk clock.Clock, emitter events.Emitter) *ArbitrationService {
	if clk == nil {
		clk = clock.System{}
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &ArbitrationService{slots: slots, registry: registry, clock: clk, emitter: emitter}
}

// AttemptClaim 用户尝试抢占时段。
// 重复抢答时同时返回原结果与 ErrAlreadyAttempted
func (s *ArbitrationService) AttemptClaim(ctx context.Context, slotKey, userID string) (*ClaimResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user_id", "must not be empty")
	}

	slot, err := s.registry.SlotByKey(slotKey)
	if err != nil {
		return nil, ErrSlotNotFound
	}

	now := s.clock.Now()
	if !slot.Contains(now) {
		if !now.Before(slot.CloseAt) {
			// 被动关闭
			s.close(ctx, slot, now)
		}
		return nil, ErrSlotNotOpen
	}

	res, err := s.slots.RecordAttempt(ctx, slot, userID, now)
	if err != nil {
		if errors.Is(err, repository.ErrSlotNotOpen) {
			return nil, ErrSlotNotOpen
		}
		return nil, fmt.Errorf("记录抢答失败: %w", err)
	}

	result := &ClaimResult{
		SlotKey:          slot.Key,
		Won:              res.Won,
		AlreadyAttempted: res.Duplicate,
		AttemptCount:     res.AttemptCount,
		AttemptedAt:      res.Attempt.AttemptedAt,
	}
	if res.Duplicate {
		return result, ErrAlreadyAttempted
	}

	if res.Won {
		log.Printf("时段 %s 产生获胜者: %s", slot.Key, userID)
		s.emitter.Emit(events.NewWinnerDetermined(slot.Key, userID, now))
	}
	return result, nil
}

// CloseSlot 关闭窗口已结束的时段，重复调用无副作用
func (s *ArbitrationService) CloseSlot(ctx context.Context, slotKey string) (*models.Slot, bool, error) {
	slot, err := s.registry.SlotByKey(slotKey)
	if err != nil {
		return nil, false, ErrSlotNotFound
	}
	now := s.clock.Now()
	if now.Before(slot.CloseAt) {
		return nil, false, ErrSlotActive
	}

	res, err := s.closeSlot(ctx, slot, now)
	if err != nil {
		return nil, false, err
	}
	return &res.Slot, res.Changed, nil
}

func (s *ArbitrationService) closeSlot(ctx context.Context, slot schedule.Slot, now time.Time) (*repository.CloseResult, error) {
	res, err := s.slots.CloseSlot(ctx, slot, now)
	if err != nil {
		return nil, fmt.Errorf("关闭时段失败: %w", err)
	}
	if res.Changed {
		log.Printf("时段 %s 已关闭: %s", slot.Key, res.Slot.Status)
		s.emitter.Emit(events.NewSlotClosed(slot.Key, string(res.Slot.Status), now))
	}
	return res, nil
}

func (s *ArbitrationService) close(ctx context.Context, slot schedule.Slot, now time.Time) {
	if _, err := s.closeSlot(ctx, slot, now); err != nil {
		log.Printf("被动关闭时段 %s 失败: %v", slot.Key, err)
	}
}
