package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"yourturn-backend/cache"
	"yourturn-backend/clock"
	"yourturn-backend/events"
	"yourturn-backend/models"
	"yourturn-backend/repository"
	"yourturn-backend/schedule"
)

const (
	MinOptions = 2
	MaxOptions = 4
)

// QuestionPolicy 问题提交的限制
type QuestionPolicy struct {
	MaxTextLength   int
	MaxOptionLength int
	// SubmitTimeout 大于0时，窗口关闭后超过该时长不再接受提交
	SubmitTimeout time.Duration
}

// QuestionService 问题提交与移除
type QuestionService struct {
	repo      repository.Repository
	registry  *schedule.Registry
	clock     clock.Clock
	emitter   events.Emitter
	tallies   *cache.TallyCache
	policy    QuestionPolicy
	sanitizer *bluemonday.Policy
}

// NewQuestionService 创建问题服务，tallies可以为nil
func NewQuestionService(repo repository.Repository, registry *schedule.Registry, clk clock.Clock, emitter events.Emitter, tallies *cache.TallyCache, policy QuestionPolicy) *QuestionService {
	if clk == nil {
		clk = clock.System{}
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	if policy.MaxTextLength <= 0 {
		policy.MaxTextLength = 200
	}
	if policy.MaxOptionLength <= 0 {
		policy.MaxOptionLength = 80
	}
	return &QuestionService{
		repo:      repo,
		registry:  registry,
		clock:     clk,
		emitter:   emitter,
		tallies:   tallies,
		policy:    policy,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// SubmitQuestion 获胜者为时段提交唯一的问题
func (s *QuestionService) SubmitQuestion(ctx context.Context, slotKey, userID, text string, options []string) (*models.Question, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalid("user_id", "must not be empty")
	}

	slot, err := s.registry.SlotByKey(slotKey)
	if err != nil {
		return nil, ErrSlotNotFound
	}

	row, err := s.repo.GetSlot(ctx, slot.Key)
	if err != nil {
		if errors.Is(err, repository.ErrSlotNotFound) {
			return nil, ErrNotWinner
		}
		return nil, err
	}
	if !row.HasWinner() || *row.WinnerID != userID {
		return nil, ErrNotWinner
	}

	if _, err := s.repo.GetQuestionBySlot(ctx, slot.Key); err == nil {
		return nil, ErrAlreadySubmitted
	} else if !errors.Is(err, repository.ErrQuestionNotFound) {
		return nil, err
	}

	text, labels, err := s.normalize(text, options)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if s.policy.SubmitTimeout > 0 && !now.Before(slot.CloseAt.Add(s.policy.SubmitTimeout)) {
		return nil, ErrSubmissionClosed
	}

	q := &models.Question{
		SlotKey:  slot.Key,
		AuthorID: userID,
		Text:     text,
		Options:  make([]models.Option, len(labels)),
	}
	for i, label := range labels {
		q.Options[i] = models.Option{Position: i, Label: label}
	}

	if err := s.repo.CreateQuestion(ctx, q, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotWinner):
			return nil, ErrNotWinner
		case errors.Is(err, repository.ErrQuestionExists):
			return nil, ErrAlreadySubmitted
		}
		return nil, fmt.Errorf("创建问题失败: %w", err)
	}

	log.Printf("时段 %s 已提交问题: id=%s author=%s", slot.Key, q.ID, userID)
	s.emitter.Emit(events.NewQuestionSubmitted(slot.Key, q.ID, userID, now))
	return q, nil
}

// RemoveQuestion 软删除问题，投票记录保留
func (s *QuestionService) RemoveQuestion(ctx context.Context, questionID, moderator, reason string) (*models.Question, error) {
	now := s.clock.Now()
	q, changed, err := s.repo.SoftDeleteQuestion(ctx, questionID, moderator, reason, now)
	if err != nil {
		if errors.Is(err, repository.ErrQuestionNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	if changed {
		s.tallies.Invalidate(ctx, questionID)
		log.Printf("问题 %s 已被 %s 移除: %s", questionID, moderator, reason)
		s.emitter.Emit(events.NewQuestionRemoved(q.SlotKey, questionID, moderator, now))
	}
	return q, nil
}

// normalize 清洗并校验问题与选项，选项按不区分大小写去重
func (s *QuestionService) normalize(text string, options []string) (string, []string, error) {
	text = s.clean(text)
	if text == "" {
		return "", nil, invalid("text", "must not be empty")
	}
	if n := utf8.RuneCountInString(text); n > s.policy.MaxTextLength {
		return "", nil, invalid("text", "must be at most %d characters, got %d", s.policy.MaxTextLength, n)
	}

	if len(options) < MinOptions || len(options) > MaxOptions {
		return "", nil, invalid("options", "must have between %d and %d entries, got %d", MinOptions, MaxOptions, len(options))
	}

	seen := make(map[string]bool, len(options))
	labels := make([]string, 0, len(options))
	for i, raw := range options {
		label := s.clean(raw)
		if label == "" {
			return "", nil, invalid(fmt.Sprintf("options[%d]", i), "must not be empty")
		}
		if utf8.RuneCountInString(label) > s.policy.MaxOptionLength {
			return "", nil, invalid(fmt.Sprintf("options[%d]", i), "must be at most %d characters", s.policy.MaxOptionLength)
		}
		key := strings.ToLower(label)
		if seen[key] {
			continue
		}
		seen[key] = true
		labels = append(labels, label)
	}
	if len(labels) < MinOptions {
		return "", nil, invalid("options", "must contain at least %d distinct labels", MinOptions)
	}
	return text, labels, nil
}

// clean 去除HTML并合并空白
func (s *QuestionService) clean(v string) string {
	v = html.UnescapeString(s.sanitizer.Sanitize(v))
	return strings.Join(strings.Fields(v), " ")
}
