package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"yourturn-backend/cache"
	"yourturn-backend/clock"
	"yourturn-backend/events"
	"yourturn-backend/repository"
)

// EligibilityPolicy 外部提供的投票资格判断
type EligibilityPolicy interface {
	IsEligibleVoter(ctx context.Context, userID string) (bool, error)
}

// EligibilityFunc 函数形式的资格判断
type EligibilityFunc func(ctx context.Context, userID string) (bool, error)

// IsEligibleVoter 实现 EligibilityPolicy
func (f EligibilityFunc) IsEligibleVoter(ctx context.Context, userID string) (bool, error) {
	return f(ctx, userID)
}

// AllowAll 所有已识别的用户均可投票
var AllowAll EligibilityPolicy = EligibilityFunc(func(_ context.Context, userID string) (bool, error) {
	return userID != "", nil
})

// ClassPolicy 按用户类别判断资格，类别列表为空时等同于 AllowAll
type ClassPolicy struct {
	Class   string
	Allowed []string
}

// IsEligibleVoter 实现 EligibilityPolicy
func (p ClassPolicy) IsEligibleVoter(_ context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	if len(p.Allowed) == 0 {
		return true, nil
	}
	for _, c := range p.Allowed {
		if strings.EqualFold(c, p.Class) {
			return true, nil
		}
	}
	return false, nil
}

// VoteResult 投票结果
type VoteResult struct {
	Accepted   bool   `json:"accepted"`
	QuestionID string `json:"question_id"`
	OptionID   uint   `json:"option_id"`
}

// VotingService 投票服务
type VotingService struct {
	repo    repository.Repository
	clock   clock.Clock
	emitter events.Emitter
	tallies *cache.TallyCache
}

// NewVotingService 创建投票服务，tallies可以为nil
func NewVotingService(repo repository.Repository, clk clock.Clock, emitter events.Emitter, tallies *cache.TallyCache) *VotingService {
	if clk == nil {
		clk = clock.System{}
	}
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &VotingService{repo: repo, clock: clk, emitter: emitter, tallies: tallies}
}

// Vote 投票，每个用户对每个问题只能投一次
func (s *VotingService) Vote(ctx context.Context, questionID, voterID string, optionID uint, policy EligibilityPolicy) (*VoteResult, error) {
	if policy == nil {
		return nil, ErrNotEligible
	}
	ok, err := policy.IsEligibleVoter(ctx, voterID)
	if err != nil {
		return nil, fmt.Errorf("检查投票资格失败: %w", err)
	}
	if !ok {
		return nil, ErrNotEligible
	}

	q, err := s.repo.GetQuestion(ctx, questionID)
	if err != nil {
		if errors.Is(err, repository.ErrQuestionNotFound) {
			return nil, ErrQuestionNotFound
		}
		return nil, err
	}
	if q.Removed() {
		return nil, ErrQuestionRemoved
	}
	// 提问者不能给自己的问题投票
	if q.AuthorID == voterID {
		return nil, ErrNotEligible
	}

	now := s.clock.Now()
	if _, err := s.repo.CastVote(ctx, questionID, voterID, optionID, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrAlreadyVoted):
			return nil, ErrAlreadyVoted
		case errors.Is(err, repository.ErrUnknownOption):
			return nil, ErrUnknownOption
		case errors.Is(err, repository.ErrQuestionNotFound):
			return nil, ErrQuestionNotFound
		case errors.Is(err, repository.ErrQuestionRemoved):
			return nil, ErrQuestionRemoved
		}
		return nil, fmt.Errorf("投票失败: %w", err)
	}

	s.tallies.Invalidate(ctx, questionID)
	s.emitter.Emit(events.NewVoteCast(questionID, optionID, now))
	return &VoteResult{Accepted: true, QuestionID: questionID, OptionID: optionID}, nil
}
