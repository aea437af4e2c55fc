package service

import (
	"context"
	"errors"
	"math"
	"time"

	"yourturn-backend/cache"
	"yourturn-backend/clock"
	"yourturn-backend/models"
	"yourturn-backend/repository"
	"yourturn-backend/schedule"
)

// SlotView 时段的对外状态
type SlotView struct {
	SlotKey      string            `json:"slot_key"`
	Date         string            `json:"date"`
	Marker       string            `json:"marker"`
	Status       models.SlotStatus `json:"status"`
	AttemptCount int64             `json:"attempt_count"`
	WinnerID     *string           `json:"winner_id,omitempty"`
	OpenAt       time.Time         `json:"open_at"`
	CloseAt      time.Time         `json:"close_at"`
	QuestionID   string            `json:"question_id,omitempty"`
}

// OptionTally 单个选项的计票
type OptionTally struct {
	ID         uint   `json:"id"`
	Position   int    `json:"position"`
	Label      string `json:"label"`
	VoteCount  int64  `json:"vote_count"`
	Percentage int    `json:"percentage"`
}

// QuestionTally 问题及其计票
type QuestionTally struct {
	QuestionID string        `json:"question_id"`
	SlotKey    string        `json:"slot_key"`
	AuthorID   string        `json:"author_id"`
	Text       string        `json:"text"`
	Options    []OptionTally `json:"options"`
	TotalVotes int64         `json:"total_votes"`
}

// DaySlotResult 某天一个时段的结果
type DaySlotResult struct {
	Slot       SlotView       `json:"slot"`
	Question   *QuestionTally `json:"question,omitempty"`
	TotalVotes int64          `json:"total_votes"`
}

// ResultsService 只读查询，不修改任何状态
type ResultsService struct {
	repo     repository.Repository
	registry *schedule.Registry
	clock    clock.Clock
	tallies  *cache.TallyCache
}

// NewResultsService 创建结果查询服务，tallies可以为nil
func NewResultsService(repo repository.Repository, registry *schedule.Registry, clk clock.Clock, tallies *cache.TallyCache) *ResultsService {
	if clk == nil {
		clk = clock.System{}
	}
	return &ResultsService{repo: repo, registry: registry, clock: clk, tallies: tallies}
}

// SlotStatus 查询时段状态
func (s *ResultsService) SlotStatus(ctx context.Context, slotKey string) (*SlotView, error) {
	slot, err := s.registry.SlotByKey(slotKey)
	if err != nil {
		return nil, ErrSlotNotFound
	}

	row, err := s.repo.GetSlot(ctx, slot.Key)
	if err != nil && !errors.Is(err, repository.ErrSlotNotFound) {
		return nil, err
	}
	view := s.view(slot, row, s.clock.Now())

	q, err := s.repo.GetQuestionBySlot(ctx, slot.Key)
	switch {
	case err == nil:
		if !q.Removed() {
			view.QuestionID = q.ID
		}
	case !errors.Is(err, repository.ErrQuestionNotFound):
		return nil, err
	}
	return &view, nil
}

// QuestionWithTally 查询问题及计票，百分比四舍五入到整数
func (s *ResultsService) QuestionWithTally(ctx context.Context, questionID string) (*QuestionTally, error) {
	var out QuestionTally
	err := s.tallies.Fetch(ctx, questionID, &out, func() error {
		q, err := s.repo.GetQuestion(ctx, questionID)
		if err != nil {
			if errors.Is(err, repository.ErrQuestionNotFound) {
				return ErrQuestionNotFound
			}
			return err
		}
		if q.Removed() {
			return ErrQuestionRemoved
		}
		out = tally(q)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DayResults 返回某天每个时段的结果，包括未开始和无人获胜的时段
func (s *ResultsService) DayResults(ctx context.Context, date string) ([]DaySlotResult, error) {
	slots, err := s.registry.SlotsForDate(date)
	if err != nil {
		return nil, invalid("date", "must be formatted as %s", schedule.DateLayout)
	}

	rows, err := s.repo.ListSlotsByDate(ctx, date)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*models.Slot, len(rows))
	for i := range rows {
		byKey[rows[i].SlotKey] = &rows[i]
	}

	keys := make([]string, len(slots))
	for i, slot := range slots {
		keys[i] = slot.Key
	}
	questions, err := s.repo.ListQuestionsBySlots(ctx, keys)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	results := make([]DaySlotResult, 0, len(slots))
	for _, slot := range slots {
		r := DaySlotResult{Slot: s.view(slot, byKey[slot.Key], now)}
		if q, ok := questions[slot.Key]; ok && !q.Removed() {
			t := tally(q)
			r.Question = &t
			r.TotalVotes = t.TotalVotes
			r.Slot.QuestionID = q.ID
		}
		results = append(results, r)
	}
	return results, nil
}

// view 计算时段的有效状态，仅读取不写入
func (s *ResultsService) view(slot schedule.Slot, row *models.Slot, now time.Time) SlotView {
	v := SlotView{
		SlotKey: slot.Key,
		Date:    slot.Date,
		Marker:  slot.Marker.String(),
		OpenAt:  slot.OpenAt,
		CloseAt: slot.CloseAt,
	}

	if row == nil {
		switch {
		case now.Before(slot.OpenAt):
			v.Status = models.SlotPending
		case slot.Contains(now):
			v.Status = models.SlotOpen
		default:
			v.Status = models.SlotClosedNoWinner
		}
		return v
	}

	v.Status = row.Status
	v.AttemptCount = row.AttemptCount
	v.WinnerID = row.WinnerID
	if row.Status == models.SlotOpen && !now.Before(slot.CloseAt) {
		v.Status = models.SlotClosedNoWinner
		if row.HasWinner() {
			v.Status = models.SlotClosedWithWinner
		}
	}
	return v
}

func tally(q *models.Question) QuestionTally {
	t := QuestionTally{
		QuestionID: q.ID,
		SlotKey:    q.SlotKey,
		AuthorID:   q.AuthorID,
		Text:       q.Text,
		Options:    make([]OptionTally, len(q.Options)),
		TotalVotes: q.TotalVotes(),
	}
	for i, opt := range q.Options {
		t.Options[i] = OptionTally{
			ID:         opt.ID,
			Position:   opt.Position,
			Label:      opt.Label,
			VoteCount:  opt.VoteCount,
			Percentage: percentage(opt.VoteCount, t.TotalVotes),
		}
	}
	return t
}

func percentage(count, total int64) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(count) * 100 / float64(total)))
}
