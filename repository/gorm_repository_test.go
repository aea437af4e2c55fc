package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"yourturn-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAttemptFirstWins(t *testing.T) {
	repo := NewGormRepository(setupTestDB(t))
	ctx := context.Background()
	slot := testSlot(t)

	first, err := repo.RecordAttempt(ctx, slot, "alice", slot.OpenAt.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, first.Won)
	assert.False(t, first.Duplicate)
	assert.Equal(t, int64(1), first.AttemptCount)
	assert.Equal(t, models.AttemptWon, first.Attempt.Outcome)

	second, err := repo.RecordAttempt(ctx, slot, "bob", slot.OpenAt.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, second.Won)
	assert.Equal(t, int64(2), second.AttemptCount)
	assert.Equal(t, models.AttemptLost, second.Attempt.Outcome)

	row, err := repo.GetSlot(ctx, slot.Key)
	require.NoError(t, err)
	require.NotNil(t, row.WinnerID)
	assert.Equal(t, "alice", *row.WinnerID)
	assert.Equal(t, models.SlotOpen, row.Status)
	assert.Equal(t, "2024-06-01", row.Date)
	assert.Equal(t, "09:00", row.Marker)
}

func TestRecordAttemptDuplicateKeepsOutcome(t *testing.T) {
	repo := NewGormRepository(setupTestDB(t))
	ctx := context.Background()
	slot := testSlot(t)

	_, err := repo.RecordAttempt(ctx, slot, "alice", slot.OpenAt)
	require.NoError(t, err)
	_, err = repo.RecordAttempt(ctx, slot, "bob", slot.OpenAt)
	require.NoError(t, err)

	again, err := repo.RecordAttempt(ctx, slot, "alice", slot.OpenAt.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.True(t, again.Won)
	assert.Equal(t, int64(2), again.AttemptCount)

	again, err = repo.RecordAttempt(ctx, slot, "bob", slot.OpenAt.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.False(t, again.Won)
	assert.Equal(t, int64(2), again.AttemptCount)
}

func TestRecordAttemptConcurrentSingleWinner(t *testing.T) {
	repo := NewGormRepository(setupTestDB(t))
	ctx := context.Background()
	slot := testSlot(t)

	const n = 100
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
		errs    atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := repo.RecordAttempt(ctx, slot, fmt.Sprintf("user-%d", i), slot.OpenAt.Add(time.Millisecond))
			if err != nil {
				errs.Add(1)
				return
			}
			if res.Won {
				winners.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(0), errs.Load())
	assert.Equal(t, int32(1), winners.Load())

	row, err := repo.GetSlot(ctx, slot.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(n), row.AttemptCount)

	var won int64
	require.NoError(t, repo.db.Model(&models.Attempt{}).
		Where("slot_key = ? AND outcome = ?", slot.Key, models.AttemptWon).Count(&won).Error)
	assert.Equal(t, int64(1), won)
}

func TestCloseSlot(t *testing.T) {
	ctx := context.Background()
	slot := testSlot(t)

	t.Run("no attempts materialises closed_no_winner", func(t *testing.T) {
		repo := NewGormRepository(setupTestDB(t))
		res, err := repo.CloseSlot(ctx, slot, slot.CloseAt)
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, models.SlotClosedNoWinner, res.Slot.Status)
		assert.Equal(t, int64(0), res.Slot.AttemptCount)

		res, err = repo.CloseSlot(ctx, slot, slot.CloseAt.Add(time.Second))
		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Equal(t, models.SlotClosedNoWinner, res.Slot.Status)
	})

	t.Run("winner closes with winner", func(t *testing.T) {
		repo := NewGormRepository(setupTestDB(t))
		_, err := repo.RecordAttempt(ctx, slot, "alice", slot.OpenAt)
		require.NoError(t, err)

		res, err := repo.CloseSlot(ctx, slot, slot.CloseAt)
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, models.SlotClosedWithWinner, res.Slot.Status)
		require.NotNil(t, res.Slot.ClosedAt)

		// 关闭后不再接受抢答
		_, err = repo.RecordAttempt(ctx, slot, "bob", slot.OpenAt.Add(time.Second))
		assert.ErrorIs(t, err, ErrSlotNotOpen)

		row, err := repo.GetSlot(ctx, slot.Key)
		require.NoError(t, err)
		assert.Equal(t, int64(1), row.AttemptCount)
	})
}

func newQuestion(slotKey, author string, labels ...string) *models.Question {
	q := &models.Question{SlotKey: slotKey, AuthorID: author, Text: "Best season?"}
	for i, l := range labels {
		q.Options = append(q.Options, models.Option{Position: i, Label: l})
	}
	return q
}

func TestCreateQuestion(t *testing.T) {
	repo := NewGormRepository(setupTestDB(t))
	ctx := context.Background()
	slot := testSlot(t)
	at := slot.OpenAt.Add(5 * time.Second)

	err := repo.CreateQuestion(ctx, newQuestion(slot.Key, "alice", "A", "B"), at)
	assert.ErrorIs(t, err, ErrNotWinner)

	_, err = repo.RecordAttempt(ctx, slot, "alice", slot.OpenAt)
	require.NoError(t, err)

	err = repo.CreateQuestion(ctx, newQuestion(slot.Key, "bob", "A", "B"), at)
	assert.ErrorIs(t, err, ErrNotWinner)

	q := newQuestion(slot.Key, "alice", "Spring", "Summer", "Autumn")
	require.NoError(t, repo.CreateQuestion(ctx, q, at))
	assert.NotEmpty(t, q.ID)

	err = repo.CreateQuestion(ctx, newQuestion(slot.Key, "alice", "C", "D"), at)
	assert.ErrorIs(t, err, ErrQuestionExists)

	// 提交问题后窗口内仍可抢答
	late, err := repo.RecordAttempt(ctx, slot, "carol", at.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, late.Won)
	assert.Equal(t, int64(2), late.AttemptCount)

	row, err := repo.GetSlot(ctx, slot.Key)
	require.NoError(t, err)
	assert.Equal(t, models.SlotOpen, row.Status)
	assert.Nil(t, row.ClosedAt)

	closed, err := repo.CloseSlot(ctx, slot, slot.CloseAt)
	require.NoError(t, err)
	assert.True(t, closed.Changed)
	assert.Equal(t, models.SlotClosedWithWinner, closed.Slot.Status)

	got, err := repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, got.Options, 3)
	assert.Equal(t, "Spring", got.Options[0].Label)
	assert.Equal(t, "Autumn", got.Options[2].Label)

	bySlot, err := repo.GetQuestionBySlot(ctx, slot.Key)
	require.NoError(t, err)
	assert.Equal(t, q.ID, bySlot.ID)

	list, err := repo.ListQuestionsBySlots(ctx, []string{slot.Key, "2024-06-01_1300"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, q.ID, list[slot.Key].ID)

	_, err = repo.GetQuestion(ctx, "missing")
	assert.ErrorIs(t, err, ErrQuestionNotFound)
}

func setupQuestion(t *testing.T, repo *GormRepository) *models.Question {
	t.Helper()
	ctx := context.Background()
	slot := testSlot(t)
	_, err := repo.RecordAttempt(ctx, slot, "alice", slot.OpenAt)
	require.NoError(t, err)
	q := newQuestion(slot.Key, "alice", "Yes", "No")
	require.NoError(t, repo.CreateQuestion(ctx, q, slot.OpenAt.Add(time.Second)))
	return q
}

func TestCastVote(t *testing.T) {
	repo := NewGormRepository(setupTestDB(t))
	ctx := context.Background()
	q := setupQuestion(t, repo)
	at := time.Date(2024, 6, 1, 9, 1, 0, 0, time.UTC)

	vote, err := repo.CastVote(ctx, q.ID, "bob", q.Options[0].ID, at)
	require.NoError(t, err)
	assert.Equal(t, q.Options[0].ID, vote.OptionID)

	_, err = repo.CastVote(ctx, q.ID, "bob", q.Options[1].ID, at)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	_, err = repo.CastVote(ctx, q.ID, "carol", 9999, at)
	assert.ErrorIs(t, err, ErrUnknownOption)

	_, err = repo.CastVote(ctx, "missing", "carol", q.Options[0].ID, at)
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	got, err := repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Options[0].VoteCount)
	assert.Equal(t, int64(0), got.Options[1].VoteCount)
	assert.Equal(t, int64(1), got.TotalVotes())

	stored, err := repo.GetVote(ctx, q.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, q.Options[0].ID, stored.OptionID)

	_, err = repo.GetVote(ctx, q.ID, "carol")
	assert.ErrorIs(t, err, ErrVoteNotFound)
}

func TestCastVoteConcurrentConservation(t *testing.T) {
	repo := NewGormRepository(setupTestDB(t))
	ctx := context.Background()
	q := setupQuestion(t, repo)

	const voters = 50
	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opt := q.Options[i%2].ID
			// 每人投两次，第二次必须被拒绝
			if _, err := repo.CastVote(ctx, q.ID, fmt.Sprintf("voter-%d", i), opt, time.Now()); err != nil {
				failures.Add(1)
			}
			if _, err := repo.CastVote(ctx, q.ID, fmt.Sprintf("voter-%d", i), opt, time.Now()); err == nil {
				failures.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(0), failures.Load())

	got, err := repo.GetQuestion(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(voters), got.TotalVotes())

	var rows int64
	require.NoError(t, repo.db.Model(&models.Vote{}).Where("question_id = ?", q.ID).Count(&rows).Error)
	assert.Equal(t, rows, got.TotalVotes())
}

func TestSoftDeleteQuestion(t *testing.T) {
	repo := NewGormRepository(setupTestDB(t))
	ctx := context.Background()
	q := setupQuestion(t, repo)
	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	_, err := repo.CastVote(ctx, q.ID, "bob", q.Options[0].ID, at)
	require.NoError(t, err)

	removed, changed, err := repo.SoftDeleteQuestion(ctx, q.ID, "mod-1", "spam", at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, removed.Removed())
	assert.Equal(t, "mod-1", removed.DeletedBy)
	assert.Equal(t, int64(1), removed.TotalVotes())

	again, changed, err := repo.SoftDeleteQuestion(ctx, q.ID, "mod-2", "other", at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "mod-1", again.DeletedBy)
	assert.Equal(t, "spam", again.DeleteReason)

	_, err = repo.CastVote(ctx, q.ID, "carol", q.Options[0].ID, at)
	assert.ErrorIs(t, err, ErrQuestionRemoved)

	_, _, err = repo.SoftDeleteQuestion(ctx, "missing", "mod-1", "spam", at)
	assert.ErrorIs(t, err, ErrQuestionNotFound)
}

func TestListSlotsByDate(t *testing.T) {
	repo := NewGormRepository(setupTestDB(t))
	ctx := context.Background()
	slot := testSlot(t)

	_, err := repo.CloseSlot(ctx, slot, slot.CloseAt)
	require.NoError(t, err)

	slots, err := repo.ListSlotsByDate(ctx, "2024-06-01")
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, slot.Key, slots[0].SlotKey)

	slots, err = repo.ListSlotsByDate(ctx, "2024-06-02")
	require.NoError(t, err)
	assert.Empty(t, slots)

	_, err = repo.GetSlot(ctx, "2024-06-02_0900")
	assert.ErrorIs(t, err, ErrSlotNotFound)
}
