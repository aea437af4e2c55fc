package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yourturn-backend/events"
	"yourturn-backend/models"
)

func submitQuestion(t *testing.T, f *fixture, options ...string) *models.Question {
	t.Helper()
	claimWinner(t, f, "alice")
	q, err := f.questions.SubmitQuestion(context.Background(), testSlotKey, "alice", "Best genre?", options)
	require.NoError(t, err)
	return q
}

func TestDailyScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	won := 0
	for _, user := range []string{"carol", "alice", "bob"} {
		res, err := f.arbitration.AttemptClaim(ctx, testSlotKey, user)
		require.NoError(t, err)
		if res.Won {
			won++
		}
	}
	assert.Equal(t, 1, won)

	view, err := f.results.SlotStatus(ctx, testSlotKey)
	require.NoError(t, err)
	assert.Equal(t, int64(3), view.AttemptCount)
	require.NotNil(t, view.WinnerID)
	winner := *view.WinnerID

	f.clock.Advance(10 * time.Second)
	q, err := f.questions.SubmitQuestion(ctx, testSlotKey, winner, "Best genre?", []string{"Action", "Comedy"})
	require.NoError(t, err)
	require.Len(t, q.Options, 2)
	for _, opt := range q.Options {
		assert.Zero(t, opt.VoteCount)
	}
	comedy := q.Options[1]
	assert.Equal(t, "Comedy", comedy.Label)

	for _, voter := range []string{"dave", "erin"} {
		res, err := f.voting.Vote(ctx, q.ID, voter, comedy.ID, AllowAll)
		require.NoError(t, err)
		assert.True(t, res.Accepted)
	}

	tally, err := f.results.QuestionWithTally(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, "Best genre?", tally.Text)
	assert.Equal(t, int64(2), tally.TotalVotes)
	require.Len(t, tally.Options, 2)
	assert.Equal(t, "Action", tally.Options[0].Label)
	assert.Equal(t, int64(0), tally.Options[0].VoteCount)
	assert.Equal(t, 0, tally.Options[0].Percentage)
	assert.Equal(t, int64(2), tally.Options[1].VoteCount)
	assert.Equal(t, 100, tally.Options[1].Percentage)

	view, err = f.results.SlotStatus(ctx, testSlotKey)
	require.NoError(t, err)
	assert.Equal(t, models.SlotOpen, view.Status)
	assert.Equal(t, q.ID, view.QuestionID)

	f.clock.Set(testOpenAt.Add(20 * time.Second))
	view, err = f.results.SlotStatus(ctx, testSlotKey)
	require.NoError(t, err)
	assert.Equal(t, models.SlotClosedWithWinner, view.Status)

	assert.Len(t, f.events.ofType(events.WinnerDetermined), 1)
	assert.Len(t, f.events.ofType(events.QuestionSubmitted), 1)
	assert.Len(t, f.events.ofType(events.VoteCast), 2)
}

func TestVoteFinality(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	q := submitQuestion(t, f, "Action", "Comedy")

	_, err := f.voting.Vote(ctx, q.ID, "dave", q.Options[0].ID, AllowAll)
	require.NoError(t, err)

	_, err = f.voting.Vote(ctx, q.ID, "dave", q.Options[1].ID, AllowAll)
	assert.ErrorIs(t, err, ErrAlreadyVoted)
	_, err = f.voting.Vote(ctx, q.ID, "dave", q.Options[0].ID, AllowAll)
	assert.ErrorIs(t, err, ErrAlreadyVoted)

	tally, err := f.results.QuestionWithTally(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tally.Options[0].VoteCount)
	assert.Equal(t, int64(0), tally.Options[1].VoteCount)
	assert.Equal(t, int64(1), tally.TotalVotes)
}

func TestVoteRejections(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	q := submitQuestion(t, f, "Action", "Comedy")
	opt := q.Options[0].ID

	_, err := f.voting.Vote(ctx, q.ID, "dave", opt, nil)
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = f.voting.Vote(ctx, q.ID, "dave", opt, ClassPolicy{Class: "guest", Allowed: []string{"student"}})
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = f.voting.Vote(ctx, q.ID, "alice", opt, AllowAll)
	assert.ErrorIs(t, err, ErrNotEligible)

	_, err = f.voting.Vote(ctx, q.ID, "dave", 9999, AllowAll)
	assert.ErrorIs(t, err, ErrUnknownOption)

	_, err = f.voting.Vote(ctx, "missing", "dave", opt, AllowAll)
	assert.ErrorIs(t, err, ErrQuestionNotFound)

	failing := EligibilityFunc(func(context.Context, string) (bool, error) {
		return false, errors.New("directory unavailable")
	})
	_, err = f.voting.Vote(ctx, q.ID, "dave", opt, failing)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotEligible)

	// 以上均未计票
	tally, err := f.results.QuestionWithTally(ctx, q.ID)
	require.NoError(t, err)
	assert.Zero(t, tally.TotalVotes)
	assert.Empty(t, f.events.ofType(events.VoteCast))

	res, err := f.voting.Vote(ctx, q.ID, "dave", opt, ClassPolicy{Class: "Student", Allowed: []string{"student"}})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestVoteConservation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	q := submitQuestion(t, f, "A", "B", "C")

	const voters = 50
	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			opt := q.Options[i%len(q.Options)].ID
			if _, err := f.voting.Vote(ctx, q.ID, fmt.Sprintf("voter-%02d", i), opt, AllowAll); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("vote failed: %v", err)
	}

	tally, err := f.results.QuestionWithTally(ctx, q.ID)
	require.NoError(t, err)
	var sum int64
	for _, opt := range tally.Options {
		sum += opt.VoteCount
	}
	assert.Equal(t, int64(voters), tally.TotalVotes)
	assert.Equal(t, tally.TotalVotes, sum)
	assert.Equal(t, int64(17), tally.Options[0].VoteCount)
	assert.Equal(t, int64(17), tally.Options[1].VoteCount)
	assert.Equal(t, int64(16), tally.Options[2].VoteCount)
	assert.Equal(t, 34, tally.Options[0].Percentage)
	assert.Equal(t, 32, tally.Options[2].Percentage)
}

func TestClassPolicy(t *testing.T) {
	ctx := context.Background()

	ok, err := ClassPolicy{}.IsEligibleVoter(ctx, "dave")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = ClassPolicy{}.IsEligibleVoter(ctx, "")
	assert.False(t, ok)

	ok, _ = ClassPolicy{Class: "staff", Allowed: []string{"student", "staff"}}.IsEligibleVoter(ctx, "dave")
	assert.True(t, ok)
}
