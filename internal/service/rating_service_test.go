package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebank/internal/model"
)

func completedSession(t *testing.T, env *testEnv) *model.SessionRecord {
	t.Helper()
	s := env.bookConfirmed(t, 60)
	s, err := env.sessions.Complete(context.Background(), s.ID, learnerID)
	require.NoError(t, err)
	return s
}

func TestRate_PendingSessionRejected(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, learnerID, 100)
	s := env.book(t, 60)

	_, err := env.ratings.Submit(context.Background(), &RateRequest{
		SessionID: s.ID, RaterID: learnerID, RatedID: teacherID, Score: 5,
	})

	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.Equal(t, int64(0), env.count(t, &model.Rating{}))
}

func TestRate_BothParticipantsOnce(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, learnerID, 100)
	s := completedSession(t, env)
	ctx := context.Background()

	r, err := env.ratings.Submit(ctx, &RateRequest{
		SessionID: s.ID, RaterID: learnerID, RatedID: teacherID, Score: 5, Feedback: "great lesson",
	})
	require.NoError(t, err)
	assert.NotZero(t, r.ID)

	_, err = env.ratings.Submit(ctx, &RateRequest{
		SessionID: s.ID, RaterID: teacherID, RatedID: learnerID, Score: 4,
	})
	require.NoError(t, err, "the other side rates independently")

	_, err = env.ratings.Submit(ctx, &RateRequest{
		SessionID: s.ID, RaterID: learnerID, RatedID: teacherID, Score: 1,
	})
	assert.ErrorIs(t, err, model.ErrDuplicateRating)
	assert.Equal(t, int64(2), env.count(t, &model.Rating{}))
}

func TestRate_CounterpartyRules(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, learnerID, 100)
	s := completedSession(t, env)

	tests := []struct {
		name    string
		raterID string
		ratedID string
	}{
		{"rating yourself", learnerID, learnerID},
		{"rating an outsider", learnerID, outsider},
		{"outsider rating a participant", outsider, teacherID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.ratings.Submit(context.Background(), &RateRequest{
				SessionID: s.ID, RaterID: tt.raterID, RatedID: tt.ratedID, Score: 3,
			})
			assert.ErrorIs(t, err, model.ErrInvalidCounterparty)
		})
	}
}

func TestRate_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, learnerID, 100)
	s := completedSession(t, env)

	for _, score := range []int{0, 6, -1} {
		_, err := env.ratings.Submit(context.Background(), &RateRequest{
			SessionID: s.ID, RaterID: learnerID, RatedID: teacherID, Score: score,
		})
		var vErr *model.ValidationError
		require.ErrorAs(t, err, &vErr, "score %d", score)
		assert.Equal(t, "score", vErr.Field)
	}

	_, err := env.ratings.Submit(context.Background(), &RateRequest{
		SessionID: "SES-missing", RaterID: learnerID, RatedID: teacherID, Score: 3,
	})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRatings_ListAndSummary(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t, learnerID, 300)
	ctx := context.Background()

	for _, score := range []int{5, 4, 3} {
		s := completedSession(t, env)
		_, err := env.ratings.Submit(ctx, &RateRequest{
			SessionID: s.ID, RaterID: learnerID, RatedID: teacherID, Score: score,
		})
		require.NoError(t, err)
	}

	page, err := env.ratings.ListForUser(ctx, teacherID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.List, 2)
	require.NotNil(t, page.Summary)
	assert.Equal(t, int64(3), page.Summary.Count)
	assert.InDelta(t, 4.0, page.Summary.Average, 0.001)

	empty, err := env.ratings.Summary(ctx, learnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Count)
	assert.Equal(t, 0.0, empty.Average)
}
