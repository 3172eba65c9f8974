package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"timebank/internal/config"
	"timebank/internal/infrastructure/database"
	"timebank/internal/infrastructure/lock"
	"timebank/internal/model"
)

const (
	teacherID = "teacher-ann"
	learnerID = "learner-bob"
	outsider  = "mallory"
	skillID   = "skill-guitar"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	db       *gorm.DB
	cfg      *config.Config
	engine   *LedgerEngine
	sessions *SessionService
	ratings  *RatingService
	accounts *AccountService
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := database.OpenTest(t)
	cfg := config.Default()

	env := &testEnv{db: db, cfg: cfg, now: testNow}
	env.engine = NewLedgerEngine(db, lock.NewLocalLocker(), cfg)
	env.engine.SetClock(env.clock)
	env.sessions = NewSessionService(db, env.engine)
	env.sessions.SetClock(env.clock)
	env.ratings = NewRatingService(db)
	env.accounts = NewAccountService(db, env.engine)

	require.NoError(t, db.Create(&model.Skill{ID: skillID, TeacherID: teacherID, Title: "Guitar basics"}).Error)
	return env
}

func (e *testEnv) clock() time.Time { return e.now }

func (e *testEnv) grant(t *testing.T, userID string, amount int64) {
	t.Helper()
	_, err := e.accounts.Grant(context.Background(), userID, amount, "admin")
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID string) *Balance {
	t.Helper()
	b, err := e.accounts.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (e *testEnv) bookRequest(duration int64) *BookRequest {
	start := e.now.Add(2 * time.Hour)
	return &BookRequest{
		LearnerID:    learnerID,
		SkillID:      skillID,
		StartTime:    start,
		EndTime:      start.Add(time.Duration(duration) * time.Minute),
		Duration:     duration,
		LocationType: model.LocationOnline,
	}
}

func (e *testEnv) book(t *testing.T, duration int64) *model.SessionRecord {
	t.Helper()
	s, err := e.sessions.Book(context.Background(), e.bookRequest(duration))
	require.NoError(t, err)
	return s
}

func (e *testEnv) bookConfirmed(t *testing.T, duration int64) *model.SessionRecord {
	t.Helper()
	s := e.book(t, duration)
	s, err := e.sessions.Confirm(context.Background(), s.ID, teacherID)
	require.NoError(t, err)
	return s
}

func (e *testEnv) entries(t *testing.T, sessionID string, kind model.TransactionKind) []*model.CreditTransaction {
	t.Helper()
	all, err := e.engine.transactionRepo.ListBySession(context.Background(), sessionID)
	require.NoError(t, err)
	var out []*model.CreditTransaction
	for _, entry := range all {
		if entry.Kind == kind {
			out = append(out, entry)
		}
	}
	return out
}

func (e *testEnv) count(t *testing.T, m interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(m).Count(&n).Error)
	return n
}
