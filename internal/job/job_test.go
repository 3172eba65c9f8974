package job

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
	"timebank/internal/service"
)

const (
	teacherID = "teacher-ann"
	learnerID = "learner-bob"
	skillID   = "skill-guitar"
)

type fixture struct {
	db       *gorm.DB
	cfg      *config.Config
	engine   *service.LedgerEngine
	sessions *service.SessionService
	accounts *service.AccountService
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		db:  database.OpenTest(t),
		cfg: config.Default(),
		now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	f.engine = service.NewLedgerEngine(f.db, lock.NewLocalLocker(), f.cfg)
	f.engine.SetClock(f.clock)
	f.sessions = service.NewSessionService(f.db, f.engine)
	f.sessions.SetClock(f.clock)
	f.accounts = service.NewAccountService(f.db, f.engine)

	require.NoError(t, f.db.Create(&model.Skill{ID: skillID, TeacherID: teacherID, Title: "Guitar basics"}).Error)
	return f
}

func (f *fixture) clock() time.Time { return f.now }

// book opens a session starting one hour from the fixture clock.
func (f *fixture) book(t *testing.T, duration int64) *model.SessionRecord {
	t.Helper()
	start := f.now.Add(time.Hour)
	s, err := f.sessions.Book(context.Background(), &service.BookRequest{
		LearnerID:    learnerID,
		SkillID:      skillID,
		StartTime:    start,
		EndTime:      start.Add(time.Duration(duration) * time.Minute),
		Duration:     duration,
		LocationType: model.LocationOnline,
	})
	require.NoError(t, err)
	return s
}

func (f *fixture) balance(t *testing.T, userID string) *service.Balance {
	t.Helper()
	b, err := f.accounts.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}
