package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timebank/internal/config"
	"timebank/internal/infrastructure/database"
	"timebank/internal/infrastructure/lock"
	"timebank/internal/model"
	"timebank/internal/service"
	"timebank/pkg/response"
)

const (
	teacherID = "teacher-ann"
	learnerID = "learner-bob"
	adminID   = "admin-1"
	skillID   = "skill-guitar"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	cfg    *config.Config
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Auth.AdminIDs = []string{adminID}
	if mutate != nil {
		mutate(cfg)
	}

	db := database.OpenTest(t)
	require.NoError(t, db.Create(&model.Skill{ID: skillID, TeacherID: teacherID, Title: "Guitar basics"}).Error)

	engine := service.NewLedgerEngine(db, lock.NewLocalLocker(), cfg)
	h := NewHandler(
		service.NewSessionService(db, engine),
		service.NewRatingService(db),
		service.NewAccountService(db, engine),
	)
	return &testServer{router: SetupRouter(h, cfg), cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, path, actor string, body interface{}, headers ...string) envelope {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-User-ID", actor)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func decode(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func bookBody(duration int64) gin.H {
	start := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	return gin.H{
		"skill_id":      skillID,
		"start_time":    start,
		"end_time":      start.Add(time.Duration(duration) * time.Minute),
		"duration":      duration,
		"location_type": "online",
	}
}

func TestHandler_SessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	env := s.do(t, http.MethodPost, "/api/v1/admin/grant", adminID, gin.H{"user_id": learnerID, "amount": 100})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	env = s.do(t, http.MethodPost, "/api/v1/sessions", learnerID, bookBody(60))
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var booked model.SessionRecord
	decode(t, env, &booked)
	assert.Equal(t, model.SessionStatusPending, booked.Status)
	assert.Equal(t, teacherID, booked.TeacherID)
	assert.Equal(t, learnerID, booked.LearnerID)

	var bal service.Balance
	decode(t, s.do(t, http.MethodGet, "/api/v1/account/balance", learnerID, nil), &bal)
	assert.Equal(t, int64(40), bal.Available)
	assert.Equal(t, int64(60), bal.Reserved)

	env = s.do(t, http.MethodPost, "/api/v1/sessions/"+booked.ID+"/confirm", learnerID, nil)
	assert.Equal(t, response.CodeForbidden, env.Code)

	env = s.do(t, http.MethodPost, "/api/v1/sessions/"+booked.ID+"/confirm", teacherID, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	for i := 0; i < 2; i++ {
		env = s.do(t, http.MethodPost, "/api/v1/sessions/"+booked.ID+"/complete", learnerID, nil)
		require.Equal(t, response.CodeSuccess, env.Code, env.Message)
		var done model.SessionRecord
		decode(t, env, &done)
		assert.Equal(t, model.SessionStatusCompleted, done.Status)
	}

	decode(t, s.do(t, http.MethodGet, "/api/v1/account/balance", teacherID, nil), &bal)
	assert.Equal(t, int64(60), bal.Available)

	env = s.do(t, http.MethodPost, "/api/v1/sessions/"+booked.ID+"/ratings", learnerID,
		gin.H{"rated_id": teacherID, "score": 5, "feedback": "great"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	env = s.do(t, http.MethodPost, "/api/v1/sessions/"+booked.ID+"/ratings", learnerID,
		gin.H{"rated_id": teacherID, "score": 4})
	assert.Equal(t, response.CodeDuplicateRating, env.Code)

	env = s.do(t, http.MethodGet, "/api/v1/users/"+teacherID+"/ratings", learnerID, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var ratings service.RatingPage
	decode(t, env, &ratings)
	assert.Equal(t, int64(1), ratings.Total)
}

func TestHandler_BookInsufficientFunds(t *testing.T) {
	s := newTestServer(t, nil)

	env := s.do(t, http.MethodPost, "/api/v1/sessions", learnerID, bookBody(30))
	assert.Equal(t, response.CodeInsufficientFunds, env.Code)
	assert.Empty(t, env.Data)
}

func TestHandler_BookValidation(t *testing.T) {
	s := newTestServer(t, nil)

	body := bookBody(30)
	body["location_type"] = "moon"
	env := s.do(t, http.MethodPost, "/api/v1/sessions", learnerID, body)
	assert.Equal(t, response.CodeParamError, env.Code)

	env = s.do(t, http.MethodPost, "/api/v1/sessions", learnerID, "not an object")
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestHandler_BookIdempotencyKey(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/admin/grant", adminID, gin.H{"user_id": learnerID, "amount": 100})

	body := bookBody(30)
	var first, second model.SessionRecord
	decode(t, s.do(t, http.MethodPost, "/api/v1/sessions", learnerID, body, "Idempotency-Key", "req-1"), &first)
	decode(t, s.do(t, http.MethodPost, "/api/v1/sessions", learnerID, body, "Idempotency-Key", "req-1"), &second)
	assert.Equal(t, first.ID, second.ID)

	var bal service.Balance
	decode(t, s.do(t, http.MethodGet, "/api/v1/account/balance", learnerID, nil), &bal)
	assert.Equal(t, int64(30), bal.Reserved)
}

func TestHandler_GetSessionParticipantsOnly(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/admin/grant", adminID, gin.H{"user_id": learnerID, "amount": 100})

	var booked model.SessionRecord
	decode(t, s.do(t, http.MethodPost, "/api/v1/sessions", learnerID, bookBody(30)), &booked)

	assert.Equal(t, response.CodeSuccess, s.do(t, http.MethodGet, "/api/v1/sessions/"+booked.ID, teacherID, nil).Code)
	assert.Equal(t, response.CodeForbidden, s.do(t, http.MethodGet, "/api/v1/sessions/"+booked.ID, "mallory", nil).Code)
	assert.Equal(t, response.CodeNotFound, s.do(t, http.MethodGet, "/api/v1/sessions/SES0", teacherID, nil).Code)

	env := s.do(t, http.MethodGet, "/api/v1/sessions?role=teacher&status=pending", teacherID, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var page service.SessionPage
	decode(t, env, &page)
	assert.Equal(t, int64(1), page.Total)

	env = s.do(t, http.MethodGet, "/api/v1/sessions?role=owner", teacherID, nil)
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestHandler_CancelReleasesReservation(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/admin/grant", adminID, gin.H{"user_id": learnerID, "amount": 50})

	var booked model.SessionRecord
	decode(t, s.do(t, http.MethodPost, "/api/v1/sessions", learnerID, bookBody(50)), &booked)

	env := s.do(t, http.MethodPost, "/api/v1/sessions/"+booked.ID+"/cancel", teacherID, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	env = s.do(t, http.MethodPost, "/api/v1/sessions/"+booked.ID+"/cancel", teacherID, nil)
	assert.Equal(t, response.CodeInvalidState, env.Code)

	var bal service.Balance
	decode(t, s.do(t, http.MethodGet, "/api/v1/account/balance", learnerID, nil), &bal)
	assert.Equal(t, int64(50), bal.Available)
	assert.Equal(t, int64(0), bal.Reserved)

	env = s.do(t, http.MethodGet, "/api/v1/account/transactions", learnerID, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var txs service.TransactionPage
	decode(t, env, &txs)
	assert.Equal(t, int64(3), txs.Total) // grant, reserve, release
}

func TestHandler_AdminAccounts(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/admin/grant", adminID, gin.H{"user_id": learnerID, "amount": 80})
	s.do(t, http.MethodPost, "/api/v1/admin/grant", adminID, gin.H{"user_id": teacherID, "amount": 20})

	env := s.do(t, http.MethodGet, "/api/v1/admin/accounts", adminID, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var balances []service.Balance
	decode(t, env, &balances)
	require.Len(t, balances, 2)
	assert.Equal(t, learnerID, balances[0].UserID)
	assert.Equal(t, int64(80), balances[0].Total)
	assert.Equal(t, teacherID, balances[1].UserID)

	env = s.do(t, http.MethodGet, "/api/v1/admin/accounts", learnerID, nil)
	assert.Equal(t, response.CodeForbidden, env.Code)
}

func TestHandler_SessionHistory(t *testing.T) {
	s := newTestServer(t, nil)
	s.do(t, http.MethodPost, "/api/v1/admin/grant", adminID, gin.H{"user_id": learnerID, "amount": 50})

	var booked model.SessionRecord
	decode(t, s.do(t, http.MethodPost, "/api/v1/sessions", learnerID, bookBody(20)), &booked)
	s.do(t, http.MethodPost, "/api/v1/sessions/"+booked.ID+"/cancel", learnerID, nil)

	env := s.do(t, http.MethodGet, "/api/v1/sessions/"+booked.ID+"/history", teacherID, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var history service.SessionHistory
	decode(t, env, &history)
	assert.Len(t, history.Transactions, 2) // reserve, release
	assert.Len(t, history.Events, 2)       // booked, cancelled

	env = s.do(t, http.MethodGet, "/api/v1/sessions/"+booked.ID+"/history", "mallory", nil)
	assert.Equal(t, response.CodeForbidden, env.Code)
}

func TestHandler_Auth(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, response.CodeUnauthorized, s.do(t, http.MethodGet, "/api/v1/account/balance", "", nil).Code)

	env := s.do(t, http.MethodPost, "/api/v1/admin/grant", learnerID, gin.H{"user_id": learnerID, "amount": 100})
	assert.Equal(t, response.CodeForbidden, env.Code)

	env = s.do(t, http.MethodPost, "/api/v1/admin/grant", adminID, gin.H{"user_id": learnerID, "amount": 0})
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestHandler_JWT(t *testing.T) {
	const secret = "test-secret"
	s := newTestServer(t, func(cfg *config.Config) { cfg.Auth.JWTSecret = secret })

	token, err := IssueToken(secret, learnerID, time.Hour)
	require.NoError(t, err)

	// the header is ignored once tokens are required
	assert.Equal(t, response.CodeUnauthorized, s.do(t, http.MethodGet, "/api/v1/account/balance", learnerID, nil).Code)

	env := s.do(t, http.MethodGet, "/api/v1/account/balance", "", nil, "Authorization", "Bearer "+token)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var bal service.Balance
	decode(t, env, &bal)
	assert.Equal(t, learnerID, bal.UserID)

	forged, err := IssueToken("other-secret", learnerID, time.Hour)
	require.NoError(t, err)
	env = s.do(t, http.MethodGet, "/api/v1/account/balance", "", nil, "Authorization", "Bearer "+forged)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	expired, err := IssueToken(secret, learnerID, -time.Minute)
	require.NoError(t, err)
	env = s.do(t, http.MethodGet, "/api/v1/account/balance", "", nil, "Authorization", "Bearer "+expired)
	assert.Equal(t, response.CodeUnauthorized, env.Code)
	assert.Equal(t, "token expired", env.Message)
}

func TestHandler_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
