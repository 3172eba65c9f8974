package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"timebank/internal/model"
	"timebank/internal/service"
	"timebank/pkg/response"
)

// Handler binds HTTP requests to the session, rating and account services.
// The caller identity always comes from ActorMiddleware, never from the body.
type Handler struct {
	sessionService *service.SessionService
	ratingService  *service.RatingService
	accountService *service.AccountService
}

func NewHandler(sessions *service.SessionService, ratings *service.RatingService, accounts *service.AccountService) *Handler {
	return &Handler{
		sessionService: sessions,
		ratingService:  ratings,
		accountService: accounts,
	}
}

// ============================================================
// Sessions
// ============================================================

// BookSession
// POST /api/v1/sessions
//
// The caller is the learner. request_id (or the Idempotency-Key header) makes
// retries return the original booking.
func (h *Handler) BookSession(c *gin.Context) {
	var req service.BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}
	req.LearnerID = actorID(c)
	if req.RequestID == "" {
		req.RequestID = c.GetHeader("Idempotency-Key")
	}

	session, err := h.sessionService.Book(c.Request.Context(), &req)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, session)
}

// GetSession
// GET /api/v1/sessions/:id
func (h *Handler) GetSession(c *gin.Context) {
	session, err := h.sessionService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.FromError(c, err)
		return
	}
	if !session.IsParticipant(actorID(c)) {
		response.FromError(c, model.ErrForbidden)
		return
	}
	response.Success(c, session)
}

// ListSessions
// GET /api/v1/sessions?role=teacher|learner&status=pending&page=1&page_size=20
func (h *Handler) ListSessions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.sessionService.ListForUser(c.Request.Context(), actorID(c), service.ListFilter{
		Role:     c.Query("role"),
		Status:   model.SessionStatus(c.Query("status")),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ConfirmSession
// POST /api/v1/sessions/:id/confirm
func (h *Handler) ConfirmSession(c *gin.Context) {
	h.transition(c, h.sessionService.Confirm)
}

// CancelSession
// POST /api/v1/sessions/:id/cancel
func (h *Handler) CancelSession(c *gin.Context) {
	h.transition(c, h.sessionService.Cancel)
}

// CompleteSession
// POST /api/v1/sessions/:id/complete
//
// Completing an already completed session succeeds with the stored record.
func (h *Handler) CompleteSession(c *gin.Context) {
	h.transition(c, h.sessionService.Complete)
}

// SessionHistory
// GET /api/v1/sessions/:id/history
func (h *Handler) SessionHistory(c *gin.Context) {
	history, err := h.sessionService.History(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, history)
}

func (h *Handler) transition(c *gin.Context, fn func(ctx context.Context, sessionID, actorID string) (*model.SessionRecord, error)) {
	session, err := fn(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, session)
}

// ============================================================
// Ratings
// ============================================================

type rateSessionRequest struct {
	RatedID  string `json:"rated_id" binding:"required"`
	Score    int    `json:"score" binding:"required"`
	Feedback string `json:"feedback"`
}

// RateSession
// POST /api/v1/sessions/:id/ratings
func (h *Handler) RateSession(c *gin.Context) {
	var req rateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	rating, err := h.ratingService.Submit(c.Request.Context(), &service.RateRequest{
		SessionID: c.Param("id"),
		RaterID:   actorID(c),
		RatedID:   req.RatedID,
		Score:     req.Score,
		Feedback:  req.Feedback,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, rating)
}

// ListUserRatings
// GET /api/v1/users/:id/ratings?page=1&page_size=20
func (h *Handler) ListUserRatings(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.ratingService.ListForUser(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// Account
// ============================================================

// GetBalance
// GET /api/v1/account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	balance, err := h.accountService.GetBalance(c.Request.Context(), actorID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, balance)
}

// ListTransactions
// GET /api/v1/account/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.accountService.ListTransactions(c.Request.Context(), actorID(c), page, pageSize)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, result)
}

// ListAccounts
// GET /api/v1/admin/accounts
func (h *Handler) ListAccounts(c *gin.Context) {
	balances, err := h.accountService.ListAccounts(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, balances)
}

type grantRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required,gt=0"`
}

// Grant
// POST /api/v1/admin/grant
func (h *Handler) Grant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return
	}

	balance, err := h.accountService.Grant(c.Request.Context(), req.UserID, req.Amount, actorID(c))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, balance)
}
