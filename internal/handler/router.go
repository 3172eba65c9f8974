package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timebank/internal/config"
)

// SetupRouter wires middleware and routes.
func SetupRouter(h *Handler, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(LoggerMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1", ActorMiddleware(cfg.Auth))
	{
		sessions := api.Group("/sessions")
		{
			sessions.POST("", h.BookSession)
			sessions.GET("", h.ListSessions)
			sessions.GET("/:id", h.GetSession)
			sessions.GET("/:id/history", h.SessionHistory)
			sessions.POST("/:id/confirm", h.ConfirmSession)
			sessions.POST("/:id/cancel", h.CancelSession)
			sessions.POST("/:id/complete", h.CompleteSession)
			sessions.POST("/:id/ratings", h.RateSession)
		}

		api.GET("/users/:id/ratings", h.ListUserRatings)

		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/transactions", h.ListTransactions)
		}

		admin := api.Group("/admin", AdminOnly(cfg.Auth))
		{
			admin.GET("/accounts", h.ListAccounts)
			admin.POST("/grant", h.Grant)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
