package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"timebank/internal/config"
	"timebank/pkg/logger"
	"timebank/pkg/response"
)

const (
	actorKey        = "actor_id"
	headerUserID    = "X-User-ID"
	headerRequestID = "X-Request-ID"
)

// LoggerMiddleware tags every request with a request id, puts a request
// scoped logger into the context and logs the outcome.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path = path + "?" + q
		}

		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(headerRequestID, requestID)

		l := log.With().Str("request_id", requestID).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), l))

		c.Next()

		l.Info().
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("actor_id", c.GetString(actorKey)).
			Msg("http request")
	}
}

// RecoveryMiddleware turns a panic into a 500 instead of killing the server.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.FromContext(c.Request.Context()).Error().
					Str("panic", fmt.Sprint(err)).
					Str("path", c.Request.URL.Path).
					Msg("recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, response.Response{
					Code:    response.CodeServerError,
					Message: "internal server error",
				})
			}
		}()
		c.Next()
	}
}

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-User-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// ActorMiddleware resolves the caller. With a JWT secret configured the caller
// is the subject of an HS256 bearer token; otherwise the trusted gateway's
// X-User-ID header is used as is.
func ActorMiddleware(auth config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var actor string
		if auth.JWTSecret != "" {
			sub, err := subjectFromBearer(c.GetHeader("Authorization"), auth.JWTSecret)
			if err != nil {
				response.Unauthorized(c, err.Error())
				return
			}
			actor = sub
		} else {
			actor = strings.TrimSpace(c.GetHeader(headerUserID))
		}

		if actor == "" {
			response.Unauthorized(c, "missing caller identity")
			return
		}

		c.Set(actorKey, actor)
		l := logger.FromContext(c.Request.Context()).With().Str("actor_id", actor).Logger()
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), l))
		c.Next()
	}
}

// AdminOnly rejects callers not listed in auth.admin_ids.
func AdminOnly(auth config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !auth.IsAdmin(c.GetString(actorKey)) {
			c.AbortWithStatusJSON(http.StatusOK, response.Response{
				Code:    response.CodeForbidden,
				Message: "admin only",
			})
			return
		}
		c.Next()
	}
}

func actorID(c *gin.Context) string {
	return c.GetString(actorKey)
}

var errBadAuthHeader = errors.New("invalid authorization header format")

func subjectFromBearer(header, secret string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errBadAuthHeader
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.New("token expired")
		}
		return "", errors.New("invalid token")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// IssueToken signs an HS256 token for userID valid for ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		Issuer:    "timebank",
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
