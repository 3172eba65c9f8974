package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"timebank/internal/model"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// Business codes. Clients branch on these, e.g. insufficient funds means
// "teach more", validation means "fix the input".
const (
	CodeInsufficientFunds   = 1001
	CodeInvalidState        = 1002
	CodeInvalidCounterparty = 1003
	CodeDuplicateRating     = 1004
	CodeConcurrentUpdate    = 1005
	CodeBusy                = 1006
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, CodeParamError, message)
}

func Unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusOK, Response{Code: CodeUnauthorized, Message: message})
}

func ServerError(c *gin.Context, message string) {
	Error(c, CodeServerError, message)
}

// CodeOf maps a service error onto its response code.
func CodeOf(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return CodeParamError
	case errors.Is(err, model.ErrInsufficientFunds):
		return CodeInsufficientFunds
	case errors.Is(err, model.ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, model.ErrForbidden):
		return CodeForbidden
	case errors.Is(err, model.ErrInvalidCounterparty):
		return CodeInvalidCounterparty
	case errors.Is(err, model.ErrDuplicateRating):
		return CodeDuplicateRating
	case errors.Is(err, model.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, model.ErrConcurrentUpdate):
		return CodeConcurrentUpdate
	case errors.Is(err, model.ErrBusy):
		return CodeBusy
	default:
		return CodeServerError
	}
}

// FromError writes err with its mapped code. Unclassified errors are reported
// without their internal message.
func FromError(c *gin.Context, err error) {
	code := CodeOf(err)
	if code == CodeServerError {
		ServerError(c, "internal server error")
		return
	}
	Error(c, code, err.Error())
}
