// ABOUTME: Maps registry errors onto HTTP status codes and the {code, message} body
// ABOUTME: Unknown errors become 500 with their message

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nainya/modelregistry/pkg/errdefs"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, errdefs.ErrTypeNotFound):
		return http.StatusNotFound, "TYPE_NOT_FOUND"
	case errors.Is(err, errdefs.ErrDuplicate):
		return http.StatusConflict, "DUPLICATE"
	case errors.Is(err, errdefs.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, errdefs.ErrStateTransition):
		return http.StatusConflict, "ILLEGAL_STATE_TRANSITION"
	case errors.Is(err, errdefs.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, errdefs.ErrInvalidPageToken):
		return http.StatusBadRequest, "INVALID_PAGE_TOKEN"
	case errors.Is(err, errdefs.ErrUnsupportedType):
		return http.StatusBadRequest, "UNSUPPORTED_TYPE"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "DEADLINE_EXCEEDED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

// abort writes err as the response and records it for the access log
func abort(c *gin.Context, err error) {
	status, code := classify(err)
	c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Code: code, Message: err.Error()})
}
