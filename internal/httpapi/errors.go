package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goliatone/go-market-trends/session"
	"github.com/goliatone/go-market-trends/trends"
)

type errorDetail struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

// StatusFor maps a pipeline error to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, session.ErrClosed) {
		return http.StatusGone
	}
	if errors.Is(err, session.ErrNoParameters) {
		return http.StatusConflict
	}

	kind := trends.KindOf(err)
	switch {
	case kind == trends.KindInvalidParameters:
		return http.StatusBadRequest
	case kind == trends.KindNotFound:
		return http.StatusNotFound
	case kind == trends.KindExhausted, kind == trends.KindAllDimensionsFailed, kind == trends.KindQueryFailed:
		return http.StatusBadGateway
	case kind.Retryable():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, errorBody{
		Error: errorDetail{
			Message: err.Error(),
			Kind:    string(trends.KindOf(err)),
		},
	})
}
