package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Martian-dev/leadsync/internal/analysis"
	"github.com/Martian-dev/leadsync/internal/auth"
	"github.com/Martian-dev/leadsync/internal/leads"
	"github.com/Martian-dev/leadsync/internal/store"
	"github.com/Martian-dev/leadsync/internal/sync"
)

// statusOf maps a domain error to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, sync.ErrRemoteNotFound):
		return http.StatusNotFound
	case errors.Is(err, leads.ErrInvalid):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrConflict), errors.Is(err, sync.ErrAlreadyRunning), errors.Is(err, sync.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, store.ErrExpired):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrCredentialsExpired):
		// the account must be reconnected
		return http.StatusConflict
	case errors.Is(err, auth.ErrUnauthorized),
		errors.Is(err, auth.ErrProviderUnavailable),
		errors.Is(err, analysis.ErrUnavailable),
		errors.Is(err, analysis.ErrBadAnswer):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.FullPath()).Str("user_id", auth.UserID(c)).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
