package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wisebound/sentinel/pkg/apperrors"
)

// respondError maps err's apperrors.Kind onto an HTTP status (spec.md §7)
// and writes a sanitized body; internal detail never reaches the
// requester (apperrors.UserFacing strips secret references and paths).
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindTransient:
		status = http.StatusServiceUnavailable
	case apperrors.KindIntegrity:
		status = http.StatusInternalServerError
	case apperrors.KindCapacity:
		status = http.StatusTooManyRequests
	case apperrors.KindAuthorization:
		status = http.StatusForbidden
	case apperrors.KindInvariant:
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": apperrors.UserFacing(err)})
}
