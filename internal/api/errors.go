package api

import (
	"fmt"
	"net/http"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/gin-gonic/gin"
)

// writeError renders err as the typed response payload spec §6.5 calls
// for ("API-level errors are surfaced as typed response payloads, not as
// HTTP status alone"): the HTTP status is still chosen sensibly for
// clients that only look at it, but the body always carries the kind.
func writeError(c *gin.Context, err error) {
	kind := coreerr.Kind(err)
	c.JSON(statusFor(kind), gin.H{
		"error": gin.H{
			"kind":    kind,
			"message": err.Error(),
		},
	})
}

func statusFor(kind string) int {
	switch kind {
	case "ParseError", "ArityError", "ArgumentError", "EmptyQuery", "ValidationError", "UnknownOperator", "UnknownVariable":
		return http.StatusBadRequest
	case "UnknownAgent", "UnknownTool", "NotFound":
		return http.StatusNotFound
	case "AlreadyExists", "Conflict":
		return http.StatusConflict
	case "BackpressureRejected":
		return http.StatusTooManyRequests
	case "AwaitTimeout", "CognitionTimeout":
		return http.StatusGatewayTimeout
	case "SandboxViolation":
		return http.StatusUnprocessableEntity
	case "StorageUnavailable", "EmbeddingUnavailable":
		return http.StatusServiceUnavailable
	case "Cancelled":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var errInvalidJSON = fmt.Errorf("invalid request body: %w", coreerr.ErrValidation)
