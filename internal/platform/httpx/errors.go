// Package httpx provides HTTP response utilities for the worker ops endpoint.
package httpx

import (
	"errors"
	"net/http"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/consolbatch/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrConfiguration):
		Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, asynq.ErrDuplicateTask), errors.Is(err, asynq.ErrTaskIDConflict):
		Problem(w, http.StatusConflict, "Duplicate", "an identical batch is already queued")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
