package utils

import (
	"errors"
	"net/http"

	"github.com/aristath/allocator/internal/domain"
)

// ErrorStatus maps a pipeline error kind to an HTTP status code.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfig), errors.Is(err, domain.ErrView):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConstraintInfeasible):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrData):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}
