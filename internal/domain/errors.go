package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify failures with errors.Is.
var (
	// ErrData marks missing, misaligned or too short input data.
	ErrData = errors.New("data error")
	// ErrView marks a malformed or unusable view.
	ErrView = errors.New("view error")
	// ErrNumerical marks singular or ill-conditioned linear algebra.
	ErrNumerical = errors.New("numerical error")
	// ErrConstraintInfeasible marks risk limits that cannot all be met.
	ErrConstraintInfeasible = errors.New("constraint infeasible")
	// ErrConfig marks invalid configuration.
	ErrConfig = errors.New("config error")
)

// Errorf wraps kind with a formatted message so that errors.Is(err, kind) holds.
func Errorf(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// IsRecoverable reports whether a backtest window can be skipped instead of
// aborting the run.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrData) || errors.Is(err, ErrView) || errors.Is(err, ErrNumerical)
}

// Kind names the error kind of err for logs and stored results. Errors outside
// the taxonomy are "internal".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrData):
		return "data"
	case errors.Is(err, ErrView):
		return "view"
	case errors.Is(err, ErrNumerical):
		return "numerical"
	case errors.Is(err, ErrConstraintInfeasible):
		return "constraint_infeasible"
	case errors.Is(err, ErrConfig):
		return "config"
	default:
		return "internal"
	}
}
