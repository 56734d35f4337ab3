package workflow

import "fmt"

// planInvalidError signals a rejected plan or correction for 400 mapping.
type planInvalidError struct{ reason string }

func (e planInvalidError) Error() string { return "invalid plan: " + e.reason }

// ErrPlanInvalid constructs a planInvalidError.
func ErrPlanInvalid(reason string) error { return planInvalidError{reason: reason} }

// IsPlanInvalid reports whether err indicates a malformed or empty plan.
func IsPlanInvalid(err error) bool {
	_, ok := err.(planInvalidError)
	return ok
}

// taskNotFoundError signals a result report for an unknown task id.
type taskNotFoundError struct{ id int }

func (e taskNotFoundError) Error() string { return fmt.Sprintf("task not found: %d", e.id) }

// ErrTaskNotFound constructs a taskNotFoundError.
func ErrTaskNotFound(id int) error { return taskNotFoundError{id: id} }

// IsTaskNotFound reports whether err indicates an unknown task id.
func IsTaskNotFound(err error) bool {
	_, ok := err.(taskNotFoundError)
	return ok
}
