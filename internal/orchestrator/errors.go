package orchestrator

import "fmt"

// healthTimeoutError signals that a stage's readiness probe never
// succeeded within its attempt budget.
type healthTimeoutError struct{ what string }

func (e healthTimeoutError) Error() string { return fmt.Sprintf("%s did not become ready in time", e.what) }

// IsHealthTimeout reports whether err indicates a readiness probe timeout.
func IsHealthTimeout(err error) bool {
	_, ok := err.(healthTimeoutError)
	return ok
}
