package ingestion

import "fmt"

// ValidationError means the artifact was rejected before any write was
// attempted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}
