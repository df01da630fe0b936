package features

import "fmt"

// FeaturizationError reports a raw field that is absent, invalid, or produces
// a non-finite derived feature for one row.
type FeaturizationError struct {
	Field  string
	Reason string
}

func (e *FeaturizationError) Error() string {
	return fmt.Sprintf("featurization failed on %s: %s", e.Field, e.Reason)
}
