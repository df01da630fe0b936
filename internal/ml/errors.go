package ml

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"koi-classifier/internal/features"
)

// FeaturizationError is returned when a row cannot be turned into features.
type FeaturizationError = features.FeaturizationError

// SchemaMismatchError reports feature columns the bundle expects but the
// preprocessed table does not provide.
type SchemaMismatchError struct {
	Missing  []string
	Expected []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch: missing %d of %d bundle features: %s",
		len(e.Missing), len(e.Expected), strings.Join(e.Missing, ", "))
}

// BundleLoadError reports a bundle that is absent, unreadable or inconsistent.
type BundleLoadError struct {
	Path string
	Err  error
}

func (e *BundleLoadError) Error() string {
	return fmt.Sprintf("load bundle %s: %v", e.Path, e.Err)
}

func (e *BundleLoadError) Unwrap() error { return e.Err }

func bundleErr(path string, format string, args ...any) *BundleLoadError {
	return &BundleLoadError{Path: path, Err: fmt.Errorf(format, args...)}
}

// ErrorKind classifies a prediction error for metrics and reports.
func ErrorKind(err error) string {
	var (
		fe *FeaturizationError
		se *SchemaMismatchError
		be *BundleLoadError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fe):
		return "featurization"
	case errors.As(err, &se):
		return "schema_mismatch"
	case errors.As(err, &be):
		return "bundle_load"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
