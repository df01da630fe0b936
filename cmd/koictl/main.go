package main

import (
	"errors"
	"fmt"
	"os"
)

// Exit codes for different failure modes
const (
	ExitSuccess   = 0 // Every row was classified
	ExitRowErrors = 1 // The run completed but some rows failed
	ExitError     = 2 // Configuration or runtime error
)

// RowErrorsError reports a completed run in which rows failed featurization
// or inference. It is only returned when --fail-on-errors is set.
type RowErrorsError struct {
	Failed int
	Total  int
}

func (e *RowErrorsError) Error() string {
	return fmt.Sprintf("%d of %d rows failed", e.Failed, e.Total)
}

func main() {
	if err := execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var rowErr *RowErrorsError
		if errors.As(err, &rowErr) {
			os.Exit(ExitRowErrors)
		}
		os.Exit(ExitError)
	}
}
