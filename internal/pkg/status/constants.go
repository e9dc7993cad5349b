package status

import (
	"fmt"
	"strings"
)

// Enrollment session statuses. The attempt/specimen statuses are
// parameterized, use the formatter funcs below.
const (
	Initializing = "initializing"
	Capturing    = "capturing"
	Captured     = "captured"
	Complete     = "complete"
	Error        = "error"
)

// CapturingAttempt returns the status for a started capture attempt
func CapturingAttempt(n int) string {
	return fmt.Sprintf("capturing_attempt_%d", n)
}

// AttemptComplete returns the status for a finished capture attempt
func AttemptComplete(n int) string {
	return fmt.Sprintf("attempt_%d_complete", n)
}

// SpecimenCaptured returns the status for an accepted specimen
func SpecimenCaptured(n int) string {
	return fmt.Sprintf("specimen_%d_captured", n)
}

// IsTerminal returns true for final statuses
func IsTerminal(st string) bool {
	return st == Complete || st == Error
}

// Message maps a status to the user facing progress message.
// The mapping is fixed, unknown statuses fall back to a generic message.
func Message(st string, currentSpecimen int) string {
	switch {
	case st == Initializing:
		return "Initializing enrollment..."
	case st == Capturing:
		return "Starting capture process..."
	case strings.HasPrefix(st, "capturing_attempt_"):
		return fmt.Sprintf("Capturing attempt %d/3...", currentSpecimen)
	case strings.HasPrefix(st, "attempt_") && strings.HasSuffix(st, "_complete"):
		return fmt.Sprintf("Attempt %s/3 completed successfully", strings.Split(st, "_")[1])
	case st == Captured:
		return "All samples captured - awaiting confirmation"
	case st == Complete:
		return "Enrollment complete"
	case st == Error:
		return "Enrollment failed"
	}
	return "Processing..."
}
