package runtime

import (
	"fmt"
)

// Exit codes of the execution harness.
const (
	ExitCodeCompleted    = 0 // page ran, final snapshot submitted
	ExitCodeError        = 1 // page failed to load or driver script threw
	ExitCodeCrash        = 2 // harness crash
	ExitCodeInvalidInput = 3 // invalid arguments or input
)

// OutcomeStatus classifies how a run ended.
type OutcomeStatus string

const (
	// OutcomeSuccess means the harness exited cleanly after submitting coverage.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeNoCoverage means the harness exited cleanly without submitting.
	OutcomeNoCoverage OutcomeStatus = "no_coverage"
	// OutcomeScriptError means the page or driver failed inside the harness.
	OutcomeScriptError OutcomeStatus = "script_error"
	// OutcomeExecutorCrash means the harness crashed or broke the stream.
	OutcomeExecutorCrash OutcomeStatus = "executor_crash"
	// OutcomeStoreFailure means coverage could not be recorded.
	OutcomeStoreFailure OutcomeStatus = "store_failure"
)

// RunOutcome is the final classification of a run.
type RunOutcome struct {
	Status  OutcomeStatus `json:"status"`
	Message string        `json:"message"`
}

// DetermineOutcome classifies a run that ended without an ingestion error.
// The exit code decides the category; a clean exit without any accepted
// submission is reported as OutcomeNoCoverage.
func DetermineOutcome(exitCode int, submissions int64) *RunOutcome {
	switch exitCode {
	case ExitCodeCompleted:
		if submissions > 0 {
			return &RunOutcome{
				Status:  OutcomeSuccess,
				Message: fmt.Sprintf("run completed with %d submission(s)", submissions),
			}
		}
		return &RunOutcome{
			Status:  OutcomeNoCoverage,
			Message: "executor exited cleanly without submitting coverage",
		}

	case ExitCodeError:
		return &RunOutcome{
			Status:  OutcomeScriptError,
			Message: "executor reported a script error",
		}

	case ExitCodeCrash:
		return &RunOutcome{
			Status:  OutcomeExecutorCrash,
			Message: "executor crashed",
		}

	case ExitCodeInvalidInput:
		return &RunOutcome{
			Status:  OutcomeExecutorCrash,
			Message: "executor rejected invalid input",
		}

	default:
		return &RunOutcome{
			Status:  OutcomeExecutorCrash,
			Message: fmt.Sprintf("executor exited with unexpected code %d", exitCode),
		}
	}
}

// outcomeFromIngestionError classifies a run that ended on an ingestion error.
func outcomeFromIngestionError(err error) *RunOutcome {
	switch {
	case IsHandlerError(err):
		return &RunOutcome{
			Status:  OutcomeStoreFailure,
			Message: fmt.Sprintf("store failure: %v", err),
		}
	case IsCanceledError(err):
		return &RunOutcome{
			Status:  OutcomeExecutorCrash,
			Message: fmt.Sprintf("run canceled: %v", err),
		}
	default:
		return &RunOutcome{
			Status:  OutcomeExecutorCrash,
			Message: fmt.Sprintf("stream error: %v", err),
		}
	}
}

// ExitCode maps an outcome to the CLI exit code.
func (o *RunOutcome) ExitCode() int {
	switch o.Status {
	case OutcomeSuccess:
		return 0
	case OutcomeScriptError, OutcomeNoCoverage:
		return 1
	case OutcomeStoreFailure:
		return 3
	default:
		return 2
	}
}
