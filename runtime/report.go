package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/scriptcover/metrics"
	"github.com/pithecene-io/scriptcover/policy"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	ContextID        string        `json:"context_id"`
	PageURL          string        `json:"page_url"`
	InstrumentedPath string        `json:"instrumented_path,omitempty"`
	Outcome          OutcomeStatus `json:"outcome"`
	Message          string        `json:"message"`
	ExitCode         int           `json:"exit_code"`
	DurationMs       int64         `json:"duration_ms"`

	Units    *ReportUnits    `json:"units"`
	Requests *ReportRequests `json:"requests"`
	Coverage *ReportCoverage `json:"coverage,omitempty"`
	Policy   *ReportPolicy   `json:"policy,omitempty"`
	Metrics  *metrics.Snapshot `json:"metrics"`

	Stderr string `json:"stderr,omitempty"`
}

// ReportUnits holds discovery and instrumentation counts.
type ReportUnits struct {
	Total        int `json:"total"`
	Instrumented int `json:"instrumented"`
	Flagged      int `json:"flagged"`
}

// ReportRequests holds ingestion counts.
type ReportRequests struct {
	Total       int64 `json:"total"`
	Submissions int64 `json:"submissions"`
	Rejected    int64 `json:"rejected"`
}

// ReportCoverage holds the context's coverage totals after the run.
type ReportCoverage struct {
	GlobalPercent string `json:"global_percent"`
	Commands      int    `json:"commands"`
	Units         int    `json:"units"`
}

// ReportPolicy holds policy stats in the report.
type ReportPolicy struct {
	Name      string `json:"name"`
	Saves     int64  `json:"saves"`
	Persisted int64  `json:"persisted"`
	Flushes   int64  `json:"flushes"`
	Errors    int64  `json:"errors"`
}

// BuildRunReport composes a RunReport from a RunResult and metrics snapshot.
// The policyName is the policy name string ("strict" or "buffered").
// The exitCode is the process exit code that will be returned to the caller.
func BuildRunReport(result *RunResult, snap metrics.Snapshot, policyName string, exitCode int) *RunReport {
	report := &RunReport{
		ContextID:        result.ContextID,
		PageURL:          result.PageURL,
		InstrumentedPath: result.InstrumentedPath,
		Outcome:          result.Outcome.Status,
		Message:          result.Outcome.Message,
		ExitCode:         exitCode,
		DurationMs:       result.Duration.Milliseconds(),
		Units: &ReportUnits{
			Total:        result.Units,
			Instrumented: result.Units - result.Flagged,
			Flagged:      result.Flagged,
		},
		Requests: &ReportRequests{
			Total:       result.Requests,
			Submissions: result.Submissions,
			Rejected:    result.Rejected,
		},
		Metrics: &snap,
		Stderr:  result.StderrOutput,
	}

	if s := result.Summary; s != nil {
		report.Coverage = &ReportCoverage{
			GlobalPercent: s.GlobalPercent,
			Commands:      s.CommandCount,
			Units:         len(s.PerUnit),
		}
	}
	if ps := result.PolicyStats; ps != nil {
		report.Policy = reportPolicy(policyName, *ps)
	}

	return report
}

func reportPolicy(name string, ps policy.Stats) *ReportPolicy {
	return &ReportPolicy{
		Name:      name,
		Saves:     ps.Saves,
		Persisted: ps.Persisted,
		Flushes:   ps.Flushes,
		Errors:    ps.Errors,
	}
}

// WriteRunReport writes the report as JSON to the specified path.
// If path is "-", writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = os.Stderr.Write(data)
		if err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

// writeRunReportTo writes report JSON to any writer (for testing).
func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
