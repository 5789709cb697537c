// Package metrics collects coverage pipeline counters.
//
// The Collector accumulates counters for the lifetime of a host session or a
// CLI invocation. It is a leaf package with no internal dependencies.
// Persistence policy counters are absorbed from policy.Stats on shutdown
// rather than recorded live, avoiding double-counting.
package metrics

import "sync"

// counter indexes the Collector's counter table.
type counter int

const (
	unitsDiscovered counter = iota
	unitsInstrumented
	unitsFlagged
	parseErrors
	stackMismatches
	emptyUnits
	fetchSuccess
	fetchFailure
	submissionsAccepted
	submissionsRejected
	pagesAdded
	unitsMerged
	unitsAppended
	mergeAmbiguities
	executorLaunchSuccess
	executorLaunchFailure
	executorCrash
	unitExecErrors
	ipcDecodeErrors
	storeWriteSuccess
	storeWriteFailure
	numCounters
)

// counterNames are the exported metric names, without namespace or suffix.
var counterNames = [numCounters]string{
	unitsDiscovered:       "units_discovered",
	unitsInstrumented:     "units_instrumented",
	unitsFlagged:          "units_flagged",
	parseErrors:           "parse_errors",
	stackMismatches:       "stack_mismatches",
	emptyUnits:            "empty_units",
	fetchSuccess:          "fetch_success",
	fetchFailure:          "fetch_failure",
	submissionsAccepted:   "submissions_accepted",
	submissionsRejected:   "submissions_rejected",
	pagesAdded:            "pages_added",
	unitsMerged:           "units_merged",
	unitsAppended:         "units_appended",
	mergeAmbiguities:      "merge_ambiguities",
	executorLaunchSuccess: "executor_launch_success",
	executorLaunchFailure: "executor_launch_failure",
	executorCrash:         "executor_crash",
	unitExecErrors:        "unit_exec_errors",
	ipcDecodeErrors:       "ipc_decode_errors",
	storeWriteSuccess:     "store_write_success",
	storeWriteFailure:     "store_write_failure",
}

// Snapshot is an immutable point-in-time view of all counters.
type Snapshot struct {
	// Instrumentation
	UnitsDiscovered   int64
	UnitsInstrumented int64
	UnitsFlagged      int64
	ParseErrors       int64
	StackMismatches   int64
	EmptyUnits        int64

	// Remote content
	FetchSuccess int64
	FetchFailure int64

	// Aggregation
	SubmissionsAccepted int64
	SubmissionsRejected int64
	PagesAdded          int64
	UnitsMerged         int64
	UnitsAppended       int64
	MergeAmbiguities    int64

	// Execution contexts
	ExecutorLaunchSuccess int64
	ExecutorLaunchFailure int64
	ExecutorCrash         int64
	UnitExecErrors        int64
	IPCDecodeErrors       int64

	// Storage
	StoreWriteSuccess int64
	StoreWriteFailure int64

	// Persistence policy (absorbed from policy.Stats)
	PolicySaves     int64
	PolicyPersisted int64
	PolicyFlushes   int64
	PolicyErrors    int64

	// Dimensions (informational, set at construction)
	Policy         string
	Executor       string
	StorageBackend string
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu       sync.Mutex
	counters [numCounters]int64
	exporter *Exporter

	policySaves     int64
	policyPersisted int64
	policyFlushes   int64
	policyErrors    int64

	policy         string
	executor       string
	storageBackend string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(policy, executor, storageBackend string) *Collector {
	return &Collector{
		policy:         policy,
		executor:       executor,
		storageBackend: storageBackend,
	}
}

// WithExporter mirrors every increment into e. It returns c.
func (c *Collector) WithExporter(e *Exporter) *Collector {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	c.exporter = e
	c.mu.Unlock()
	return c
}

func (c *Collector) add(k counter, n int) {
	if c == nil || n == 0 {
		return
	}
	c.mu.Lock()
	c.counters[k] += int64(n)
	e := c.exporter
	c.mu.Unlock()
	e.add(k, n)
}

// --- Instrumentation ---

// AddUnitsDiscovered records units extracted from a document.
func (c *Collector) AddUnitsDiscovered(n int) { c.add(unitsDiscovered, n) }

// IncUnitInstrumented records a successfully instrumented unit.
func (c *Collector) IncUnitInstrumented() { c.add(unitsInstrumented, 1) }

// IncUnitFlagged records a unit excluded from instrumentation.
func (c *Collector) IncUnitFlagged() { c.add(unitsFlagged, 1) }

// IncParseError records a ParseError.
func (c *Collector) IncParseError() { c.add(parseErrors, 1) }

// IncStackMismatch records a StackMismatchError, from instrumentation or
// from a report walk.
func (c *Collector) IncStackMismatch() { c.add(stackMismatches, 1) }

// IncEmptyUnit records a unit with zero statements.
func (c *Collector) IncEmptyUnit() { c.add(emptyUnits, 1) }

// --- Remote content ---

// IncFetchSuccess records fetched script content.
func (c *Collector) IncFetchSuccess() { c.add(fetchSuccess, 1) }

// IncFetchFailure records a FetchFailure.
func (c *Collector) IncFetchFailure() { c.add(fetchFailure, 1) }

// --- Aggregation ---

// IncSubmissionAccepted records a merged snapshot.
func (c *Collector) IncSubmissionAccepted() { c.add(submissionsAccepted, 1) }

// IncSubmissionRejected records a snapshot that could not be merged.
func (c *Collector) IncSubmissionRejected() { c.add(submissionsRejected, 1) }

// IncPageAdded records a URL new to its context.
func (c *Collector) IncPageAdded() { c.add(pagesAdded, 1) }

// AddUnitsMerged records units folded into existing ones.
func (c *Collector) AddUnitsMerged(n int) { c.add(unitsMerged, n) }

// AddUnitsAppended records newly discovered units appended to a page.
func (c *Collector) AddUnitsAppended(n int) { c.add(unitsAppended, n) }

// AddMergeAmbiguities records MergeAmbiguity diagnostics.
func (c *Collector) AddMergeAmbiguities(n int) { c.add(mergeAmbiguities, n) }

// --- Execution contexts ---

// IncExecutorLaunchSuccess records a successful executor launch.
func (c *Collector) IncExecutorLaunchSuccess() { c.add(executorLaunchSuccess, 1) }

// IncExecutorLaunchFailure records a failed executor launch.
func (c *Collector) IncExecutorLaunchFailure() { c.add(executorLaunchFailure, 1) }

// IncExecutorCrash records an executor that exited abnormally.
func (c *Collector) IncExecutorCrash() { c.add(executorCrash, 1) }

// IncUnitExecError records an instrumented unit that threw while loading.
func (c *Collector) IncUnitExecError() { c.add(unitExecErrors, 1) }

// IncIPCDecodeErrors records an IPC frame decode error.
func (c *Collector) IncIPCDecodeErrors() { c.add(ipcDecodeErrors, 1) }

// --- Storage ---
// Store counters are per-call: one Save is one success or failure.

// IncStoreWriteSuccess records a successful durable write.
func (c *Collector) IncStoreWriteSuccess() { c.add(storeWriteSuccess, 1) }

// IncStoreWriteFailure records a failed durable write.
func (c *Collector) IncStoreWriteFailure() { c.add(storeWriteFailure, 1) }

// AbsorbPolicyStats copies persistence counters from policy.Stats.
// Called once on shutdown with the final stats.
func (c *Collector) AbsorbPolicyStats(saves, persisted, flushes, errors int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.policySaves = saves
	c.policyPersisted = persisted
	c.policyFlushes = flushes
	c.policyErrors = errors
	c.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all counters.
// A nil Collector returns a zero Snapshot.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k := c.counters
	return Snapshot{
		UnitsDiscovered:       k[unitsDiscovered],
		UnitsInstrumented:     k[unitsInstrumented],
		UnitsFlagged:          k[unitsFlagged],
		ParseErrors:           k[parseErrors],
		StackMismatches:       k[stackMismatches],
		EmptyUnits:            k[emptyUnits],
		FetchSuccess:          k[fetchSuccess],
		FetchFailure:          k[fetchFailure],
		SubmissionsAccepted:   k[submissionsAccepted],
		SubmissionsRejected:   k[submissionsRejected],
		PagesAdded:            k[pagesAdded],
		UnitsMerged:           k[unitsMerged],
		UnitsAppended:         k[unitsAppended],
		MergeAmbiguities:      k[mergeAmbiguities],
		ExecutorLaunchSuccess: k[executorLaunchSuccess],
		ExecutorLaunchFailure: k[executorLaunchFailure],
		ExecutorCrash:         k[executorCrash],
		UnitExecErrors:        k[unitExecErrors],
		IPCDecodeErrors:       k[ipcDecodeErrors],
		StoreWriteSuccess:     k[storeWriteSuccess],
		StoreWriteFailure:     k[storeWriteFailure],
		PolicySaves:           c.policySaves,
		PolicyPersisted:       c.policyPersisted,
		PolicyFlushes:         c.policyFlushes,
		PolicyErrors:          c.policyErrors,
		Policy:                c.policy,
		Executor:              c.executor,
		StorageBackend:        c.storageBackend,
	}
}

// Counters returns the snapshot counters keyed by metric name, for
// record-oriented sinks.
func (s Snapshot) Counters() map[string]int64 {
	return map[string]int64{
		counterNames[unitsDiscovered]:       s.UnitsDiscovered,
		counterNames[unitsInstrumented]:     s.UnitsInstrumented,
		counterNames[unitsFlagged]:          s.UnitsFlagged,
		counterNames[parseErrors]:           s.ParseErrors,
		counterNames[stackMismatches]:       s.StackMismatches,
		counterNames[emptyUnits]:            s.EmptyUnits,
		counterNames[fetchSuccess]:          s.FetchSuccess,
		counterNames[fetchFailure]:          s.FetchFailure,
		counterNames[submissionsAccepted]:   s.SubmissionsAccepted,
		counterNames[submissionsRejected]:   s.SubmissionsRejected,
		counterNames[pagesAdded]:            s.PagesAdded,
		counterNames[unitsMerged]:           s.UnitsMerged,
		counterNames[unitsAppended]:         s.UnitsAppended,
		counterNames[mergeAmbiguities]:      s.MergeAmbiguities,
		counterNames[executorLaunchSuccess]: s.ExecutorLaunchSuccess,
		counterNames[executorLaunchFailure]: s.ExecutorLaunchFailure,
		counterNames[executorCrash]:         s.ExecutorCrash,
		counterNames[unitExecErrors]:        s.UnitExecErrors,
		counterNames[ipcDecodeErrors]:       s.IPCDecodeErrors,
		counterNames[storeWriteSuccess]:     s.StoreWriteSuccess,
		counterNames[storeWriteFailure]:     s.StoreWriteFailure,
		"policy_saves":                      s.PolicySaves,
		"policy_persisted":                  s.PolicyPersisted,
		"policy_flushes":                    s.PolicyFlushes,
		"policy_errors":                     s.PolicyErrors,
	}
}
