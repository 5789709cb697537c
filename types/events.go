package types

// CoverageUpdatedEvent is published to notification adapters after a
// submission has been merged.
type CoverageUpdatedEvent struct {
	// EventID uniquely identifies this notification.
	EventID string `json:"event_id"`
	// ContextID is the execution context whose coverage changed.
	ContextID string `json:"context_id"`
	// PageURL is the submitted page.
	PageURL string `json:"page_url"`
	// GlobalPercent is the context-wide percentage after the merge.
	GlobalPercent string `json:"global_percent"`
	// Executed and Total are the context-wide command counters.
	Executed int `json:"executed"`
	Total    int `json:"total"`
	// PageAdded is true when the URL was new to the context.
	PageAdded bool `json:"page_added"`
	// UnitsMerged and UnitsAppended describe the merge.
	UnitsMerged   int `json:"units_merged"`
	UnitsAppended int `json:"units_appended"`
	// Ambiguities counts incoming units that matched more than one unit.
	Ambiguities int `json:"ambiguities"`
	// Ts is the RFC3339 time of the merge.
	Ts string `json:"ts"`
}
