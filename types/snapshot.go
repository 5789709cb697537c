package types

// PageSnapshot is one coverage submission: every unit of one document as
// observed by one execution.
type PageSnapshot struct {
	// URL is the address of the document at submission time.
	URL string `json:"url" msgpack:"url"`
	// ScriptObjects are the units in discovery order.
	ScriptObjects []*Unit `json:"scriptObjects" msgpack:"scriptObjects"`
}

// Clone returns a deep copy of the snapshot.
func (p *PageSnapshot) Clone() *PageSnapshot {
	if p == nil {
		return nil
	}
	c := &PageSnapshot{URL: p.URL}
	if p.ScriptObjects != nil {
		c.ScriptObjects = make([]*Unit, len(p.ScriptObjects))
		for i, u := range p.ScriptObjects {
			c.ScriptObjects[i] = u.Clone()
		}
	}
	return c
}

// AggregatedCoverage is the merged coverage kept for one execution context.
// It holds at most one PageSnapshot per URL.
type AggregatedCoverage struct {
	ContextID string          `json:"context_id" msgpack:"context_id"`
	Pages     []*PageSnapshot `json:"pages" msgpack:"pages"`
	// Submissions counts accepted snapshots.
	Submissions int64 `json:"submissions" msgpack:"submissions"`
	// UpdatedAt is the RFC3339 time of the last accepted submission.
	UpdatedAt string `json:"updated_at,omitempty" msgpack:"updated_at,omitempty"`
}

// NewAggregatedCoverage returns empty coverage for contextID.
func NewAggregatedCoverage(contextID string) *AggregatedCoverage {
	return &AggregatedCoverage{ContextID: contextID, Pages: []*PageSnapshot{}}
}

// Page returns the snapshot recorded for url, or nil.
func (a *AggregatedCoverage) Page(url string) *PageSnapshot {
	for _, p := range a.Pages {
		if p.URL == url {
			return p
		}
	}
	return nil
}

// Clone returns a deep copy.
func (a *AggregatedCoverage) Clone() *AggregatedCoverage {
	if a == nil {
		return nil
	}
	c := *a
	c.Pages = make([]*PageSnapshot, len(a.Pages))
	for i, p := range a.Pages {
		c.Pages[i] = p.Clone()
	}
	return &c
}
