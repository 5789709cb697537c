package aggregate

import (
	"github.com/pithecene-io/scriptcover/types"
)

// Ambiguity records an incoming unit that matched more than one stored
// unit. The first candidate received the counts.
type Ambiguity struct {
	URL           string `json:"url"`
	Origin        string `json:"origin"`
	IncomingIndex int    `json:"incoming_index"`
	// Candidates are indexes into the stored page's unit list.
	Candidates []int `json:"candidates"`
}

// MergeResult describes what one submission changed.
type MergeResult struct {
	PageAdded     bool        `json:"page_added"`
	UnitsMerged   int         `json:"units_merged"`
	UnitsAppended int         `json:"units_appended"`
	BlocksUpdated int         `json:"blocks_updated"`
	Ambiguities   []Ambiguity `json:"ambiguities,omitempty"`
}

// Normalize makes every block count of every unit in snap explicit:
// executedBlock gets an entry, 0 when never observed, for each id in
// [0, blockCounter]. Negative counts are treated as unobserved.
func Normalize(snap *types.PageSnapshot) {
	if snap == nil {
		return
	}
	for _, u := range snap.ScriptObjects {
		if u == nil {
			continue
		}
		if u.BlockCounter < 0 {
			u.BlockCounter = 0
		}
		if len(u.ExecutedBlock) < u.BlockCounter+1 {
			grown := make([]int64, u.BlockCounter+1)
			copy(grown, u.ExecutedBlock)
			u.ExecutedBlock = grown
		}
		for k := range u.ExecutedBlock {
			if u.ExecutedBlock[k] < 0 {
				u.ExecutedBlock[k] = 0
			}
		}
		if len(u.Commands) == 0 {
			u.Commands = []string{""}
		}
	}
}

// sameUnit reports whether incoming is the stored unit seen again.
// External units are identified by address alone; inline units share the
// page address and also need identical instrumented text.
func sameUnit(stored, incoming *types.Unit) bool {
	if stored.Src != incoming.Src {
		return false
	}
	if stored.External && incoming.External {
		return true
	}
	return stored.Instrumented == incoming.Instrumented
}

// Merge folds snap into cov. snap is not retained or modified: cov only
// ever holds copies.
//
// A new URL appends the whole snapshot. For a known URL each incoming unit
// either updates its match, overwriting a stored count only with a
// nonzero incoming count, or is appended as a newly discovered unit.
func Merge(cov *types.AggregatedCoverage, snap *types.PageSnapshot) MergeResult {
	var res MergeResult
	incoming := snap.Clone()
	Normalize(incoming)
	incoming.ScriptObjects = compact(incoming.ScriptObjects)

	page := cov.Page(incoming.URL)
	if page == nil {
		cov.Pages = append(cov.Pages, incoming)
		res.PageAdded = true
		res.UnitsAppended = len(incoming.ScriptObjects)
		return res
	}

	for i, in := range incoming.ScriptObjects {
		var candidates []int
		for j, stored := range page.ScriptObjects {
			if sameUnit(stored, in) {
				candidates = append(candidates, j)
			}
		}
		if len(candidates) == 0 {
			page.ScriptObjects = append(page.ScriptObjects, in)
			res.UnitsAppended++
			continue
		}
		if len(candidates) > 1 {
			res.Ambiguities = append(res.Ambiguities, Ambiguity{
				URL:           incoming.URL,
				Origin:        in.Src,
				IncomingIndex: i,
				Candidates:    candidates,
			})
		}
		res.BlocksUpdated += mergeCounts(page.ScriptObjects[candidates[0]], in)
		res.UnitsMerged++
	}
	return res
}

// mergeCounts copies the nonzero counts of in onto stored and returns how
// many stored counts changed.
func mergeCounts(stored, in *types.Unit) int {
	updated := 0
	for k := 1; k <= in.BlockCounter && k < len(in.ExecutedBlock); k++ {
		n := in.ExecutedBlock[k]
		if n == 0 {
			continue
		}
		if k >= len(stored.ExecutedBlock) {
			grown := make([]int64, k+1)
			copy(grown, stored.ExecutedBlock)
			stored.ExecutedBlock = grown
		}
		if stored.ExecutedBlock[k] != n {
			stored.ExecutedBlock[k] = n
			updated++
		}
	}
	return updated
}

func compact(units []*types.Unit) []*types.Unit {
	out := units[:0]
	for _, u := range units {
		if u != nil {
			out = append(out, u)
		}
	}
	return out
}
