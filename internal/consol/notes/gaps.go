package notes

import (
	"github.com/odyssey-erp/consolidation/internal/consol/balance"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
)

// Gap is a GL account that cannot be aggregated.
type Gap struct {
	AccountCode string            `json:"account_code"`
	Path        coa.HierarchyPath `json:"path"`
	Kind        issues.Kind       `json:"kind"`
}

// Gaps lists every chart account whose tag is incomplete (UnmappedAccount) or
// does not resolve to an active hierarchy path (HierarchyCycleOrGap),
// independent of balances. Accounts are returned in code order.
func Gaps(hierarchy []coa.HierarchyNode, chart coa.Chart) []Gap {
	active := activePaths(hierarchy)
	out := make([]Gap, 0)
	for _, code := range chart.Codes() {
		acc, _ := chart.Lookup(code)
		if gap, ok := pathGap(acc, active); ok {
			out = append(out, gap)
		}
	}
	return out
}

// Unplaced lists the accounts with a non-zero balance that no statement of
// scopes presents: codes missing from the chart, incomplete tags, tags whose
// class belongs to none of the scopes and tags without an active hierarchy
// path. Accounts are returned in code order.
func Unplaced(hierarchy []coa.HierarchyNode, chart coa.Chart, balances balance.Balances, scopes []Scope) []Gap {
	active := activePaths(hierarchy)
	out := make([]Gap, 0)
	for _, code := range balances.Codes() {
		if balances[code].IsZero() {
			continue
		}
		acc, ok := chart.Lookup(code)
		if !ok {
			out = append(out, Gap{AccountCode: code, Kind: issues.KindUnmappedAccount})
			continue
		}
		if gap, ok := pathGap(acc, active); ok {
			out = append(out, gap)
			continue
		}
		if !presented(acc.Path.Class, scopes) {
			out = append(out, Gap{AccountCode: code, Path: trimPath(acc.Path), Kind: issues.KindHierarchyCycleOrGap})
		}
	}
	return out
}

// Inactive lists inactive chart accounts that still carry a balance.
func Inactive(chart coa.Chart, balances balance.Balances) []string {
	out := make([]string, 0)
	for _, code := range balances.Codes() {
		if acc, ok := chart.Lookup(code); ok && !acc.Active && !balances[code].IsZero() {
			out = append(out, code)
		}
	}
	return out
}

func activePaths(hierarchy []coa.HierarchyNode) map[string]struct{} {
	active := make(map[string]struct{}, len(hierarchy))
	for _, node := range hierarchy {
		path := trimPath(node.Path)
		if node.Active && path.Complete() {
			active[path.Key()] = struct{}{}
		}
	}
	return active
}

func pathGap(acc coa.Account, active map[string]struct{}) (Gap, bool) {
	path := trimPath(acc.Path)
	if !path.Complete() {
		return Gap{AccountCode: acc.Code, Path: path, Kind: issues.KindUnmappedAccount}, true
	}
	if _, ok := active[path.Key()]; !ok {
		return Gap{AccountCode: acc.Code, Path: path, Kind: issues.KindHierarchyCycleOrGap}, true
	}
	return Gap{}, false
}

func presented(class string, scopes []Scope) bool {
	for _, scope := range scopes {
		if scope.Contains(class) {
			return true
		}
	}
	return false
}
