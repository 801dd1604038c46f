// Package notes rolls GL balances up the Class, Subclass, Note, Subnote
// hierarchy and numbers the resulting disclosure notes.
package notes

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
)

// DefaultCashFlowClass is the hierarchy class read by the cash flow statement.
const DefaultCashFlowClass = "Cash Flow"

// Scope restricts a traversal to the classes presented on one statement.
type Scope struct {
	Kind   coa.StatementKind
	layout []coa.Class
	custom []string
}

// ScopeFor returns the class subset of kind. Balance sheet and income
// statement scopes are disjoint. The cash flow scope matches raw class names
// from cashFlowClasses, defaulting to DefaultCashFlowClass.
func ScopeFor(kind coa.StatementKind, cashFlowClasses []string) Scope {
	switch kind {
	case coa.BalanceSheet:
		return Scope{Kind: kind, layout: []coa.Class{coa.ClassAssets, coa.ClassLiabilities, coa.ClassEquity}}
	case coa.IncomeStatement:
		return Scope{Kind: kind, layout: []coa.Class{coa.ClassIncome, coa.ClassExpenses}}
	case coa.EquityStatement:
		return Scope{Kind: kind, layout: []coa.Class{coa.ClassEquity}}
	}
	names := make([]string, 0, len(cashFlowClasses))
	for _, name := range cashFlowClasses {
		if folded := coa.FoldName(name); folded != "" {
			names = append(names, folded)
		}
	}
	if len(names) == 0 {
		names = []string{coa.FoldName(DefaultCashFlowClass)}
	}
	return Scope{Kind: coa.CashFlow, custom: names}
}

// rank orders a raw class label within the scope. ok is false when the class
// is not presented on this statement.
func (s Scope) rank(rawClass string) (int, bool) {
	if len(s.custom) > 0 {
		folded := coa.FoldName(rawClass)
		for i, name := range s.custom {
			if name == folded {
				return i, true
			}
		}
		return 0, false
	}
	class := coa.NormalizeClass(rawClass)
	for i, c := range s.layout {
		if c == class {
			return i, true
		}
	}
	return 0, false
}

// Contains reports whether rawClass belongs to the scope.
func (s Scope) Contains(rawClass string) bool {
	_, ok := s.rank(rawClass)
	return ok
}

// Tree is the filtered, ordered hierarchy of one statement.
type Tree struct {
	Kind    coa.StatementKind `json:"kind"`
	Classes []ClassNode       `json:"classes"`
	scope   Scope
}

// ClassNode is a top-level class.
type ClassNode struct {
	Name       string         `json:"name"`
	Class      coa.Class      `json:"class"`
	Subclasses []SubclassNode `json:"subclasses"`
}

// SubclassNode groups notes.
type SubclassNode struct {
	Name  string     `json:"name"`
	Notes []NoteNode `json:"notes"`
}

// NoteNode is a numbered note.
type NoteNode struct {
	Name     string        `json:"name"`
	Key      string        `json:"key"`
	Number   int           `json:"number"`
	Subnotes []SubnoteNode `json:"subnotes"`
}

// SubnoteNode is a leaf of the hierarchy; GL accounts attach here.
type SubnoteNode struct {
	Name string            `json:"name"`
	Path coa.HierarchyPath `json:"path"`
}

// Paths lists every subnote path of the tree in traversal order.
func (t Tree) Paths() []coa.HierarchyPath {
	out := make([]coa.HierarchyPath, 0)
	for _, class := range t.Classes {
		for _, sub := range class.Subclasses {
			for _, note := range sub.Notes {
				for _, leaf := range note.Subnotes {
					out = append(out, leaf.Path)
				}
			}
		}
	}
	return out
}

// Build assembles the tree of scope from the master hierarchy and numbers its
// notes starting at start. Inactive rows are skipped. Active rows missing a
// level are reported as HierarchyCycleOrGap. Classes follow the statement
// layout; subclasses, notes and subnotes are ordered by folded name.
func Build(hierarchy []coa.HierarchyNode, scope Scope, start int) (Tree, Numbering, issues.Report) {
	var report issues.Report
	type row struct {
		rank int
		path coa.HierarchyPath
		keys [4]string
	}
	seen := make(map[string]int, len(hierarchy))
	rows := make([]row, 0, len(hierarchy))
	for _, node := range hierarchy {
		if !node.Active {
			continue
		}
		rank, ok := scope.rank(node.Path.Class)
		if !ok {
			continue
		}
		path := trimPath(node.Path)
		if !path.Complete() {
			report.Warn(issues.KindHierarchyCycleOrGap, 0,
				fmt.Sprintf("hierarchy row %q is missing a level and was skipped", path.String()), path.Key())
			continue
		}
		key := path.Key()
		if i, dup := seen[key]; dup {
			// Spelling variants of one path keep the smallest name.
			if path.String() < rows[i].path.String() {
				rows[i].path = path
			}
			continue
		}
		seen[key] = len(rows)
		rows = append(rows, row{
			rank: rank,
			path: path,
			keys: [4]string{coa.FoldName(path.Class), coa.FoldName(path.Subclass), coa.FoldName(path.Note), coa.FoldName(path.Subnote)},
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].rank != rows[j].rank {
			return rows[i].rank < rows[j].rank
		}
		for k := 0; k < 4; k++ {
			if rows[i].keys[k] != rows[j].keys[k] {
				return rows[i].keys[k] < rows[j].keys[k]
			}
		}
		return false
	})

	tree := Tree{Kind: scope.Kind, scope: scope}
	var lastClass, lastSub, lastNote string
	for _, r := range rows {
		if len(tree.Classes) == 0 || r.keys[0] != lastClass {
			tree.Classes = append(tree.Classes, ClassNode{Name: r.path.Class, Class: coa.NormalizeClass(r.path.Class)})
			lastClass, lastSub, lastNote = r.keys[0], "", ""
		}
		class := &tree.Classes[len(tree.Classes)-1]
		if len(class.Subclasses) == 0 || r.keys[1] != lastSub {
			class.Subclasses = append(class.Subclasses, SubclassNode{Name: r.path.Subclass})
			lastSub, lastNote = r.keys[1], ""
		}
		sub := &class.Subclasses[len(class.Subclasses)-1]
		if len(sub.Notes) == 0 || r.keys[2] != lastNote {
			sub.Notes = append(sub.Notes, NoteNode{Name: r.path.Note, Key: r.path.NoteKey()})
			lastNote = r.keys[2]
		}
		note := &sub.Notes[len(sub.Notes)-1]
		note.Subnotes = append(note.Subnotes, SubnoteNode{Name: r.path.Subnote, Path: r.path})
	}

	numbering, _ := Number(tree, start)
	for ci := range tree.Classes {
		for si := range tree.Classes[ci].Subclasses {
			notes := tree.Classes[ci].Subclasses[si].Notes
			for ni := range notes {
				notes[ni].Number = numbering[notes[ni].Key]
			}
		}
	}
	return tree, numbering, report
}

func trimPath(p coa.HierarchyPath) coa.HierarchyPath {
	return coa.HierarchyPath{
		Class:    strings.TrimSpace(p.Class),
		Subclass: strings.TrimSpace(p.Subclass),
		Note:     strings.TrimSpace(p.Note),
		Subnote:  strings.TrimSpace(p.Subnote),
	}
}
