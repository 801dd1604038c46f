package notes

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol/balance"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
)

// Column keys of the group-level columns.
const (
	ColumnEliminations = "eliminations"
	ColumnAdjustments  = "adjustments"
	ColumnConsolidated = "consolidated"
)

// EntityBalances is the post-elimination, translated balance set of one entity.
type EntityBalances struct {
	EntityID int64
	Name     string
	Balances balance.Balances
}

// Source carries every column feeding the notes.
type Source struct {
	Entities     []EntityBalances
	Eliminations balance.Balances
	Adjustments  balance.Balances
}

// Column is a value column of every note table.
type Column struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	EntityID int64  `json:"entity_id,omitempty"`
}

// Row is one subnote line of a note table. Values align with the columns.
type Row struct {
	Label    string            `json:"label"`
	Accounts []string          `json:"accounts,omitempty"`
	Values   []decimal.Decimal `json:"values"`
}

// Consolidated returns the last column value.
func (r Row) Consolidated() decimal.Decimal {
	if len(r.Values) == 0 {
		return decimal.Zero
	}
	return r.Values[len(r.Values)-1]
}

// Note is a rendered disclosure note. Single notes have exactly one distinct
// subnote and render as one value line; others render as a table.
type Note struct {
	Number    int       `json:"number"`
	Key       string    `json:"key"`
	Class     string    `json:"class"`
	Subclass  string    `json:"subclass"`
	Title     string    `json:"title"`
	Single    bool      `json:"single"`
	Columns   []Column  `json:"columns"`
	Rows      []Row     `json:"rows"`
	Total     Row       `json:"total"`
	ClassKind coa.Class `json:"class_kind"`
}

// Amount is the consolidated note total.
func (n Note) Amount() decimal.Decimal {
	return n.Total.Consolidated()
}

// SubclassTotal groups the notes of a subclass.
type SubclassTotal struct {
	Name  string          `json:"name"`
	Notes []Note          `json:"notes"`
	Total decimal.Decimal `json:"total"`
}

// ClassTotal groups the subclasses of a class.
type ClassTotal struct {
	Name       string          `json:"name"`
	Class      coa.Class       `json:"class"`
	Subclasses []SubclassTotal `json:"subclasses"`
	Total      decimal.Decimal `json:"total"`
}

// Aggregation is the note roll-up of one statement.
type Aggregation struct {
	Kind     coa.StatementKind `json:"kind"`
	Columns  []Column          `json:"columns"`
	Classes  []ClassTotal      `json:"classes"`
	Excluded []string          `json:"excluded,omitempty"`
}

// Notes lists the notes in traversal order.
func (a Aggregation) Notes() []Note {
	out := make([]Note, 0)
	for _, class := range a.Classes {
		for _, sub := range class.Subclasses {
			out = append(out, sub.Notes...)
		}
	}
	return out
}

// ClassSum totals every class of the aggregation that normalises to class.
func (a Aggregation) ClassSum(class coa.Class) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range a.Classes {
		if c.Class == class {
			sum = sum.Add(c.Total)
		}
	}
	return sum
}

// Columns derives the column layout from src: entities by id, then
// eliminations, adjustments and the consolidated column.
func Columns(src Source) []Column {
	entities := append([]EntityBalances(nil), src.Entities...)
	sort.SliceStable(entities, func(i, j int) bool { return entities[i].EntityID < entities[j].EntityID })
	cols := make([]Column, 0, len(entities)+3)
	for _, e := range entities {
		label := e.Name
		if label == "" {
			label = "Entity " + strconv.FormatInt(e.EntityID, 10)
		}
		cols = append(cols, Column{Key: "entity:" + strconv.FormatInt(e.EntityID, 10), Label: label, EntityID: e.EntityID})
	}
	return append(cols,
		Column{Key: ColumnEliminations, Label: "Eliminations"},
		Column{Key: ColumnAdjustments, Label: "Adjustments"},
		Column{Key: ColumnConsolidated, Label: "Consolidated"},
	)
}

// Aggregate attaches GL accounts to their subnote by exact path equality and
// sums each subnote per column. The consolidated value of a subnote is the sum
// of its entity columns plus group eliminations and adjustments. A note total
// is re-summed from the leaf accounts and compared with the subnote rows; a
// difference is reported as NoteDrift. Accounts with balances whose tag is
// incomplete or has no hierarchy path are excluded and reported. Accounts whose
// class is outside the tree's scope are left to the other statements; see
// Unplaced for balances no statement takes. Inactive accounts are aggregated.
func Aggregate(tree Tree, chart coa.Chart, src Source) (Aggregation, issues.Report) {
	var report issues.Report
	columns := Columns(src)
	layers := columnBalances(columns, src)
	scope := tree.scope
	if scope.Kind == "" {
		scope = ScopeFor(tree.Kind, nil)
	}

	leaves := make(map[string][]string)
	for _, path := range tree.Paths() {
		leaves[path.Key()] = nil
	}
	excluded := make([]string, 0)
	for _, code := range activeCodes(layers) {
		acc, ok := chart.Lookup(code)
		if !ok || !scope.Contains(acc.Path.Class) {
			continue
		}
		path := trimPath(acc.Path)
		if !path.Complete() {
			excluded = append(excluded, code)
			report.Warn(issues.KindUnmappedAccount, 0,
				fmt.Sprintf("account %s has an incomplete hierarchy tag %q", code, path.String()), code)
			continue
		}
		key := path.Key()
		if _, ok := leaves[key]; !ok {
			excluded = append(excluded, code)
			report.Warn(issues.KindHierarchyCycleOrGap, 0,
				fmt.Sprintf("account %s is tagged %q which has no active hierarchy path", code, path.String()), code)
			continue
		}
		leaves[key] = append(leaves[key], code)
	}

	agg := Aggregation{Kind: tree.Kind, Columns: columns, Excluded: excluded}
	for _, classNode := range tree.Classes {
		ct := ClassTotal{Name: classNode.Name, Class: classNode.Class, Total: decimal.Zero}
		for _, subNode := range classNode.Subclasses {
			st := SubclassTotal{Name: subNode.Name, Total: decimal.Zero}
			for _, noteNode := range subNode.Notes {
				note := buildNote(classNode, subNode, noteNode, columns, layers, leaves)
				if drift := sumRows(note.Rows, len(columns)); !drift.Equal(note.Amount()) {
					report.Warn(issues.KindNoteDrift, 0,
						fmt.Sprintf("note %d %q total %s differs from its subnotes %s", note.Number, note.Title, note.Amount(), drift), note.Key)
				}
				st.Notes = append(st.Notes, note)
				st.Total = st.Total.Add(note.Amount())
			}
			ct.Subclasses = append(ct.Subclasses, st)
			ct.Total = ct.Total.Add(st.Total)
		}
		agg.Classes = append(agg.Classes, ct)
	}
	return agg, report
}

func buildNote(class ClassNode, sub SubclassNode, node NoteNode, columns []Column, layers []balance.Balances, leaves map[string][]string) Note {
	note := Note{
		Number:    node.Number,
		Key:       node.Key,
		Class:     class.Name,
		Subclass:  sub.Name,
		Title:     node.Name,
		Single:    len(node.Subnotes) == 1,
		Columns:   columns,
		ClassKind: class.Class,
	}
	all := make([]string, 0)
	for _, leaf := range node.Subnotes {
		codes := leaves[leaf.Path.Key()]
		all = append(all, codes...)
		note.Rows = append(note.Rows, Row{Label: leaf.Name, Accounts: codes, Values: columnValues(codes, columns, layers)})
	}
	sort.Strings(all)
	note.Total = Row{Label: "Total", Accounts: all, Values: columnValues(all, columns, layers)}
	return note
}

// columnValues sums codes per input column; the consolidated column is the
// sum of the others.
func columnValues(codes []string, columns []Column, layers []balance.Balances) []decimal.Decimal {
	values := make([]decimal.Decimal, len(columns))
	consolidated := decimal.Zero
	for i := range layers {
		sum := decimal.Zero
		for _, code := range codes {
			sum = sum.Add(layers[i][code])
		}
		values[i] = sum
		consolidated = consolidated.Add(sum)
	}
	values[len(columns)-1] = consolidated
	return values
}

func sumRows(rows []Row, width int) decimal.Decimal {
	sum := decimal.Zero
	for _, row := range rows {
		if len(row.Values) == width {
			sum = sum.Add(row.Consolidated())
		}
	}
	return sum
}

// columnBalances lines up the balance maps with every column except the
// consolidated one.
func columnBalances(columns []Column, src Source) []balance.Balances {
	byID := make(map[int64]balance.Balances, len(src.Entities))
	for _, e := range src.Entities {
		byID[e.EntityID] = e.Balances
	}
	layers := make([]balance.Balances, 0, len(columns)-1)
	for _, col := range columns[:len(columns)-1] {
		switch col.Key {
		case ColumnEliminations:
			layers = append(layers, src.Eliminations)
		case ColumnAdjustments:
			layers = append(layers, src.Adjustments)
		default:
			layers = append(layers, byID[col.EntityID])
		}
	}
	return layers
}

func activeCodes(layers []balance.Balances) []string {
	seen := make(map[string]struct{})
	for _, layer := range layers {
		for code := range layer {
			seen[code] = struct{}{}
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
