// Package syncdiff categorises an already-parsed bulk upload against the
// records currently stored: additions, updates, deletions and unchanged rows.
package syncdiff

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownDataset is returned by DatasetByName.
var ErrUnknownDataset = errors.New("syncdiff: unknown dataset")

// Record is one row of named string fields. It encodes as a flat JSON object.
type Record struct {
	Fields map[string]string
}

// MarshalJSON encodes the fields as a flat object.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.Fields)
}

// UnmarshalJSON accepts a flat object of scalar values. Numbers and booleans
// keep their literal text; null becomes an empty field.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Fields = make(map[string]string, len(raw))
	for name, value := range raw {
		value = bytes.TrimSpace(value)
		switch {
		case len(value) == 0 || bytes.Equal(value, []byte("null")):
			r.Fields[name] = ""
		case value[0] == '"':
			var s string
			if err := json.Unmarshal(value, &s); err != nil {
				return fmt.Errorf("syncdiff: field %s: %w", name, err)
			}
			r.Fields[name] = s
		case value[0] == '{' || value[0] == '[':
			return fmt.Errorf("syncdiff: field %s must be a scalar", name)
		default:
			r.Fields[name] = string(value)
		}
	}
	return nil
}

// NewRecord builds a record from alternating field names and values.
func NewRecord(pairs ...string) Record {
	fields := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields[pairs[i]] = pairs[i+1]
	}
	return Record{Fields: fields}
}

// Get returns a trimmed field value.
func (r Record) Get(name string) string {
	return strings.TrimSpace(r.Fields[name])
}

// Dataset describes the natural key and tracked fields of a record set.
type Dataset struct {
	Name          string
	KeyFields     []string
	TrackedFields []string
}

// AccountDataset is the chart of accounts, keyed by account code.
var AccountDataset = Dataset{
	Name:          "accounts",
	KeyFields:     []string{"account_code"},
	TrackedFields: []string{"name", "class", "subclass", "note", "subnote", "active", "to_be_eliminated"},
}

// HierarchyDataset is the master hierarchy, keyed by the full four-level path.
var HierarchyDataset = Dataset{
	Name:          "hierarchy",
	KeyFields:     []string{"class", "subclass", "note", "subnote"},
	TrackedFields: []string{"active"},
}

// DatasetByName resolves a dataset name used by the API and CLI.
func DatasetByName(name string) (Dataset, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case AccountDataset.Name:
		return AccountDataset, nil
	case HierarchyDataset.Name:
		return HierarchyDataset, nil
	}
	return Dataset{}, fmt.Errorf("%w: %q", ErrUnknownDataset, name)
}

// Key returns the natural key of r. Key parts are trimmed and joined by "|".
func (d Dataset) Key(r Record) string {
	if len(d.KeyFields) == 1 {
		return r.Get(d.KeyFields[0])
	}
	parts := make([]string, len(d.KeyFields))
	for i, f := range d.KeyFields {
		parts[i] = r.Get(f)
	}
	return strings.Join(parts, "|")
}

// Change is one incoming key with its before and after state.
type Change struct {
	Key      string   `json:"key"`
	Incoming Record   `json:"incoming"`
	Existing *Record  `json:"existing,omitempty"`
	Fields   []string `json:"changed_fields,omitempty"`
}

// Diff is the partition of keys from incoming and existing.
type Diff struct {
	Dataset          string   `json:"dataset"`
	ToAdd            []Change `json:"to_add"`
	ToUpdate         []Change `json:"to_update"`
	ToDelete         []Change `json:"to_delete"`
	Unchanged        []string `json:"unchanged"`
	UniqueRecords    []Record `json:"-"`
	DuplicatesInFile int      `json:"duplicates_in_file"`
	BlankKeys        int      `json:"blank_keys"`
}

// Counts summarises the diff.
type Counts struct {
	Added      int `json:"added"`
	Updated    int `json:"updated"`
	Deleted    int `json:"deleted"`
	Unchanged  int `json:"unchanged"`
	Duplicates int `json:"duplicates"`
}

// Counts returns the category sizes.
func (d Diff) Counts() Counts {
	return Counts{
		Added:      len(d.ToAdd),
		Updated:    len(d.ToUpdate),
		Deleted:    len(d.ToDelete),
		Unchanged:  len(d.Unchanged),
		Duplicates: d.DuplicatesInFile,
	}
}

// DeleteKeys lists the keys that applying the diff would delete.
func (d Diff) DeleteKeys() []string {
	keys := make([]string, 0, len(d.ToDelete))
	for _, c := range d.ToDelete {
		keys = append(keys, c.Key)
	}
	return keys
}

// Empty reports whether applying the diff would change nothing.
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToUpdate) == 0 && len(d.ToDelete) == 0
}

// Compute dedupes incoming by key (the first row wins) and partitions the keys
// against existing using key-indexed maps. Rows with a blank key are skipped
// and counted. Every category is sorted by key.
func Compute(ds Dataset, incoming, existing []Record) Diff {
	diff := Diff{Dataset: ds.Name}
	seen := make(map[string]struct{}, len(incoming))
	for _, r := range incoming {
		key := ds.Key(r)
		if strings.Trim(key, "|") == "" {
			diff.BlankKeys++
			continue
		}
		if _, dup := seen[key]; dup {
			diff.DuplicatesInFile++
			continue
		}
		seen[key] = struct{}{}
		diff.UniqueRecords = append(diff.UniqueRecords, r)
	}

	stored := make(map[string]Record, len(existing))
	for _, r := range existing {
		key := ds.Key(r)
		if _, ok := stored[key]; !ok {
			stored[key] = r
		}
	}

	for _, r := range diff.UniqueRecords {
		key := ds.Key(r)
		prev, ok := stored[key]
		if !ok {
			diff.ToAdd = append(diff.ToAdd, Change{Key: key, Incoming: r})
			continue
		}
		changed := ds.changedFields(prev, r)
		if len(changed) == 0 {
			diff.Unchanged = append(diff.Unchanged, key)
			continue
		}
		before := prev
		diff.ToUpdate = append(diff.ToUpdate, Change{Key: key, Incoming: r, Existing: &before, Fields: changed})
	}
	for key, r := range stored {
		if _, ok := seen[key]; ok {
			continue
		}
		before := r
		diff.ToDelete = append(diff.ToDelete, Change{Key: key, Existing: &before})
	}

	sortChanges(diff.ToAdd)
	sortChanges(diff.ToUpdate)
	sortChanges(diff.ToDelete)
	sort.Strings(diff.Unchanged)
	return diff
}

// changedFields compares tracked fields. A tracked field missing from the
// incoming row is left untouched and does not count as a change.
func (d Dataset) changedFields(prev, next Record) []string {
	var changed []string
	for _, f := range d.TrackedFields {
		if _, ok := next.Fields[f]; !ok {
			continue
		}
		if prev.Get(f) != next.Get(f) {
			changed = append(changed, f)
		}
	}
	return changed
}

func sortChanges(changes []Change) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].Key < changes[j].Key })
}
