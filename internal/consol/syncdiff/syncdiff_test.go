package syncdiff

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

func account(code, name string) Record {
	return NewRecord("account_code", code, "name", name, "class", "Assets")
}

func TestComputeDuplicatesKeepFirstRow(t *testing.T) {
	incoming := []Record{account("1000", "Cash"), account("1000", "Cash again")}
	diff := Compute(AccountDataset, incoming, nil)
	if diff.DuplicatesInFile != 1 {
		t.Fatalf("expected one duplicate, got %d", diff.DuplicatesInFile)
	}
	if len(diff.UniqueRecords) != 1 || diff.UniqueRecords[0].Get("name") != "Cash" {
		t.Fatalf("expected the first row kept, got %+v", diff.UniqueRecords)
	}
}

func TestComputeCategorises(t *testing.T) {
	existing := []Record{account("1000", "Cash"), account("2000", "Payables")}
	incoming := []Record{account("1000", "Cash at bank"), account("3000", "Capital")}
	diff := Compute(AccountDataset, incoming, existing)

	if len(diff.ToUpdate) != 1 || diff.ToUpdate[0].Key != "1000" {
		t.Fatalf("unexpected updates %+v", diff.ToUpdate)
	}
	if len(diff.ToUpdate[0].Fields) != 1 || diff.ToUpdate[0].Fields[0] != "name" {
		t.Fatalf("expected name as the changed field, got %v", diff.ToUpdate[0].Fields)
	}
	if len(diff.ToAdd) != 1 || diff.ToAdd[0].Key != "3000" {
		t.Fatalf("unexpected adds %+v", diff.ToAdd)
	}
	if len(diff.ToDelete) != 1 || diff.ToDelete[0].Key != "2000" {
		t.Fatalf("unexpected deletes %+v", diff.ToDelete)
	}
	if len(diff.Unchanged) != 0 {
		t.Fatalf("expected nothing unchanged, got %v", diff.Unchanged)
	}
	if diff.Empty() {
		t.Fatalf("diff should not be empty")
	}
}

func TestComputeHierarchyKeyAndMissingTrackedField(t *testing.T) {
	existing := []Record{NewRecord("class", "Assets", "subclass", "Current", "note", "Cash", "subnote", "Bank", "active", "true")}
	incoming := []Record{
		NewRecord("class", " Assets", "subclass", "Current", "note", "Cash", "subnote", "Bank"),
		NewRecord("class", "", "subclass", "", "note", "", "subnote", ""),
	}
	diff := Compute(HierarchyDataset, incoming, existing)
	if len(diff.Unchanged) != 1 || diff.Unchanged[0] != "Assets|Current|Cash|Bank" {
		t.Fatalf("unexpected unchanged %v", diff.Unchanged)
	}
	if diff.BlankKeys != 1 {
		t.Fatalf("expected a blank key counted, got %d", diff.BlankKeys)
	}
	if !diff.Empty() {
		t.Fatalf("expected empty diff, got %+v", diff.Counts())
	}
}

func TestComputePartitionsKeys(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for round := 0; round < 50; round++ {
		var incoming, existing []Record
		for i := 0; i < 40; i++ {
			code := fmt.Sprintf("%d", rng.Intn(60))
			switch rng.Intn(3) {
			case 0:
				incoming = append(incoming, account(code, fmt.Sprintf("n%d", rng.Intn(2))))
			case 1:
				existing = append(existing, account(code, fmt.Sprintf("n%d", rng.Intn(2))))
			default:
				incoming = append(incoming, account(code, "same"))
				existing = append(existing, account(code, "same"))
			}
		}
		diff := Compute(AccountDataset, incoming, existing)

		union := make(map[string]struct{})
		for _, r := range incoming {
			union[AccountDataset.Key(r)] = struct{}{}
		}
		for _, r := range existing {
			union[AccountDataset.Key(r)] = struct{}{}
		}
		seen := make(map[string]int)
		for _, c := range diff.ToAdd {
			seen[c.Key]++
		}
		for _, c := range diff.ToUpdate {
			seen[c.Key]++
		}
		for _, c := range diff.ToDelete {
			seen[c.Key]++
		}
		for _, k := range diff.Unchanged {
			seen[k]++
		}
		if len(seen) != len(union) {
			t.Fatalf("round %d: partition covers %d keys, union has %d", round, len(seen), len(union))
		}
		for k, n := range seen {
			if n != 1 {
				t.Fatalf("round %d: key %s appears in %d categories", round, k, n)
			}
		}
		if got := len(diff.ToAdd) + len(diff.ToUpdate) + len(diff.Unchanged); got != len(diff.UniqueRecords) {
			t.Fatalf("round %d: %d categorised incoming keys, %d unique records", round, got, len(diff.UniqueRecords))
		}
	}
}

func TestDatasetByName(t *testing.T) {
	if ds, err := DatasetByName("Accounts"); err != nil || ds.Name != "accounts" {
		t.Fatalf("unexpected %v %v", ds, err)
	}
	if _, err := DatasetByName("entities"); !errors.Is(err, ErrUnknownDataset) {
		t.Fatalf("expected ErrUnknownDataset, got %v", err)
	}
}

func TestRecordJSONIsFlat(t *testing.T) {
	var rec Record
	if err := json.Unmarshal([]byte(`{"account_code":"1000","active":true,"note":null,"rate":1.5}`), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.Get("account_code") != "1000" || rec.Get("active") != "true" || rec.Get("rate") != "1.5" {
		t.Fatalf("unexpected fields %+v", rec.Fields)
	}
	if v, ok := rec.Fields["note"]; !ok || v != "" {
		t.Fatalf("null should decode to an empty field, got %q %v", v, ok)
	}
	if err := json.Unmarshal([]byte(`{"name":{"x":1}}`), &rec); err == nil {
		t.Fatalf("expected nested value to be rejected")
	}
	raw, err := json.Marshal(NewRecord("account_code", "2000"))
	if err != nil || string(raw) != `{"account_code":"2000"}` {
		t.Fatalf("unexpected encoding %s %v", raw, err)
	}
}
