package issues

import (
	"errors"
	"fmt"
	"testing"
)

func TestReportBlocking(t *testing.T) {
	var r Report
	r.Warn(KindUnmappedAccount, 1, "unmapped", "9999")
	if r.Blocking() {
		t.Fatalf("warnings must not block")
	}
	r.Block(KindMissingExchangeRate, 2, "no rates")
	if !r.Blocking() {
		t.Fatalf("expected blocking report")
	}
	counts := r.Counts()
	if counts[SeverityWarning] != 1 || counts[SeverityBlocking] != 1 {
		t.Fatalf("unexpected counts %+v", counts)
	}
	if len(r.ByKind(KindUnmappedAccount)) != 1 {
		t.Fatalf("expected one unmapped issue")
	}
}

func TestSortedIsOrderIndependent(t *testing.T) {
	var a, b Report
	a.Warn(KindUnmappedAccount, 2, "x", "2")
	a.Warn(KindUnmappedAccount, 1, "x", "1")
	b.Warn(KindUnmappedAccount, 1, "x", "1")
	b.Warn(KindUnmappedAccount, 2, "x", "2")
	sa, sb := a.Sorted(), b.Sorted()
	for i := range sa.Issues {
		if sa.Issues[i].EntityID != sb.Issues[i].EntityID {
			t.Fatalf("sorted reports differ at %d", i)
		}
	}
}

func TestKindOfThroughWrapping(t *testing.T) {
	base := Errorf(KindSyncConflict, []string{"accounts"}, "version %d != %d", 3, 4)
	wrapped := fmt.Errorf("apply: %w", base)
	if KindOf(wrapped) != KindSyncConflict {
		t.Fatalf("expected SyncConflict, got %s", KindOf(wrapped))
	}
	if keys := KeysOf(wrapped); len(keys) != 1 || keys[0] != "accounts" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatalf("untyped errors default to Internal")
	}
	if KindOf(nil) != "" {
		t.Fatalf("nil error has no kind")
	}
	if Wrap(KindNotFound, nil) != nil {
		t.Fatalf("wrapping nil must return nil")
	}
}

func TestUniqueDropsExactDuplicates(t *testing.T) {
	var r Report
	r.Warn(KindUnmappedAccount, 0, "account 9 untagged", "9")
	r.Warn(KindUnmappedAccount, 0, "account 9 untagged", "9")
	r.Warn(KindUnmappedAccount, 1, "account 9 untagged", "9")
	if got := r.Unique().Len(); got != 2 {
		t.Fatalf("expected 2 unique issues, got %d", got)
	}
}
