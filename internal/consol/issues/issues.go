// Package issues carries the error kinds and the accumulated per-record report
// returned by every consolidation stage.
package issues

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is the stable discriminator surfaced across the engine boundary.
type Kind string

const (
	KindUnmappedAccount           Kind = "UnmappedAccount"
	KindMissingExchangeRate       Kind = "MissingExchangeRate"
	KindAmbiguousRateClass        Kind = "AmbiguousRateClass"
	KindHierarchyCycleOrGap       Kind = "HierarchyCycleOrGap"
	KindSyncConflict              Kind = "SyncConflict"
	KindPartialTransactionFailure Kind = "PartialTransactionFailure"
	KindTranslationBypassed       Kind = "TranslationBypassed"
	KindNoteDrift                 Kind = "NoteDrift"
	KindInactiveAccount           Kind = "InactiveAccount"
	KindInvalidInput              Kind = "InvalidInput"
	KindNotFound                  Kind = "NotFound"
	KindInternal                  Kind = "Internal"
)

// Severity grades an accumulated issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

// Issue is a single per-record problem.
type Issue struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	EntityID int64    `json:"entity_id,omitempty"`
	Keys     []string `json:"keys,omitempty"`
	Message  string   `json:"message"`
}

// Report accumulates issues in insertion order.
type Report struct {
	Issues []Issue `json:"issues"`
}

// Add appends an issue.
func (r *Report) Add(issue Issue) {
	r.Issues = append(r.Issues, issue)
}

// Warn appends a warning.
func (r *Report) Warn(kind Kind, entityID int64, message string, keys ...string) {
	r.Add(Issue{Kind: kind, Severity: SeverityWarning, EntityID: entityID, Keys: keys, Message: message})
}

// Info appends an informational issue.
func (r *Report) Info(kind Kind, entityID int64, message string, keys ...string) {
	r.Add(Issue{Kind: kind, Severity: SeverityInfo, EntityID: entityID, Keys: keys, Message: message})
}

// Block appends a blocking issue.
func (r *Report) Block(kind Kind, entityID int64, message string, keys ...string) {
	r.Add(Issue{Kind: kind, Severity: SeverityBlocking, EntityID: entityID, Keys: keys, Message: message})
}

// Merge appends all issues of other.
func (r *Report) Merge(other Report) {
	r.Issues = append(r.Issues, other.Issues...)
}

// Blocking reports whether any issue reached blocking severity.
func (r Report) Blocking() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// Len returns the issue count.
func (r Report) Len() int {
	return len(r.Issues)
}

// ByKind filters issues of kind.
func (r Report) ByKind(kind Kind) []Issue {
	out := make([]Issue, 0)
	for _, issue := range r.Issues {
		if issue.Kind == kind {
			out = append(out, issue)
		}
	}
	return out
}

// Counts tallies issues per severity.
func (r Report) Counts() map[Severity]int {
	counts := make(map[Severity]int, 3)
	for _, issue := range r.Issues {
		counts[issue.Severity]++
	}
	return counts
}

// Sorted returns a copy ordered by entity, kind, first key and message so
// reports merged from parallel stages compare equal.
func (r Report) Sorted() Report {
	out := append([]Issue(nil), r.Issues...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		ak, bk := strings.Join(a.Keys, ","), strings.Join(b.Keys, ",")
		if ak != bk {
			return ak < bk
		}
		return a.Message < b.Message
	})
	return Report{Issues: out}
}

// Unique returns a copy without exact duplicates, keeping first occurrences.
func (r Report) Unique() Report {
	seen := make(map[string]struct{}, len(r.Issues))
	out := make([]Issue, 0, len(r.Issues))
	for _, issue := range r.Issues {
		key := fmt.Sprintf("%s|%s|%d|%s|%s", issue.Kind, issue.Severity, issue.EntityID, strings.Join(issue.Keys, ","), issue.Message)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, issue)
	}
	return Report{Issues: out}
}

// Error is a typed failure carrying its Kind and the affected keys.
type Error struct {
	Kind Kind
	Keys []string
	Err  error
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, keys []string, format string, args ...any) *Error {
	return &Error{Kind: kind, Keys: keys, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches kind to err. A nil err yields nil.
func Wrap(kind Kind, err error, keys ...string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Keys: keys, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Keys) > 0 {
		msg += " [" + strings.Join(e.Keys, ", ") + "]"
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf extracts the Kind of err, defaulting to KindInternal for untyped errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindInternal
}

// KeysOf extracts the affected keys of err.
func KeysOf(err error) []string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Keys
	}
	return nil
}
