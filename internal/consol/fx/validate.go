package fx

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

var (
	// ErrNoProvider is returned when Validate has nothing to read quotes from.
	ErrNoProvider = errors.New("fx: quote provider required")
	// ErrNoPeriod is returned for a zero as-of date.
	ErrNoPeriod = errors.New("fx: period is required")
)

// Currencies is the functional currency of one entity.
type Currencies struct {
	EntityID   int64
	Functional string
}

// QuoteProvider looks up the average and closing quote of a pair for the
// month containing asOf. A missing quote is reported with ok=false.
type QuoteProvider interface {
	QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (Quote, bool, error)
}

// Requirement names the rate types a translation run needs for one pair.
// Entities lists who depends on it; it may be empty for ad-hoc checks.
type Requirement struct {
	Pair     string
	Methods  []Method
	Entities []int64
}

// Gap is a pair whose quote is absent or lacks a positive value for one of
// the required methods.
type Gap struct {
	Pair     string
	Methods  []Method
	Entities []int64
}

// Coverage is the outcome of Validate. Available holds every quote found,
// including partial ones.
type Coverage struct {
	Period    time.Time
	Checked   int
	Gaps      []Gap
	Available map[string]Quote
}

// Blocked returns the entities named by any gap, ascending.
func (c Coverage) Blocked() []int64 {
	seen := make(map[int64]struct{})
	for _, gap := range c.Gaps {
		for _, id := range gap.Entities {
			seen[id] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// RequirementsFor derives the pairs a translation run needs. Every entity whose
// functional currency differs from the reporting currency needs an average
// and a closing quote; entities sharing a currency share the requirement.
func RequirementsFor(reporting string, entities []Currencies) []Requirement {
	to := normalizeCurrency(reporting)
	if to == "" {
		return nil
	}
	byPair := make(map[string]*Requirement)
	for _, entity := range entities {
		from := normalizeCurrency(entity.Functional)
		if from == "" || from == to {
			continue
		}
		req, ok := byPair[from+to]
		if !ok {
			req = &Requirement{Pair: from + to, Methods: []Method{MethodAverage, MethodClosing}}
			byPair[req.Pair] = req
		}
		req.Entities = append(req.Entities, entity.EntityID)
	}
	out := make([]Requirement, 0, len(byPair))
	for _, pair := range slices.Sorted(maps.Keys(byPair)) {
		req := *byPair[pair]
		slices.Sort(req.Entities)
		out = append(out, req)
	}
	return out
}

// wanted merges requirements that name the same pair.
type wanted struct {
	methods  map[Method]bool
	entities map[int64]bool
}

func mergeRequirements(reqs []Requirement) (map[string]*wanted, error) {
	merged := make(map[string]*wanted, len(reqs))
	for _, req := range reqs {
		pair := normalizeCurrency(req.Pair)
		if pair == "" {
			return nil, fmt.Errorf("fx: pair required")
		}
		if len(req.Methods) == 0 {
			return nil, fmt.Errorf("fx: methods required for pair %s", pair)
		}
		w := merged[pair]
		if w == nil {
			w = &wanted{methods: map[Method]bool{}, entities: map[int64]bool{}}
			merged[pair] = w
		}
		for _, method := range req.Methods {
			if method != MethodAverage && method != MethodClosing {
				return nil, fmt.Errorf("fx: unsupported method %q for pair %s", method, pair)
			}
			w.methods[method] = true
		}
		for _, id := range req.Entities {
			w.entities[id] = true
		}
	}
	return merged, nil
}

// Validate checks that every requirement has a positive quote for the month
// of asOf. Requirement errors are returned before the provider is queried.
func Validate(ctx context.Context, provider QuoteProvider, asOf time.Time, reqs []Requirement) (Coverage, error) {
	if provider == nil {
		return Coverage{}, ErrNoProvider
	}
	if asOf.IsZero() {
		return Coverage{}, ErrNoPeriod
	}
	merged, err := mergeRequirements(reqs)
	if err != nil {
		return Coverage{}, err
	}

	res := Coverage{
		Period:    time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC),
		Gaps:      []Gap{},
		Available: make(map[string]Quote, len(merged)),
	}
	for _, pair := range slices.Sorted(maps.Keys(merged)) {
		w := merged[pair]
		quote, ok, err := provider.QuoteForPeriod(ctx, res.Period, pair)
		if err != nil {
			return Coverage{}, fmt.Errorf("fx: quote %s: %w", pair, err)
		}
		res.Checked++
		if ok {
			res.Available[pair] = quote
		}
		var missing []Method
		for _, method := range []Method{MethodAverage, MethodClosing} {
			if w.methods[method] && !(ok && quote.value(method).IsPositive()) {
				missing = append(missing, method)
			}
		}
		if len(missing) > 0 {
			res.Gaps = append(res.Gaps, Gap{
				Pair:     pair,
				Methods:  missing,
				Entities: slices.Sorted(maps.Keys(w.entities)),
			})
		}
	}
	return res, nil
}
