package cli

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
)

// FXRepository is the rate storage used by the fx commands.
type FXRepository interface {
	GroupCurrencies(ctx context.Context, groupID int64) (string, []fx.Currencies, error)
	QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (fx.Quote, bool, error)
	UpsertFxRates(ctx context.Context, rows []consol.FxRateInput) error
}

// FXOpsCLI offers operational helpers to manage FX rates used by consolidation.
type FXOpsCLI struct {
	repo FXRepository
	feed fx.QuoteProvider
}

// NewFXOpsCLI constructs a new helper instance. feed is optional and serves
// as a backfill source when no CSV is given.
func NewFXOpsCLI(repo FXRepository, feed fx.QuoteProvider) (*FXOpsCLI, error) {
	if repo == nil {
		return nil, errors.New("fx cli: repository required")
	}
	return &FXOpsCLI{repo: repo, feed: feed}, nil
}

// ValidateParams scopes a gap validation run.
type ValidateParams struct {
	GroupID int64
	Period  time.Time
	Pairs   []string
}

// ValidateResult is the outcome of ValidateGaps. PairEntities lists the
// entities that depend on each considered pair.
type ValidateResult struct {
	GroupID            int64
	ReportingCurrency  string
	ConsideredPairs    []string
	RequestedPairNames []string
	PairEntities       map[string][]int64
	Result             fx.Coverage
}

// ValidateGaps checks average and closing coverage of every pair the group
// needs. Explicit pairs narrow the check.
func (c *FXOpsCLI) ValidateGaps(ctx context.Context, params ValidateParams) (ValidateResult, error) {
	reporting, members, err := c.repo.GroupCurrencies(ctx, params.GroupID)
	if err != nil {
		return ValidateResult{}, err
	}
	reqs := fx.RequirementsFor(reporting, members)
	requested := normalizePairs(params.Pairs)
	if len(requested) > 0 {
		wanted := make(map[string]struct{}, len(requested))
		for _, pair := range requested {
			wanted[pair] = struct{}{}
		}
		filtered := reqs[:0]
		for _, req := range reqs {
			if _, ok := wanted[req.Pair]; ok {
				filtered = append(filtered, req)
				delete(wanted, req.Pair)
			}
		}
		for pair := range wanted {
			filtered = append(filtered, fx.Requirement{Pair: pair, Methods: []fx.Method{fx.MethodAverage, fx.MethodClosing}})
		}
		sort.Slice(filtered, func(i, j int) bool { return filtered[i].Pair < filtered[j].Pair })
		reqs = filtered
	}
	coverage, err := fx.Validate(ctx, c.repo, params.Period, reqs)
	if err != nil {
		return ValidateResult{}, err
	}
	considered := make([]string, len(reqs))
	entities := make(map[string][]int64, len(reqs))
	for i, req := range reqs {
		considered[i] = req.Pair
		entities[req.Pair] = req.Entities
	}
	return ValidateResult{
		GroupID:            params.GroupID,
		ReportingCurrency:  reporting,
		ConsideredPairs:    considered,
		RequestedPairNames: requested,
		PairEntities:       entities,
		Result:             coverage,
	}, nil
}

func normalizePairs(pairs []string) []string {
	out := make([]string, 0, len(pairs))
	seen := make(map[string]struct{}, len(pairs))
	for _, raw := range pairs {
		for _, part := range strings.Split(raw, ",") {
			pair := strings.ToUpper(strings.TrimSpace(part))
			if pair == "" {
				continue
			}
			if _, ok := seen[pair]; ok {
				continue
			}
			seen[pair] = struct{}{}
			out = append(out, pair)
		}
	}
	sort.Strings(out)
	return out
}
