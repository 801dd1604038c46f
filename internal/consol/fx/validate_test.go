package fx

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

type fakeProvider struct {
	quotes map[string]Quote
	err    error
	asked  []string
}

func (f *fakeProvider) QuoteForPeriod(_ context.Context, asOf time.Time, pair string) (Quote, bool, error) {
	f.asked = append(f.asked, asOf.Format("2006-01")+"/"+pair)
	if f.err != nil {
		return Quote{}, false, f.err
	}
	quote, ok := f.quotes[pair]
	return quote, ok, nil
}

func quote(avg, closing string) Quote {
	return Quote{Average: decimal.RequireFromString(avg), Closing: decimal.RequireFromString(closing)}
}

func both() []Method { return []Method{MethodAverage, MethodClosing} }

func TestValidateGaps(t *testing.T) {
	cases := []struct {
		name   string
		quotes map[string]Quote
		reqs   []Requirement
		want   []Gap
	}{
		{
			name:   "complete",
			quotes: map[string]Quote{"IDRUSD": quote("0.000065", "0.000064")},
			reqs:   []Requirement{{Pair: "idrusd", Methods: both()}},
			want:   []Gap{},
		},
		{
			name: "absent quote",
			reqs: []Requirement{{Pair: "IDRUSD", Methods: both(), Entities: []int64{4}}},
			want: []Gap{{Pair: "IDRUSD", Methods: both(), Entities: []int64{4}}},
		},
		{
			name:   "zero average",
			quotes: map[string]Quote{"IDRUSD": quote("0", "1.3")},
			reqs:   []Requirement{{Pair: "IDRUSD", Methods: both()}},
			want:   []Gap{{Pair: "IDRUSD", Methods: []Method{MethodAverage}, Entities: []int64{}}},
		},
		{
			name:   "only closing asked",
			quotes: map[string]Quote{"IDRUSD": quote("0", "1.3")},
			reqs:   []Requirement{{Pair: "IDRUSD", Methods: []Method{MethodClosing}}},
			want:   []Gap{},
		},
		{
			name:   "duplicate pairs merge",
			quotes: map[string]Quote{"GBPUSD": quote("1.25", "0")},
			reqs: []Requirement{
				{Pair: "GBPUSD", Methods: []Method{MethodAverage}, Entities: []int64{9}},
				{Pair: " gbpusd ", Methods: []Method{MethodClosing}, Entities: []int64{2, 9}},
			},
			want: []Gap{{Pair: "GBPUSD", Methods: []Method{MethodClosing}, Entities: []int64{2, 9}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &fakeProvider{quotes: tc.quotes}
			res, err := Validate(context.Background(), provider, time.Date(2025, 8, 7, 12, 0, 0, 0, time.UTC), tc.reqs)
			if err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			if len(res.Gaps) != len(tc.want) {
				t.Fatalf("gaps = %+v, want %+v", res.Gaps, tc.want)
			}
			for i := range tc.want {
				got, want := res.Gaps[i], tc.want[i]
				if got.Pair != want.Pair || !reflect.DeepEqual(got.Methods, want.Methods) || len(got.Entities) != len(want.Entities) {
					t.Fatalf("gap %d = %+v, want %+v", i, got, want)
				}
				for j := range want.Entities {
					if got.Entities[j] != want.Entities[j] {
						t.Fatalf("gap %d entities = %v, want %v", i, got.Entities, want.Entities)
					}
				}
			}
			if res.Checked != 1 || len(provider.asked) != 1 {
				t.Fatalf("expected one provider lookup, got %v", provider.asked)
			}
			if provider.asked[0][:7] != "2025-08" || !res.Period.Equal(time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)) {
				t.Fatalf("period not truncated to month: %v %v", provider.asked, res.Period)
			}
		})
	}
}

func TestValidateKeepsPartialQuotes(t *testing.T) {
	provider := &fakeProvider{quotes: map[string]Quote{"IDRUSD": quote("0", "1.3")}}
	res, err := Validate(context.Background(), provider, time.Now(), []Requirement{{Pair: "IDRUSD", Methods: both()}})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !res.Available["IDRUSD"].Closing.Equal(decimal.RequireFromString("1.3")) {
		t.Fatalf("partial quote dropped: %+v", res.Available)
	}
}

func TestValidateRejects(t *testing.T) {
	boom := errors.New("boom")
	now := time.Now()
	cases := []struct {
		name     string
		provider QuoteProvider
		asOf     time.Time
		reqs     []Requirement
		is       error
	}{
		{name: "nil provider", asOf: now, reqs: []Requirement{{Pair: "IDRUSD", Methods: both()}}, is: ErrNoProvider},
		{name: "zero period", provider: &fakeProvider{}, reqs: []Requirement{{Pair: "IDRUSD", Methods: both()}}, is: ErrNoPeriod},
		{name: "empty pair", provider: &fakeProvider{}, asOf: now, reqs: []Requirement{{Methods: both()}}},
		{name: "no methods", provider: &fakeProvider{}, asOf: now, reqs: []Requirement{{Pair: "IDRUSD"}}},
		{name: "historical not quotable", provider: &fakeProvider{}, asOf: now, reqs: []Requirement{{Pair: "IDRUSD", Methods: []Method{MethodHistorical}}}},
		{name: "provider failure", provider: &fakeProvider{err: boom}, asOf: now, reqs: []Requirement{{Pair: "IDRUSD", Methods: both()}}, is: boom},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Validate(context.Background(), tc.provider, tc.asOf, tc.reqs)
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("expected %v, got %v", tc.is, err)
			}
		})
	}
}

func TestRequirementsForGroupsEntitiesByCurrency(t *testing.T) {
	reqs := RequirementsFor("usd", []Currencies{
		{EntityID: 1, Functional: "USD"},
		{EntityID: 3, Functional: "GBP"},
		{EntityID: 2, Functional: "gbp"},
		{EntityID: 4, Functional: "IDR"},
		{EntityID: 5},
	})
	want := []Requirement{
		{Pair: "GBPUSD", Methods: both(), Entities: []int64{2, 3}},
		{Pair: "IDRUSD", Methods: both(), Entities: []int64{4}},
	}
	if !reflect.DeepEqual(reqs, want) {
		t.Fatalf("requirements = %+v, want %+v", reqs, want)
	}
	if RequirementsFor("", []Currencies{{EntityID: 1, Functional: "GBP"}}) != nil {
		t.Fatal("no reporting currency means nothing to translate into")
	}
}

func TestCoverageBlocked(t *testing.T) {
	cov := Coverage{Gaps: []Gap{
		{Pair: "GBPUSD", Entities: []int64{9, 2}},
		{Pair: "IDRUSD", Entities: []int64{4, 9}},
	}}
	if got := cov.Blocked(); !reflect.DeepEqual(got, []int64{2, 4, 9}) {
		t.Fatalf("blocked = %v", got)
	}
}
