package cli

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// ExitGaps is returned by fx commands when rates are missing.
const ExitGaps = 10

// FXValidateOptions defines available flags for the fx validate command.
type FXValidateOptions struct {
	GroupID    int64
	Period     string
	Pairs      []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// FXValidateSummary is the JSON document printed by fx validate --json.
type FXValidateSummary struct {
	OK              bool                       `json:"ok"`
	Gaps            []FXValidationGap          `json:"gaps"`
	AvailableQuotes []FXValidationAvailability `json:"available_quotes"`
}

// FXValidationGap is one missing rate type of a pair.
type FXValidationGap struct {
	Pair     string  `json:"pair"`
	Period   string  `json:"period"`
	Method   string  `json:"method"`
	Entities []int64 `json:"entities,omitempty"`
}

// FXValidationAvailability is one stored, positive rate type of a pair.
type FXValidationAvailability struct {
	Pair   string `json:"pair"`
	Period string `json:"period"`
	Method string `json:"method"`
}

// stdio carries the writers of one command run and prefixes failures with
// the command name.
type stdio struct {
	name string
	out  io.Writer
	err  io.Writer
}

func newStdio(name string, out, errOut io.Writer) stdio {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return stdio{name: name, out: out, err: errOut}
}

func (s stdio) fail(format string, args ...any) int {
	fmt.Fprintf(s.err, s.name+": "+format+"\n", args...)
	return 1
}

// ValidateCommand prints rate coverage for a group period. It returns
// ExitGaps when any required rate is missing.
func (c *FXOpsCLI) ValidateCommand(ctx context.Context, opts FXValidateOptions) int {
	sio := newStdio("fx validate", opts.Stdout, opts.Stderr)
	if opts.GroupID <= 0 {
		return sio.fail("--group is required and must be positive")
	}
	period, err := shared.ParsePeriod(opts.Period)
	if err != nil {
		return sio.fail("invalid period %q (expected YYYY-MM)", opts.Period)
	}
	result, err := c.ValidateGaps(ctx, ValidateParams{GroupID: opts.GroupID, Period: period, Pairs: opts.Pairs})
	if err != nil {
		return sio.fail("%v", err)
	}

	if opts.JSONOutput {
		if err := json.NewEncoder(sio.out).Encode(buildValidateSummary(result)); err != nil {
			return sio.fail("encode json: %v", err)
		}
	} else if err := renderValidateTable(sio.out, result); err != nil {
		return sio.fail("%v", err)
	}
	if len(result.Result.Gaps) > 0 {
		return ExitGaps
	}
	return 0
}

func buildValidateSummary(result ValidateResult) FXValidateSummary {
	period := result.Result.Period.Format(shared.PeriodLayout)
	summary := FXValidateSummary{
		Gaps:            []FXValidationGap{},
		AvailableQuotes: []FXValidationAvailability{},
	}
	for _, gap := range result.Result.Gaps {
		for _, method := range methodNames(gap.Methods) {
			summary.Gaps = append(summary.Gaps, FXValidationGap{Pair: gap.Pair, Period: period, Method: method, Entities: gap.Entities})
		}
	}
	for pair, quote := range result.Result.Available {
		for _, method := range quotedMethods(quote) {
			summary.AvailableQuotes = append(summary.AvailableQuotes, FXValidationAvailability{Pair: pair, Period: period, Method: method})
		}
	}
	slices.SortFunc(summary.Gaps, func(a, b FXValidationGap) int {
		return cmp.Or(cmp.Compare(a.Pair, b.Pair), cmp.Compare(a.Method, b.Method))
	})
	slices.SortFunc(summary.AvailableQuotes, func(a, b FXValidationAvailability) int {
		return cmp.Or(cmp.Compare(a.Pair, b.Pair), cmp.Compare(a.Method, b.Method))
	})
	summary.OK = len(summary.Gaps) == 0
	return summary
}

func methodNames(methods []fx.Method) []string {
	names := make([]string, len(methods))
	for i, method := range methods {
		names[i] = string(method)
	}
	slices.Sort(names)
	return names
}

func quotedMethods(quote fx.Quote) []string {
	var methods []string
	if quote.Average.IsPositive() {
		methods = append(methods, string(fx.MethodAverage))
	}
	if quote.Closing.IsPositive() {
		methods = append(methods, string(fx.MethodClosing))
	}
	return methods
}

// renderValidateTable prints one row per checked pair with the stored rates,
// "missing" where a rate type is absent, and the dependent entities.
func renderValidateTable(out io.Writer, result ValidateResult) error {
	fmt.Fprintf(out, "FX validation for group %d (%s), period %s\n",
		result.GroupID, result.ReportingCurrency, result.Result.Period.Format(shared.PeriodLayout))

	gaps := make(map[string]fx.Gap, len(result.Result.Gaps))
	for _, gap := range result.Result.Gaps {
		gaps[gap.Pair] = gap
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PAIR\tAVERAGE\tCLOSING\tENTITIES")
	for _, pair := range result.ConsideredPairs {
		quote := result.Result.Available[pair]
		gap := gaps[pair]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", pair,
			rateCell(quote, gap, fx.MethodAverage),
			rateCell(quote, gap, fx.MethodClosing),
			entityCell(entitiesFor(result, pair)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(result.Result.Gaps) == 0 {
		fmt.Fprintln(out, "All required FX rates are present.")
	} else {
		fmt.Fprintf(out, "%d of %d pair(s) have gaps.\n", len(result.Result.Gaps), len(result.ConsideredPairs))
	}
	if len(result.RequestedPairNames) > 0 {
		fmt.Fprintf(out, "Requested pairs: %s\n", strings.Join(result.RequestedPairNames, ", "))
	}
	return nil
}

func rateCell(quote fx.Quote, gap fx.Gap, method fx.Method) string {
	if slices.Contains(gap.Methods, method) {
		return "missing"
	}
	if method == fx.MethodAverage {
		return quote.Average.String()
	}
	return quote.Closing.String()
}

func entitiesFor(result ValidateResult, pair string) []int64 {
	for _, gap := range result.Result.Gaps {
		if gap.Pair == pair {
			return gap.Entities
		}
	}
	return result.PairEntities[pair]
}

func entityCell(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ",")
}
