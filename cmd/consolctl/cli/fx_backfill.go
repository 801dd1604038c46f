package cli

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/fx"
	"github.com/odyssey-erp/consolidation/internal/shared"
)

// FXBackfillMode selects between previewing and writing rates.
type FXBackfillMode string

const (
	// FXBackfillModeDry reports gaps and candidate rates without writing.
	FXBackfillModeDry FXBackfillMode = "dry"
	// FXBackfillModeApply writes candidate rates for every gap after confirmation.
	FXBackfillModeApply FXBackfillMode = "apply"
)

// FXBackfillOptions configures one fx backfill run. Source is a CSV path,
// "-" for stdin, or empty to ask the rate feed. SourceReader wins over Source.
type FXBackfillOptions struct {
	Pair         string
	From         string
	To           string
	Mode         FXBackfillMode
	Source       string
	SourceReader io.Reader
	JSONOutput   bool
	Stdout       io.Writer
	Stderr       io.Writer
	Stdin        io.Reader
	Confirm      func(io.Reader, io.Writer) (bool, error)
}

// FXBackfillSummary is the JSON document printed by fx backfill --json.
type FXBackfillSummary struct {
	Pair       string                `json:"pair"`
	Mode       FXBackfillMode        `json:"mode"`
	From       string                `json:"from"`
	To         string                `json:"to"`
	Missing    []FXBackfillGap       `json:"missing"`
	Candidates []FXBackfillCandidate `json:"candidates"`
	Applied    []FXBackfillCandidate `json:"applied,omitempty"`
}

// FXBackfillGap lists the rate types missing in one period.
type FXBackfillGap struct {
	Period  string   `json:"period"`
	Missing []string `json:"missing_methods"`
}

// FXBackfillCandidate is a rate offered by the backfill source.
type FXBackfillCandidate struct {
	Period  string          `json:"period"`
	Average decimal.Decimal `json:"average"`
	Closing decimal.Decimal `json:"closing"`
}

type backfillRun struct {
	pair    string
	mode    FXBackfillMode
	periods []time.Time
}

func parseBackfillRun(opts FXBackfillOptions) (backfillRun, error) {
	run := backfillRun{
		pair: strings.ToUpper(strings.TrimSpace(opts.Pair)),
		mode: FXBackfillMode(strings.ToLower(strings.TrimSpace(string(opts.Mode)))),
	}
	if run.mode == "" {
		run.mode = FXBackfillModeDry
	}
	if run.mode != FXBackfillModeDry && run.mode != FXBackfillModeApply {
		return run, fmt.Errorf("invalid mode %q (expected dry or apply)", opts.Mode)
	}
	if run.pair == "" {
		return run, errors.New("--pair is required")
	}
	from, err := shared.ParsePeriod(opts.From)
	if err != nil {
		return run, fmt.Errorf("invalid --from %q (expected YYYY-MM)", opts.From)
	}
	to, err := shared.ParsePeriod(opts.To)
	if err != nil {
		return run, fmt.Errorf("invalid --to %q (expected YYYY-MM)", opts.To)
	}
	if from.After(to) {
		return run, errors.New("--from must be earlier than --to")
	}
	for p := from; !p.After(to); p = p.AddDate(0, 1, 0) {
		run.periods = append(run.periods, p)
	}
	return run, nil
}

func (r backfillRun) first() string { return r.periods[0].Format(shared.PeriodLayout) }
func (r backfillRun) last() string  { return r.periods[len(r.periods)-1].Format(shared.PeriodLayout) }

// BackfillCommand finds months in the range lacking a positive average or
// closing rate for the pair and, in apply mode, writes the source's rates for
// them. A dry run with gaps exits with ExitGaps.
func (c *FXOpsCLI) BackfillCommand(ctx context.Context, opts FXBackfillOptions) int {
	sio := newStdio("fx backfill", opts.Stdout, opts.Stderr)
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	run, err := parseBackfillRun(opts)
	if err != nil {
		return sio.fail("%v", err)
	}

	var gaps []FXBackfillGap
	for _, period := range run.periods {
		cov, err := fx.Validate(ctx, c.repo, period, []fx.Requirement{{Pair: run.pair, Methods: []fx.Method{fx.MethodAverage, fx.MethodClosing}}})
		if err != nil {
			return sio.fail("validate %s: %v", period.Format(shared.PeriodLayout), err)
		}
		for _, gap := range cov.Gaps {
			gaps = append(gaps, FXBackfillGap{Period: period.Format(shared.PeriodLayout), Missing: methodNames(gap.Methods)})
		}
	}

	candidates, err := c.sourceFor(opts).candidates(ctx, run, gaps)
	if err != nil {
		return sio.fail("%v", err)
	}
	summary := FXBackfillSummary{
		Pair:       run.pair,
		Mode:       run.mode,
		From:       run.first(),
		To:         run.last(),
		Missing:    gaps,
		Candidates: candidatesInRange(run, candidates),
	}
	if summary.Missing == nil {
		summary.Missing = []FXBackfillGap{}
	}

	if run.mode == FXBackfillModeApply && len(gaps) > 0 {
		rows, err := upsertsForGaps(run.pair, candidates, gaps)
		if err != nil {
			return sio.fail("%v", err)
		}
		confirm := opts.Confirm
		if confirm == nil {
			confirm = confirmYes
		}
		ok, err := confirm(opts.Stdin, sio.out)
		if err != nil {
			return sio.fail("confirmation failed: %v", err)
		}
		if !ok {
			return sio.fail("cancelled by user")
		}
		if err := c.repo.UpsertFxRates(ctx, rows); err != nil {
			return sio.fail("apply failed: %v", err)
		}
		for _, row := range rows {
			summary.Applied = append(summary.Applied, FXBackfillCandidate{
				Period:  row.AsOf.Format(shared.PeriodLayout),
				Average: row.Average,
				Closing: row.Closing,
			})
		}
	}

	if opts.JSONOutput {
		err = json.NewEncoder(sio.out).Encode(summary)
	} else {
		err = renderBackfillTable(sio.out, summary)
	}
	if err != nil {
		return sio.fail("%v", err)
	}
	if run.mode == FXBackfillModeDry && len(gaps) > 0 {
		return ExitGaps
	}
	return 0
}

// rateSource supplies candidate rates keyed by YYYY-MM.
type rateSource interface {
	candidates(ctx context.Context, run backfillRun, gaps []FXBackfillGap) (map[string]FXBackfillCandidate, error)
}

func (c *FXOpsCLI) sourceFor(opts FXBackfillOptions) rateSource {
	switch source := strings.TrimSpace(opts.Source); {
	case opts.SourceReader != nil:
		return csvSource{open: func() (io.ReadCloser, error) { return io.NopCloser(opts.SourceReader), nil }}
	case source == "-":
		return csvSource{open: func() (io.ReadCloser, error) { return io.NopCloser(opts.Stdin), nil }}
	case source == "":
		return feedSource{feed: c.feed}
	default:
		return csvSource{open: func() (io.ReadCloser, error) { return os.Open(source) }}
	}
}

// feedSource asks the external rate feed, one request per gap.
type feedSource struct {
	feed fx.QuoteProvider
}

func (s feedSource) candidates(ctx context.Context, run backfillRun, gaps []FXBackfillGap) (map[string]FXBackfillCandidate, error) {
	out := make(map[string]FXBackfillCandidate, len(gaps))
	if s.feed == nil {
		return out, nil
	}
	for _, gap := range gaps {
		asOf, err := shared.ParsePeriod(gap.Period)
		if err != nil {
			return nil, err
		}
		quote, ok, err := s.feed.QuoteForPeriod(ctx, asOf, run.pair)
		if err != nil {
			return nil, fmt.Errorf("rate feed %s: %w", gap.Period, err)
		}
		if ok {
			out[gap.Period] = FXBackfillCandidate{Period: gap.Period, Average: quote.Average, Closing: quote.Closing}
		}
	}
	return out, nil
}

// csvSource reads "period,pair,average,closing" rows (in any column order,
// "_rate" suffixes accepted). Lines starting with # are ignored, as are rows
// for other pairs.
type csvSource struct {
	open func() (io.ReadCloser, error)
}

var csvColumns = map[string]string{
	"period":       "period",
	"pair":         "pair",
	"average":      "average",
	"average_rate": "average",
	"closing":      "closing",
	"closing_rate": "closing",
}

func (s csvSource) candidates(_ context.Context, run backfillRun, _ []FXBackfillGap) (map[string]FXBackfillCandidate, error) {
	rc, err := s.open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	out := make(map[string]FXBackfillCandidate)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	col := make(map[string]int, 4)
	for i, name := range header {
		if key, ok := csvColumns[strings.ToLower(strings.TrimSpace(name))]; ok {
			col[key] = i
		}
	}
	if len(col) != 4 {
		return nil, errors.New("source needs period, pair, average and closing columns")
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		line, _ := reader.FieldPos(0)
		cell := func(key string) (string, error) {
			if col[key] >= len(record) {
				return "", fmt.Errorf("source line %d: missing %s", line, key)
			}
			return strings.TrimSpace(record[col[key]]), nil
		}
		raw, err := cell("period")
		if err != nil {
			return nil, err
		}
		if raw == "" {
			continue
		}
		period, err := shared.NormalizePeriod(raw)
		if err != nil {
			return nil, fmt.Errorf("source line %d: invalid period %q", line, raw)
		}
		pair, err := cell("pair")
		if err != nil {
			return nil, err
		}
		if strings.ToUpper(pair) != run.pair {
			continue
		}
		candidate := FXBackfillCandidate{Period: period}
		for key, dst := range map[string]*decimal.Decimal{"average": &candidate.Average, "closing": &candidate.Closing} {
			value, err := cell(key)
			if err != nil {
				return nil, err
			}
			if *dst, err = decimal.NewFromString(value); err != nil {
				return nil, fmt.Errorf("source line %d: invalid %s for %s: %v", line, key, period, err)
			}
		}
		out[period] = candidate
	}
}

func candidatesInRange(run backfillRun, candidates map[string]FXBackfillCandidate) []FXBackfillCandidate {
	out := []FXBackfillCandidate{}
	for _, p := range run.periods {
		if candidate, ok := candidates[p.Format(shared.PeriodLayout)]; ok {
			out = append(out, candidate)
		}
	}
	return out
}

func upsertsForGaps(pair string, candidates map[string]FXBackfillCandidate, gaps []FXBackfillGap) ([]consol.FxRateInput, error) {
	rows := make([]consol.FxRateInput, 0, len(gaps))
	for _, gap := range gaps {
		candidate, ok := candidates[gap.Period]
		if !ok {
			return nil, fmt.Errorf("missing source rates for %s", gap.Period)
		}
		if !candidate.Average.IsPositive() || !candidate.Closing.IsPositive() {
			return nil, fmt.Errorf("non-positive rates for %s", gap.Period)
		}
		asOf, err := shared.ParsePeriod(gap.Period)
		if err != nil {
			return nil, err
		}
		rows = append(rows, consol.FxRateInput{AsOf: asOf, Pair: pair, Average: candidate.Average, Closing: candidate.Closing})
	}
	return rows, nil
}

// renderBackfillTable prints one row per period that has a gap or a candidate.
// STATUS is ok, gap or applied.
func renderBackfillTable(out io.Writer, summary FXBackfillSummary) error {
	fmt.Fprintf(out, "FX backfill (%s) for %s, %s to %s\n", summary.Mode, summary.Pair, summary.From, summary.To)

	missing := make(map[string][]string, len(summary.Missing))
	for _, gap := range summary.Missing {
		missing[gap.Period] = gap.Missing
	}
	applied := make(map[string]bool, len(summary.Applied))
	for _, row := range summary.Applied {
		applied[row.Period] = true
	}
	offered := make(map[string]FXBackfillCandidate, len(summary.Candidates))
	periods := make([]string, 0, len(summary.Missing)+len(summary.Candidates))
	for _, gap := range summary.Missing {
		periods = append(periods, gap.Period)
	}
	for _, candidate := range summary.Candidates {
		offered[candidate.Period] = candidate
		if _, ok := missing[candidate.Period]; !ok {
			periods = append(periods, candidate.Period)
		}
	}
	if len(periods) == 0 {
		fmt.Fprintln(out, "No gaps detected.")
		return nil
	}
	slices.Sort(periods)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PERIOD\tSTATUS\tMISSING\tAVERAGE\tCLOSING")
	for _, period := range periods {
		status, gapCell := "ok", "-"
		if m, ok := missing[period]; ok {
			status, gapCell = "gap", strings.Join(m, ",")
		}
		if applied[period] {
			status = "applied"
		}
		avg, closing := "-", "-"
		if candidate, ok := offered[period]; ok {
			avg, closing = candidate.Average.StringFixed(6), candidate.Closing.StringFixed(6)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", period, status, gapCell, avg, closing)
	}
	return tw.Flush()
}

func confirmYes(r io.Reader, w io.Writer) (bool, error) {
	fmt.Fprint(w, "Apply FX backfill? Type YES to confirm: ")
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "YES"), nil
}
