package http

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/coa"
	"github.com/odyssey-erp/consolidation/internal/consol/issues"
	"github.com/odyssey-erp/consolidation/internal/consol/statements"
)

const (
	csvFlushEvery = 200
	csvBufferSize = 32 * 1024
)

type csvStreamer struct {
	buf          *bufio.Writer
	csv          *csv.Writer
	flushEvery   int
	pendingLines int
}

func newCSVStreamer(w io.Writer) *csvStreamer {
	buf := bufio.NewWriterSize(w, csvBufferSize)
	writer := csv.NewWriter(buf)
	writer.UseCRLF = true
	return &csvStreamer{buf: buf, csv: writer, flushEvery: csvFlushEvery}
}

func (s *csvStreamer) writeComment(line string) error {
	if s == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if !strings.HasSuffix(line, "\r\n") {
		line = strings.TrimSuffix(line, "\n")
		line += "\r\n"
	}
	_, err := s.buf.WriteString(line)
	return err
}

func (s *csvStreamer) writeRow(row []string) error {
	if s == nil || s.csv == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	if err := s.csv.Write(row); err != nil {
		return err
	}
	s.pendingLines++
	if s.flushEvery > 0 && s.pendingLines >= s.flushEvery {
		return s.Flush()
	}
	return nil
}

func (s *csvStreamer) Flush() error {
	if s == nil || s.csv == nil || s.buf == nil {
		return fmt.Errorf("csv streamer not initialised")
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	s.pendingLines = 0
	return nil
}

func (s *csvStreamer) Close() error {
	return s.Flush()
}

// writeStatementsCSV streams the four statements of a working. Overridden
// cells carry their override value and are flagged.
func writeStatementsCSV(w io.Writer, working consol.Working) error {
	streamer := newCSVStreamer(w)
	if err := writeMetadata(streamer, working); err != nil {
		return err
	}
	if err := streamer.writeRow([]string{"Statement", "Section", "Group", "Line", "Note", "Amount", "Overridden"}); err != nil {
		return err
	}
	overrides := make(map[string]string, len(working.Overrides))
	for _, o := range working.Overrides {
		if o.Column == "" {
			overrides[overrideKey(o.Statement, o.Label)] = o.Value
		}
	}
	set := working.Result.Statements
	for _, st := range []statements.Statement{set.BalanceSheet, set.IncomeStatement, set.EquityStatement, set.CashFlow} {
		for _, section := range st.Sections {
			for _, group := range section.Groups {
				for _, line := range group.Lines {
					amount, overridden := formatDecimal(line.Amount), "no"
					if v, ok := overrides[overrideKey(st.Kind, line.Label)]; ok {
						amount, overridden = v, "yes"
					}
					note := ""
					if line.Note > 0 {
						note = strconv.Itoa(line.Note)
					}
					if err := streamer.writeRow([]string{st.Title, section.Name, group.Name, line.Label, note, amount, overridden}); err != nil {
						return err
					}
				}
			}
		}
		if err := streamer.writeRow([]string{st.Title, "", "", "Total", "", formatDecimal(st.Total), "no"}); err != nil {
			return err
		}
	}
	if err := streamer.writeRow([]string{"", "", "", "", "", "", ""}); err != nil {
		return err
	}
	totals := set.Totals
	totalsRows := [][]string{
		{"Totals", "", "", "Assets", "", formatDecimal(totals.Assets), "no"},
		{"Totals", "", "", "Liabilities", "", formatDecimal(totals.Liabilities), "no"},
		{"Totals", "", "", "Equity", "", formatDecimal(totals.Equity), "no"},
		{"Totals", "", "", "Net Income", "", formatDecimal(totals.NetIncome), "no"},
	}
	for _, row := range totalsRows {
		if err := streamer.writeRow(row); err != nil {
			return err
		}
	}
	return streamer.Close()
}

func overrideKey(kind coa.StatementKind, label string) string {
	return string(kind) + "|" + strings.ToLower(strings.TrimSpace(label))
}

func writeMetadata(streamer *csvStreamer, working consol.Working) error {
	res := working.Result
	if err := streamer.writeComment(fmt.Sprintf("# Report: Consolidated Statements | Group: %d %s", working.GroupID, res.GroupName)); err != nil {
		return err
	}
	entities := make([]string, 0, len(res.Translations))
	for _, tr := range res.Translations {
		entities = append(entities, strconv.FormatInt(tr.EntityID, 10))
	}
	entitiesLine := "none"
	if len(entities) > 0 {
		entitiesLine = strings.Join(entities, ",")
	}
	if err := streamer.writeComment(fmt.Sprintf("# Period: %s | Currency: %s | Version: %d | Entities: %s", working.Period, res.ReportingCurrency, working.Version, entitiesLine)); err != nil {
		return err
	}
	warnings := make([]string, 0)
	for _, issue := range res.Issues.Issues {
		if issue.Severity == issues.SeverityInfo {
			continue
		}
		warnings = append(warnings, strings.TrimSpace(issue.Message))
	}
	if len(warnings) == 0 {
		return streamer.writeComment("# Warnings: none")
	}
	return streamer.writeComment("# Warnings: " + strings.Join(warnings, "; "))
}

func formatDecimal(v decimal.Decimal) string {
	return v.StringFixed(2)
}
