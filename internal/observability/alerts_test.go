package observability

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

// Metric families exported by the api and worker binaries.
var knownMetrics = []string{
	"odyssey_http_requests_total",
	"odyssey_consol_regenerate_request_duration_seconds_bucket",
	"odyssey_consol_blocked_entities",
	"odyssey_jobs_failures_total",
}

var metricRef = regexp.MustCompile(`odyssey_[a-z_]+`)

func loadConsolRules(t *testing.T) []alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "consol.yml"))
	if err != nil {
		t.Fatalf("read alert file: %v", err)
	}
	var file alertFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("decode alert file: %v", err)
	}
	for _, group := range file.Groups {
		if group.Name == "consolidation" {
			return group.Rules
		}
	}
	t.Fatal("consolidation alert group missing")
	return nil
}

func runbookAnchors(t *testing.T) map[string]bool {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook-consol.md"))
	if err != nil {
		t.Fatalf("read runbook: %v", err)
	}
	anchors := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		if heading, ok := strings.CutPrefix(line, "## "); ok {
			anchors[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(heading)), " ", "-")] = true
		}
	}
	return anchors
}

func TestConsolidationAlertRules(t *testing.T) {
	rules := loadConsolRules(t)
	anchors := runbookAnchors(t)

	cases := map[string]string{
		"ConsolHighErrorRate":   "critical",
		"ConsolRegenerateSlow":  "warning",
		"ConsolBlockedEntities": "warning",
		"ConsolJobFailures":     "critical",
	}
	if len(rules) != len(cases) {
		t.Fatalf("expected %d rules, got %d", len(cases), len(rules))
	}

	for _, rule := range rules {
		t.Run(rule.Alert, func(t *testing.T) {
			severity, ok := cases[rule.Alert]
			if !ok {
				t.Fatalf("unexpected rule %q", rule.Alert)
			}
			if got := rule.Labels["severity"]; got != severity {
				t.Fatalf("severity = %q, want %q", got, severity)
			}
			if rule.For == "" || rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" {
				t.Fatalf("rule needs a hold duration, summary and description")
			}

			doc, anchor, found := strings.Cut(rule.Annotations["runbook"], "#")
			if !found || doc != "docs/runbook-consol.md" || !anchors[anchor] {
				t.Fatalf("runbook %q does not resolve to a runbook section", rule.Annotations["runbook"])
			}

			refs := metricRef.FindAllString(rule.Expr, -1)
			if len(refs) == 0 {
				t.Fatalf("expression %q references no odyssey metric", rule.Expr)
			}
			for _, ref := range refs {
				if !slices.Contains(knownMetrics, ref) {
					t.Fatalf("expression references unknown metric %q", ref)
				}
			}
		})
	}
}
