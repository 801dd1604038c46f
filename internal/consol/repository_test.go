package consol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/consolidation/internal/consol/fx"
)

func TestTranslationStatementsReplaceEntityRows(t *testing.T) {
	at := time.Date(2024, 4, 2, 9, 0, 0, 0, time.UTC)
	lines := []fx.Line{
		{AccountCode: "1000", Raw: d("1000"), Rate: d("1.25"), Translated: d("1250"), Method: fx.MethodClosing, Source: "rate_set"},
		{AccountCode: "4000", Raw: d("500"), Rate: d("1.20"), Translated: d("600"), Method: fx.MethodAverage, Source: "rate_set"},
	}
	sqlOf := func(writes []sqlWrite) []string {
		out := make([]string, len(writes))
		for i, w := range writes {
			out[i] = w.sql
		}
		return out
	}

	cases := []struct {
		name string
		res  fx.Result
		want []string
	}{
		{
			name: "posts fctr",
			res:  fx.Result{EntityID: 2, Lines: lines, FCTR: d("25"), FCTRAccount: "3900"},
			want: []string{deleteTranslatedSQL, insertTranslatedSQL, insertTranslatedSQL, upsertFCTRSQL},
		},
		{
			name: "clears stale fctr",
			res:  fx.Result{EntityID: 2, Lines: lines},
			want: []string{deleteTranslatedSQL, insertTranslatedSQL, insertTranslatedSQL, deleteFCTRSQL},
		},
		{
			name: "blocked keeps previous rows",
			res:  fx.Result{EntityID: 2, Blocked: true, FCTRAccount: "3900"},
			want: []string{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			writes := translationStatements(7, testPeriod, "ops", tc.res, at)
			require.Equal(t, tc.want, sqlOf(writes))
			for _, w := range writes {
				require.Equal(t, []any{int64(7), testPeriod, int64(2)}, w.args[:3], "%s scoped to group, period and entity", w.what)
			}
		})
	}

	writes := translationStatements(7, testPeriod, "ops", cases[0].res, at)
	require.Equal(t, []any{int64(7), testPeriod, int64(2), "3900", d("25"), "ops", at}, writes[3].args)
}
