package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateFeed reads period quotes from an external HTTP rate service.
type RateFeed struct {
	baseURL    string
	httpClient *http.Client
}

// NewRateFeed constructs a feed client. A zero timeout defaults to 10 seconds.
func NewRateFeed(baseURL string, timeout time.Duration) *RateFeed {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RateFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type feedQuote struct {
	Pair    string          `json:"pair"`
	Period  string          `json:"period"`
	Average decimal.Decimal `json:"average"`
	Closing decimal.Decimal `json:"closing"`
}

// QuoteForPeriod implements QuoteProvider. A 404 or a quote without any
// positive rate reports no quote rather than an error.
func (f *RateFeed) QuoteForPeriod(ctx context.Context, asOf time.Time, pair string) (Quote, bool, error) {
	query := url.Values{}
	query.Set("pair", strings.ToUpper(strings.TrimSpace(pair)))
	query.Set("period", asOf.Format("2006-01"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/quotes?%s", f.baseURL, query.Encode()), nil)
	if err != nil {
		return Quote{}, false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Quote{}, false, fmt.Errorf("fx: rate feed request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusNotFound {
		return Quote{}, false, nil
	}
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Quote{}, false, fmt.Errorf("fx: rate feed returned status %d", resp.StatusCode)
	}
	var payload feedQuote
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, false, fmt.Errorf("fx: decode rate feed: %w", err)
	}
	quote := Quote{Average: payload.Average, Closing: payload.Closing}
	if !quote.Average.IsPositive() && !quote.Closing.IsPositive() {
		return Quote{}, false, nil
	}
	return quote, true, nil
}
