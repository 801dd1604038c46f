package shared

import (
	"errors"
	"strings"
	"time"
)

// PeriodLayout is the canonical period key format.
const PeriodLayout = "2006-01"

// ErrInvalidPeriod indicates a malformed period key.
var ErrInvalidPeriod = errors.New("period must be formatted YYYY-MM")

// ParsePeriod parses a YYYY-MM period key into the first day of the month in UTC.
func ParsePeriod(key string) (time.Time, error) {
	t, err := time.Parse(PeriodLayout, strings.TrimSpace(key))
	if err != nil {
		return time.Time{}, ErrInvalidPeriod
	}
	return t.UTC(), nil
}

// PeriodKey formats t as a period key.
func PeriodKey(t time.Time) string {
	return t.UTC().Format(PeriodLayout)
}

// NormalizePeriod validates key and returns it in canonical form.
func NormalizePeriod(key string) (string, error) {
	t, err := ParsePeriod(key)
	if err != nil {
		return "", err
	}
	return PeriodKey(t), nil
}
