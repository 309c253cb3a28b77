package shared

import (
	"fmt"
	"strings"
	"time"
)

// PeriodLayout is the canonical monthly period code format.
const PeriodLayout = "2006-01"

// maxPeriodRange caps inclusive ranges so a typo cannot schedule centuries of work.
const maxPeriodRange = 120

// ParsePeriods expands a period selector into an ordered list of period codes.
// Accepted forms: a single code ("2024-01"), an inclusive monthly range
// ("2024-01..2024-03") or an explicit comma list ("2024-01,2024-03").
// Single codes and list entries are treated as opaque identifiers; ranges must
// use the YYYY-MM layout.
func ParsePeriods(selector string) ([]string, error) {
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return nil, fmt.Errorf("%w: period selector is required", ErrConfiguration)
	}
	if strings.Contains(selector, "..") {
		if strings.Contains(selector, ",") {
			return nil, fmt.Errorf("%w: period range cannot be combined with a list: %q", ErrConfiguration, selector)
		}
		bounds := strings.SplitN(selector, "..", 2)
		return expandRange(strings.TrimSpace(bounds[0]), strings.TrimSpace(bounds[1]))
	}
	parts := strings.Split(selector, ",")
	periods := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		code := strings.TrimSpace(part)
		if code == "" {
			return nil, fmt.Errorf("%w: empty entry in period list %q", ErrConfiguration, selector)
		}
		if _, dup := seen[code]; dup {
			return nil, fmt.Errorf("%w: duplicate period %s", ErrConfiguration, code)
		}
		seen[code] = struct{}{}
		periods = append(periods, code)
	}
	return periods, nil
}

func expandRange(fromCode, toCode string) ([]string, error) {
	from, err := time.Parse(PeriodLayout, fromCode)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid range start %q (expected YYYY-MM)", ErrConfiguration, fromCode)
	}
	to, err := time.Parse(PeriodLayout, toCode)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid range end %q (expected YYYY-MM)", ErrConfiguration, toCode)
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: range start %s is after end %s", ErrConfiguration, fromCode, toCode)
	}
	var periods []string
	for current := from; !current.After(to); current = current.AddDate(0, 1, 0) {
		if len(periods) >= maxPeriodRange {
			return nil, fmt.Errorf("%w: range %s..%s exceeds %d periods", ErrConfiguration, fromCode, toCode, maxPeriodRange)
		}
		periods = append(periods, current.Format(PeriodLayout))
	}
	return periods, nil
}

// PeriodStart returns the first instant of a YYYY-MM period in UTC.
func PeriodStart(code string) (time.Time, error) {
	t, err := time.Parse(PeriodLayout, strings.TrimSpace(code))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period %q: %w", code, err)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
}
