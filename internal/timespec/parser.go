// Package timespec turns the CLI's history flags into a market data filter.
package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dyluth/cerebrum/pkg/protocol"
)

// Parse parses a point in time. Supports:
//   - calendar dates: "2025-01-31"
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//   - Go durations relative to now: "36h", "90m"
//   - day counts relative to now: "90d"
func Parse(spec string, now time.Time) (time.Time, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return time.Time{}, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(protocol.DateLayout, spec); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t, nil
	}
	if days, ok := strings.CutSuffix(spec, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil && n >= 0 {
			return now.AddDate(0, 0, -n), nil
		}
	}
	if d, err := time.ParseDuration(spec); err == nil {
		return now.Add(-d), nil
	}

	return time.Time{}, fmt.Errorf("invalid time specification: %s (use a date like '2025-01-31', RFC3339, or a relative age like '90d' or '36h')", spec)
}

// Filter builds the history filter from the --period, --start and --end
// flags. A start without an end runs until now; no flags at all selects
// the default period.
func Filter(period, start, end string, now time.Time) (protocol.Filter, error) {
	if start == "" && end == "" {
		if period == "" {
			return protocol.DefaultFilter(), nil
		}
		f := protocol.Filter{Option: protocol.FilterByPeriod, Period: period}
		return f, f.Validate()
	}
	if period != "" {
		return protocol.Filter{}, fmt.Errorf("--period cannot be combined with --start/--end")
	}
	if start == "" {
		return protocol.Filter{}, fmt.Errorf("--end requires --start")
	}

	from, err := Parse(start, now)
	if err != nil {
		return protocol.Filter{}, fmt.Errorf("invalid --start: %w", err)
	}
	until := now
	if end != "" {
		if until, err = Parse(end, now); err != nil {
			return protocol.Filter{}, fmt.Errorf("invalid --end: %w", err)
		}
	}

	f := protocol.Filter{
		Option:    protocol.FilterByDateRange,
		StartDate: from.Format(protocol.DateLayout),
		EndDate:   until.Format(protocol.DateLayout),
	}
	if err := f.Validate(); err != nil {
		return protocol.Filter{}, err
	}
	return f, nil
}
