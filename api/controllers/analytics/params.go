package analytics

import (
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/angelmondragon/settlement-engine/pkg/errors"
)

const (
	day           = 24 * time.Hour
	defaultPreset = "30d"
	// maxSpan bounds explicit ranges so a dashboard cannot ask BigQuery for
	// the whole table.
	maxSpan = 366 * day
)

var presets = map[string]time.Duration{
	"7d":   7 * day,
	"30d":  30 * day,
	"90d":  90 * day,
	"365d": 365 * day,
}

var timeNowUTC = func() time.Time {
	return time.Now().UTC()
}

// resolveRange reads either an explicit from/to pair (RFC3339) or a preset
// ending at now. Explicit bounds win when present.
func resolveRange(r *http.Request, now time.Time) (time.Time, time.Time, error) {
	query := r.URL.Query()
	from, to := strings.TrimSpace(query.Get("from")), strings.TrimSpace(query.Get("to"))
	if from == "" && to == "" {
		span, err := presetSpan(query.Get("preset"))
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return now.Add(-span), now, nil
	}
	if from == "" || to == "" {
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "from and to must be provided together")
	}

	start, err := parseBound("from", from)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := parseBound("to", to)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	switch {
	case !start.Before(end):
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "from must be before to")
	case end.Sub(start) > maxSpan:
		return time.Time{}, time.Time{}, pkgerrors.New(pkgerrors.CodeValidation, "range may not exceed 366 days")
	}
	return start, end, nil
}

func presetSpan(raw string) (time.Duration, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "" {
		name = defaultPreset
	}
	span, ok := presets[name]
	if !ok {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "preset must be one of 7d, 30d, 90d, 365d").
			WithDetails(map[string]any{"preset": raw})
	}
	return span, nil
}

func parseBound(field, raw string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, pkgerrors.Newf(pkgerrors.CodeValidation, "%s must be an RFC3339 timestamp", field)
	}
	return ts.UTC(), nil
}
