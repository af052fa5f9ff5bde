package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ehr/rpm/internal/domain/measurement"
	"github.com/ehr/rpm/internal/domain/rules"
)

type point struct {
	at    time.Time
	value float64
}

// usable returns the readings with an extractable number, oldest first.
// Malformed values are skipped.
func usable(metric measurement.Metric, series []*measurement.Measurement) []point {
	pts := make([]point, 0, len(series))
	for _, m := range series {
		if m == nil {
			continue
		}
		if v, ok := m.Value.Number(metric); ok {
			pts = append(pts, point{at: m.RecordedAt, value: v})
		}
	}
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].at.Before(pts[j].at) })
	return pts
}

func values(pts []point) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.value
	}
	return out
}

// Evaluate computes the verdict of rule over series, the measurements of
// rule.Metric inside the rule window.
func Evaluate(rule *rules.Rule, series []*measurement.Measurement) (Result, error) {
	switch c := rule.Condition.(type) {
	case rules.Threshold:
		return evalThreshold(rule.Metric, c, usable(rule.Metric, series)), nil
	case rules.Trend:
		return evalTrend(rule.Metric, c, usable(rule.Metric, series)), nil
	case rules.Volatility:
		return evalVolatility(rule.Metric, c, usable(rule.Metric, series)), nil
	case rules.MissingData:
		return evalMissingData(rule, c, series), nil
	}
	return Result{}, fmt.Errorf("%w: %T", ErrUnknownCondition, rule.Condition)
}

func evalThreshold(metric measurement.Metric, c rules.Threshold, pts []point) Result {
	if len(pts) == 0 {
		return Result{Message: fmt.Sprintf("no usable %s readings in window", metric)}
	}

	latest := pts[len(pts)-1]
	res := Result{
		Value: float(latest.value),
		Metadata: map[string]interface{}{
			"operator":         string(c.Operator),
			"threshold":        c.Value,
			"persistence_days": c.PersistenceDays,
		},
	}

	if !c.Operator.Holds(latest.value, c.Value) {
		res.Message = fmt.Sprintf("latest %s %g is not %s %g", metric, latest.value, c.Operator.Symbol(), c.Value)
		return res
	}

	if c.PersistenceDays <= 1 {
		res.Triggered = true
		res.Message = fmt.Sprintf("latest %s %g %s %g", metric, latest.value, c.Operator.Symbol(), c.Value)
		return res
	}

	// Every reading in the persistence window must hold, and together they
	// must cover persistenceDays distinct calendar days.
	cutoff := latest.at.Add(-time.Duration(c.PersistenceDays) * 24 * time.Hour)
	days := make(map[string]bool)
	readings := 0
	for i := len(pts) - 1; i >= 0; i-- {
		p := pts[i]
		if !p.at.After(cutoff) {
			break
		}
		if !c.Operator.Holds(p.value, c.Value) {
			res.Message = fmt.Sprintf("%s %g at %s breaks the %d-day persistence window",
				metric, p.value, p.at.UTC().Format(time.RFC3339), c.PersistenceDays)
			res.Metadata["breaking_value"] = p.value
			return res
		}
		days[p.at.UTC().Format("2006-01-02")] = true
		readings++
	}

	res.Metadata["qualifying_days"] = len(days)
	res.Metadata["qualifying_readings"] = readings
	if len(days) < c.PersistenceDays {
		res.Message = fmt.Sprintf("%s %s %g on %d of %d required days",
			metric, c.Operator.Symbol(), c.Value, len(days), c.PersistenceDays)
		return res
	}

	res.Triggered = true
	res.Message = fmt.Sprintf("%s %s %g on every reading for %d days (latest %g)",
		metric, c.Operator.Symbol(), c.Value, c.PersistenceDays, latest.value)
	return res
}

func evalTrend(metric measurement.Metric, c rules.Trend, pts []point) Result {
	n := c.Days
	if n > len(pts) {
		n = len(pts)
	}
	if n < 2 {
		return Result{Message: fmt.Sprintf("need at least 2 %s readings for a trend, have %d", metric, len(pts))}
	}

	window := values(pts[len(pts)-n:])
	s := slope(window)
	res := Result{
		Value:      float(window[len(window)-1]),
		TrendSlope: float(s),
		Metadata: map[string]interface{}{
			"direction": string(c.Direction),
			"readings":  n,
			"min_slope": c.MinSlope,
		},
	}

	significant := math.Abs(s) > c.MinSlope
	switch c.Direction {
	case rules.DirectionUp:
		res.Triggered = s > 0 && significant
	case rules.DirectionDown:
		res.Triggered = s < 0 && significant
	}

	if res.Triggered {
		res.Message = fmt.Sprintf("%s trending %s over %d readings (slope %.3f)", metric, c.Direction, n, s)
	} else {
		res.Message = fmt.Sprintf("no significant %s trend in %s (slope %.3f)", c.Direction, metric, s)
	}
	return res
}

func evalVolatility(metric measurement.Metric, c rules.Volatility, pts []point) Result {
	if len(pts) < 3 {
		return Result{Message: fmt.Sprintf("need at least 3 %s readings for volatility, have %d", metric, len(pts))}
	}

	s := summarize(values(pts))
	res := Result{
		Value: float(pts[len(pts)-1].value),
		Metadata: map[string]interface{}{
			"max":  s.max,
			"min":  s.min,
			"mean": s.mean,
		},
	}
	if s.mean == 0 {
		res.Message = fmt.Sprintf("%s mean is zero, volatility undefined", metric)
		return res
	}

	pct := (s.max - s.min) / s.mean * 100
	res.Metadata["volatility_pct"] = pct
	res.Triggered = pct > c.PercentChange
	if res.Triggered {
		res.Message = fmt.Sprintf("%s varied %.1f%% (max %g, min %g), above %g%%", metric, pct, s.max, s.min, c.PercentChange)
	} else {
		res.Message = fmt.Sprintf("%s varied %.1f%%, within %g%%", metric, pct, c.PercentChange)
	}
	return res
}

// evalMissingData triggers on an empty window. Any stored reading counts as
// data, even one whose value cannot be read as a number.
func evalMissingData(rule *rules.Rule, c rules.MissingData, series []*measurement.Measurement) Result {
	res := Result{
		Metadata: map[string]interface{}{
			"hours_without_data": c.HoursWithoutData,
			"window_days":        rule.WindowDays,
		},
	}
	if len(series) > 0 {
		res.Message = fmt.Sprintf("%d %s readings in window", len(series), rule.Metric)
		return res
	}
	res.Triggered = true
	res.Message = fmt.Sprintf("no %s readings for at least %d hours", rule.Metric, c.HoursWithoutData)
	return res
}
