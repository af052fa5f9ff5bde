package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/rpm/internal/domain/execution"
	"github.com/ehr/rpm/internal/domain/measurement"
	"github.com/ehr/rpm/internal/domain/patient"
	"github.com/ehr/rpm/internal/domain/rules"
	"github.com/ehr/rpm/internal/platform/telemetry"
)

// ActionDispatcher is satisfied by *Dispatcher.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, patientID uuid.UUID, rule *rules.Rule, res Result) (Outcome, error)
}

type Options struct {
	Workers        int
	PatientTimeout time.Duration
}

// Engine runs the per-patient pass: fetch, evaluate, record, dispatch.
type Engine struct {
	rules        rules.Catalog
	measurements measurement.Source
	recorder     execution.Recorder
	dispatcher   ActionDispatcher
	patients     patient.Directory
	opts         Options
	now          func() time.Time
	logger       zerolog.Logger
}

func New(
	catalog rules.Catalog,
	measurements measurement.Source,
	recorder execution.Recorder,
	dispatcher ActionDispatcher,
	patients patient.Directory,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PatientTimeout <= 0 {
		opts.PatientTimeout = 30 * time.Second
	}
	return &Engine{
		rules:        catalog,
		measurements: measurements,
		recorder:     recorder,
		dispatcher:   dispatcher,
		patients:     patients,
		opts:         opts,
		now:          time.Now,
		logger:       logger.With().Str("component", "rule-engine").Logger(),
	}
}

// RuleOutcome reports what happened to one rule in a patient pass.
type RuleOutcome struct {
	RuleID    uuid.UUID `json:"rule_id"`
	RuleName  string    `json:"rule_name"`
	Triggered bool      `json:"triggered"`
	Action    Outcome   `json:"action"`
	Message   string    `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type PatientReport struct {
	PatientID uuid.UUID     `json:"patient_id"`
	Rules     []RuleOutcome `json:"rules"`
	Failed    int           `json:"failed"`
}

type PassSummary struct {
	Patients int           `json:"patients"`
	Failed   int           `json:"failed"`
	Rules    int           `json:"rules"`
	Duration time.Duration `json:"duration"`
}

// EvaluateForPatient runs one pass over every enabled rule for a single
// patient. Failures of individual rules are reported in the result; an
// error means the pass itself could not complete.
func (e *Engine) EvaluateForPatient(ctx context.Context, patientID uuid.UUID) (*PatientReport, error) {
	ruleSet, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	return e.evaluatePatient(ctx, patientID, ruleSet)
}

// RunPass evaluates every active patient with a bounded worker pool. A
// patient whose pass fails or times out is logged and skipped.
func (e *Engine) RunPass(ctx context.Context) (PassSummary, error) {
	start := time.Now()
	var summary PassSummary

	ruleSet, err := e.rules.ListEnabled(ctx)
	if err != nil {
		telemetry.PassesTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("list enabled rules: %w", err)
	}
	ids, err := e.patients.ListActiveIDs(ctx)
	if err != nil {
		telemetry.PassesTotal.WithLabelValues("failed").Inc()
		return summary, fmt.Errorf("list patients: %w", err)
	}
	summary.Patients = len(ids)
	summary.Rules = len(ruleSet)
	telemetry.PassPatients.Set(float64(len(ids)))

	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					telemetry.PatientFailures.WithLabelValues("panic").Inc()
					e.logger.Error().Str("patient_id", id.String()).Interface("panic", r).Msg("patient pass panicked")
				}
			}()
			if _, err := e.evaluatePatient(ctx, id, ruleSet); err != nil {
				failed.Add(1)
				e.logger.Error().Err(err).Str("patient_id", id.String()).Msg("patient pass failed")
			}
			return nil
		})
	}
	g.Wait()

	summary.Failed = int(failed.Load())
	summary.Duration = time.Since(start)
	telemetry.PassDuration.Observe(summary.Duration.Seconds())

	if err := ctx.Err(); err != nil {
		telemetry.PassesTotal.WithLabelValues("failed").Inc()
		return summary, err
	}
	telemetry.PassesTotal.WithLabelValues("ok").Inc()
	return summary, nil
}

func (e *Engine) evaluatePatient(ctx context.Context, patientID uuid.UUID, ruleSet []*rules.Rule) (*PatientReport, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.PatientTimeout)
	defer cancel()

	report := &PatientReport{PatientID: patientID, Rules: make([]RuleOutcome, 0, len(ruleSet))}
	series := newSeriesCache(e.measurements, patientID, e.now())

	for _, rule := range ruleSet {
		if err := ctx.Err(); err != nil {
			reason := "error"
			if errors.Is(err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			telemetry.PatientFailures.WithLabelValues(reason).Inc()
			return report, fmt.Errorf("%w: %d of %d rules evaluated: %v", ErrPatientPass, len(report.Rules), len(ruleSet), err)
		}
		out := e.evaluateRule(ctx, patientID, rule, series)
		if out.Error != "" {
			report.Failed++
		}
		report.Rules = append(report.Rules, out)
	}
	return report, nil
}

// evaluateRule is the unit of failure isolation. Nothing that goes wrong
// here escapes to other rules or patients.
func (e *Engine) evaluateRule(ctx context.Context, patientID uuid.UUID, rule *rules.Rule, series *seriesCache) (out RuleOutcome) {
	out = RuleOutcome{RuleID: rule.ID, RuleName: rule.Name, Action: OutcomeNone}
	log := e.logger.With().
		Str("patient_id", patientID.String()).
		Str("rule_id", rule.ID.String()).
		Str("rule_name", rule.Name).
		Logger()

	fail := func(stage string, err error) RuleOutcome {
		telemetry.RuleFailures.WithLabelValues(stage).Inc()
		log.Error().Err(err).Str("stage", stage).Msg("rule evaluation failed")
		out.Error = stage + ": " + err.Error()
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			out = fail("panic", fmt.Errorf("%v", r))
		}
	}()

	measurements, err := series.get(ctx, rule.Metric, rule.WindowDays)
	if err != nil {
		return fail("fetch", err)
	}

	res, err := Evaluate(rule, measurements)
	if err != nil {
		return fail("evaluate", err)
	}
	out.Triggered = res.Triggered
	out.Message = res.Message
	condition := "unknown"
	if rule.Condition != nil {
		condition = string(rule.Condition.Kind())
	}
	telemetry.RuleEvaluations.WithLabelValues(string(rule.Metric), condition, strconv.FormatBool(res.Triggered)).Inc()

	// The audit row is written before any side effect. Without it there is
	// no dispatch.
	if err := e.recorder.Record(ctx, &execution.Execution{
		RuleID:     rule.ID,
		RuleName:   rule.Name,
		PatientID:  patientID,
		Triggered:  res.Triggered,
		Value:      res.Value,
		TrendSlope: res.TrendSlope,
		Message:    res.Message,
		Metadata:   res.Metadata,
	}); err != nil {
		return fail("record", err)
	}

	if !res.Triggered {
		return out
	}

	outcome, err := e.dispatcher.Dispatch(ctx, patientID, rule, res)
	if err != nil {
		return fail("dispatch", err)
	}
	out.Action = outcome
	return out
}
