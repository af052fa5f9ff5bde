package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/rpm/internal/domain/alert"
	"github.com/ehr/rpm/internal/domain/measurement"
	"github.com/ehr/rpm/internal/domain/rules"
	"github.com/ehr/rpm/internal/domain/visitrequest"
	"github.com/ehr/rpm/internal/platform/events"
	"github.com/ehr/rpm/internal/platform/notification"
	"github.com/ehr/rpm/internal/platform/telemetry"
)

type Outcome string

const (
	OutcomeNone       Outcome = "none"
	OutcomeDispatched Outcome = "dispatched"
	OutcomeSuppressed Outcome = "suppressed"
)

var alertTypes = map[measurement.Metric]string{
	measurement.MetricBloodPressure: alert.TypeBloodPressure,
	measurement.MetricGlucose:       alert.TypeGlucose,
	measurement.MetricWeight:        alert.TypeWeight,
	measurement.MetricSleep:         alert.TypeSleep,
	measurement.MetricHRV:           alert.TypeHRV,
	measurement.MetricA1C:           alert.TypeA1C,
}

var alertSeverities = map[rules.Severity]alert.Severity{
	rules.SeverityInfo:     alert.SeverityLow,
	rules.SeverityWarn:     alert.SeverityMedium,
	rules.SeverityCritical: alert.SeverityHigh,
}

var metricLabels = map[measurement.Metric]string{
	measurement.MetricBloodPressure: "Blood pressure",
	measurement.MetricGlucose:       "Glucose",
	measurement.MetricWeight:        "Weight",
	measurement.MetricSleep:         "Sleep",
	measurement.MetricHRV:           "Heart-rate variability",
	measurement.MetricA1C:           "A1C",
}

// AlertType returns the alert type produced by alert actions on metric.
func AlertType(metric measurement.Metric) string {
	if t, ok := alertTypes[metric]; ok {
		return t
	}
	return string(metric) + "_alert"
}

// AlertDedupKey scopes alert suppression to one rule and alert type.
func AlertDedupKey(ruleID uuid.UUID, alertType string) string {
	return "rule:" + ruleID.String() + ":" + alertType
}

type DispatcherOptions struct {
	AlertWindow time.Duration
	VisitWindow time.Duration
}

// Dispatcher performs the single side effect a triggered rule asks for. The
// dedup check and the create run under one lock per (patient, action key).
type Dispatcher struct {
	alerts    alert.Sink
	visits    visitrequest.Sink
	gate      *Gate
	locker    Locker
	templates *notification.TemplateEngine
	publisher events.Publisher
	opts      DispatcherOptions
	logger    zerolog.Logger
}

func NewDispatcher(
	alerts alert.Sink,
	visits visitrequest.Sink,
	locker Locker,
	templates *notification.TemplateEngine,
	publisher events.Publisher,
	opts DispatcherOptions,
	logger zerolog.Logger,
) *Dispatcher {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if templates == nil {
		templates = notification.NewTemplateEngine()
	}
	return &Dispatcher{
		alerts:    alerts,
		visits:    visits,
		gate:      NewGate(alerts, visits),
		locker:    locker,
		templates: templates,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// plan is one resolved action: where to dedup, how long to look back, and
// how to create the artifact.
type plan struct {
	kind   rules.ActionKind
	key    string
	window time.Duration
	create func(ctx context.Context) (*events.Event, error)
}

// Dispatch creates the artifact for a triggered result unless an equivalent
// one is active. Untriggered results are a no-op. When the dedup lookup fails
// nothing is created and the error wraps ErrDedupUnavailable.
func (d *Dispatcher) Dispatch(ctx context.Context, patientID uuid.UUID, rule *rules.Rule, res Result) (Outcome, error) {
	if !res.Triggered {
		return OutcomeNone, nil
	}

	p, err := d.plan(patientID, rule, res)
	if err != nil {
		return OutcomeNone, err
	}

	outcome := OutcomeNone
	var event *events.Event
	err = d.locker.WithLock(ctx, lockKey(patientID, p.key), func(ctx context.Context) error {
		suppress, err := d.gate.ShouldSuppress(ctx, patientID, p.key, p.window)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrDedupUnavailable, err)
		}
		if suppress {
			outcome = OutcomeSuppressed
			return nil
		}
		ev, err := p.create(ctx)
		if err != nil {
			return fmt.Errorf("create %s artifact: %w", p.kind, err)
		}
		outcome = OutcomeDispatched
		event = ev
		return nil
	})
	if err != nil {
		telemetry.ActionsTotal.WithLabelValues(string(p.kind), "failed").Inc()
		return OutcomeNone, err
	}

	telemetry.ActionsTotal.WithLabelValues(string(p.kind), string(outcome)).Inc()
	log := d.logger.With().
		Str("patient_id", patientID.String()).
		Str("rule_id", rule.ID.String()).
		Str("action", string(p.kind)).
		Str("dedup_key", p.key).
		Logger()

	if outcome == OutcomeSuppressed {
		log.Debug().Msg("action suppressed by active artifact")
		return outcome, nil
	}

	log.Info().Msg("action dispatched")
	if event != nil {
		if err := d.publisher.Publish(ctx, *event); err != nil {
			log.Warn().Err(err).Msg("failed to publish action event")
		}
	}
	return outcome, nil
}

func (d *Dispatcher) plan(patientID uuid.UUID, rule *rules.Rule, res Result) (plan, error) {
	data := templateData(rule, res)
	ruleID := rule.ID

	switch a := rule.Action.(type) {
	case rules.AlertAction:
		alertType := AlertType(rule.Metric)
		return d.alertPlan(patientID, rule, res, alertType, alertSeverities[rule.Severity],
			notification.TemplateMetricAlert, data, nil), nil

	case rules.AssignTaskAction:
		data["task_type"] = a.TaskType
		data["task_title"] = a.Title
		extra := map[string]interface{}{"task_type": a.TaskType, "title": a.Title}
		return d.alertPlan(patientID, rule, res, alert.TypeTaskAssignment, alert.SeverityLow,
			notification.TemplateTaskAssignment, data, extra), nil

	case rules.AssignContentAction:
		data["content_module"] = a.ContentModule
		extra := map[string]interface{}{"content_module": a.ContentModule}
		return d.alertPlan(patientID, rule, res, alert.TypeContentAssignment, alert.SeverityLow,
			notification.TemplateContentAssignment, data, extra), nil

	case rules.SuggestVisitAction:
		visitType := visitrequest.TypeAssistantCheck
		if rule.Severity == rules.SeverityCritical {
			visitType = visitrequest.TypeProviderVisit
		}
		_, body, err := d.templates.Render(notification.TemplateVisitRequest, data)
		if err != nil {
			return plan{}, err
		}
		notes := body
		if a.Notes != "" {
			notes = a.Notes + "\n" + body
		}
		return plan{
			kind:   rules.ActionSuggestVisit,
			key:    VisitDedupKey,
			window: d.opts.VisitWindow,
			create: func(ctx context.Context) (*events.Event, error) {
				v, err := d.visits.CreateVisitRequest(ctx, patientID, visitrequest.Draft{
					RuleID: &ruleID,
					Type:   visitType,
					Notes:  notes,
				})
				if err != nil {
					return nil, err
				}
				return &events.Event{
					Type:       events.TypeVisitRequestCreated,
					PatientID:  patientID,
					RuleID:     ruleID,
					ArtifactID: v.ID,
					Data:       map[string]interface{}{"type": string(v.Type)},
				}, nil
			},
		}, nil
	}
	return plan{}, fmt.Errorf("%w: %T", ErrUnknownAction, rule.Action)
}

func (d *Dispatcher) alertPlan(
	patientID uuid.UUID,
	rule *rules.Rule,
	res Result,
	alertType string,
	severity alert.Severity,
	templateID string,
	data map[string]string,
	extra map[string]interface{},
) plan {
	ruleID := rule.ID
	key := AlertDedupKey(ruleID, alertType)
	return plan{
		kind:   rule.Action.Kind(),
		key:    key,
		window: d.opts.AlertWindow,
		create: func(ctx context.Context) (*events.Event, error) {
			title, body, err := d.templates.Render(templateID, data)
			if err != nil {
				return nil, err
			}
			payload := alertPayload(rule, res)
			for k, v := range extra {
				payload[k] = v
			}
			a, err := d.alerts.CreateAlert(ctx, patientID, alert.Draft{
				RuleID:   &ruleID,
				Type:     alertType,
				DedupKey: key,
				Severity: severity,
				Title:    title,
				Body:     body,
				Payload:  payload,
			})
			if err != nil {
				return nil, err
			}
			if a == nil {
				return nil, errors.New("alert sink returned no alert")
			}
			return &events.Event{
				Type:       events.TypeAlertCreated,
				PatientID:  patientID,
				RuleID:     ruleID,
				ArtifactID: a.ID,
				Data: map[string]interface{}{
					"alert_type": alertType,
					"severity":   string(severity),
				},
			}, nil
		},
	}
}

// alertPayload carries the rule reference and the evaluation evidence.
func alertPayload(rule *rules.Rule, res Result) map[string]interface{} {
	payload := make(map[string]interface{}, len(res.Metadata)+5)
	for k, v := range res.Metadata {
		payload[k] = v
	}
	payload["rule_id"] = rule.ID.String()
	payload["metric"] = string(rule.Metric)
	if res.Value != nil {
		payload["value"] = *res.Value
	}
	if res.TrendSlope != nil {
		payload["trend"] = *res.TrendSlope
	}
	if res.Message != "" {
		payload["message"] = res.Message
	}
	return payload
}

func templateData(rule *rules.Rule, res Result) map[string]string {
	label, ok := metricLabels[rule.Metric]
	if !ok {
		label = string(rule.Metric)
	}
	data := map[string]string{
		"rule_name":    rule.Name,
		"metric":       string(rule.Metric),
		"metric_label": label,
		"severity":     string(rule.Severity),
		"message":      res.Message,
	}
	if res.Value != nil {
		data["value"] = strconv.FormatFloat(*res.Value, 'g', -1, 64)
	}
	return data
}
