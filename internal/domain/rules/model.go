package rules

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/rpm/internal/domain/measurement"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityCritical:
		return true
	}
	return false
}

type Operator string

const (
	OperatorGreaterThan Operator = "gt"
	OperatorLessThan    Operator = "lt"
)

// Holds reports whether "v OP limit" is true.
func (o Operator) Holds(v, limit float64) bool {
	switch o {
	case OperatorGreaterThan:
		return v > limit
	case OperatorLessThan:
		return v < limit
	}
	return false
}

func (o Operator) Symbol() string {
	if o == OperatorLessThan {
		return "<"
	}
	return ">"
}

type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// DefaultMinSlope applies to trend conditions that do not set their own
// significance threshold.
const DefaultMinSlope = 0.1

// DefaultVolatilityPercent applies to volatility conditions stored without a
// percent_change.
const DefaultVolatilityPercent = 20.0

type ConditionKind string

const (
	ConditionThreshold   ConditionKind = "threshold"
	ConditionTrend       ConditionKind = "trend"
	ConditionVolatility  ConditionKind = "volatility"
	ConditionMissingData ConditionKind = "missing_data"
)

// Condition is a closed set: Threshold, Trend, Volatility, MissingData.
type Condition interface {
	Kind() ConditionKind
	Validate() error
	isCondition()
}

type Threshold struct {
	Operator        Operator
	Value           float64
	PersistenceDays int
}

type Trend struct {
	Direction Direction
	Days      int
	MinSlope  float64
}

type Volatility struct {
	PercentChange float64
}

type MissingData struct {
	HoursWithoutData int
}

func (Threshold) Kind() ConditionKind   { return ConditionThreshold }
func (Trend) Kind() ConditionKind       { return ConditionTrend }
func (Volatility) Kind() ConditionKind  { return ConditionVolatility }
func (MissingData) Kind() ConditionKind { return ConditionMissingData }

func (Threshold) isCondition()   {}
func (Trend) isCondition()       {}
func (Volatility) isCondition()  {}
func (MissingData) isCondition() {}

func (c Threshold) Validate() error {
	if c.Operator != OperatorGreaterThan && c.Operator != OperatorLessThan {
		return fmt.Errorf("threshold operator must be gt or lt, got %q", c.Operator)
	}
	if c.PersistenceDays < 0 {
		return fmt.Errorf("persistence_days must not be negative")
	}
	return nil
}

func (c Trend) Validate() error {
	if c.Direction != DirectionUp && c.Direction != DirectionDown {
		return fmt.Errorf("trend direction must be up or down, got %q", c.Direction)
	}
	if c.Days < 2 {
		return fmt.Errorf("trend days must be at least 2")
	}
	if c.MinSlope < 0 {
		return fmt.Errorf("min_slope must not be negative")
	}
	return nil
}

func (c Volatility) Validate() error {
	if c.PercentChange <= 0 {
		return fmt.Errorf("percent_change must be positive")
	}
	return nil
}

func (c MissingData) Validate() error {
	if c.HoursWithoutData <= 0 {
		return fmt.Errorf("hours_without_data must be positive")
	}
	return nil
}

type ActionKind string

const (
	ActionAlert         ActionKind = "alert"
	ActionSuggestVisit  ActionKind = "suggest_visit"
	ActionAssignTask    ActionKind = "assign_task"
	ActionAssignContent ActionKind = "assign_content"
)

// Action is a closed set: AlertAction, SuggestVisitAction, AssignTaskAction,
// AssignContentAction.
type Action interface {
	Kind() ActionKind
	Validate() error
	isAction()
}

type AlertAction struct{}

type SuggestVisitAction struct {
	Notes string
}

type AssignTaskAction struct {
	TaskType string
	Title    string
}

type AssignContentAction struct {
	ContentModule string
}

func (AlertAction) Kind() ActionKind         { return ActionAlert }
func (SuggestVisitAction) Kind() ActionKind  { return ActionSuggestVisit }
func (AssignTaskAction) Kind() ActionKind    { return ActionAssignTask }
func (AssignContentAction) Kind() ActionKind { return ActionAssignContent }

func (AlertAction) isAction()         {}
func (SuggestVisitAction) isAction()  {}
func (AssignTaskAction) isAction()    {}
func (AssignContentAction) isAction() {}

func (AlertAction) Validate() error        { return nil }
func (SuggestVisitAction) Validate() error { return nil }

func (a AssignTaskAction) Validate() error {
	if a.TaskType == "" {
		return fmt.Errorf("task_type is required")
	}
	if a.Title == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

func (a AssignContentAction) Validate() error {
	if a.ContentModule == "" {
		return fmt.Errorf("content_module is required")
	}
	return nil
}

// Rule is an operator-authored condition over one patient metric plus the
// action to take when it holds. JSON encoding lives in codec.go.
type Rule struct {
	ID          uuid.UUID
	Name        string
	Description string
	Metric      measurement.Metric
	WindowDays  int
	Condition   Condition
	Severity    Severity
	Action      Action
	Enabled     bool
	Priority    int
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// enabledSet records whether a decoded document carried "enabled".
	enabledSet bool
}

// Window returns the measurement lookback for the rule.
func (r *Rule) Window() time.Duration {
	return time.Duration(r.WindowDays) * 24 * time.Hour
}

func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !r.Metric.Valid() {
		return fmt.Errorf("metric %q is not supported", r.Metric)
	}
	if r.WindowDays <= 0 {
		return fmt.Errorf("window_days must be positive")
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("severity must be info, warn or critical")
	}
	if r.Condition == nil {
		return fmt.Errorf("condition is required")
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	switch c := r.Condition.(type) {
	case Threshold:
		if c.PersistenceDays > r.WindowDays {
			return fmt.Errorf("persistence_days %d exceeds window_days %d", c.PersistenceDays, r.WindowDays)
		}
	case Trend:
		if c.Days > r.WindowDays {
			return fmt.Errorf("trend days %d exceeds window_days %d", c.Days, r.WindowDays)
		}
	}
	if r.Action == nil {
		return fmt.Errorf("action is required")
	}
	if err := r.Action.Validate(); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	return nil
}
