package rules

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/rpm/internal/domain/measurement"
)

// conditionDoc is the flat wire form of a Condition, shared by the API, the
// condition jsonb column and the defaults file.
type conditionDoc struct {
	Type             ConditionKind `json:"type" yaml:"type"`
	Operator         Operator      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value            *float64      `json:"value,omitempty" yaml:"value,omitempty"`
	PersistenceDays  int           `json:"persistence_days,omitempty" yaml:"persistence_days,omitempty"`
	Direction        Direction     `json:"direction,omitempty" yaml:"direction,omitempty"`
	Days             int           `json:"days,omitempty" yaml:"days,omitempty"`
	MinSlope         *float64      `json:"min_slope,omitempty" yaml:"min_slope,omitempty"`
	PercentChange    *float64      `json:"percent_change,omitempty" yaml:"percent_change,omitempty"`
	HoursWithoutData int           `json:"hours_without_data,omitempty" yaml:"hours_without_data,omitempty"`
}

type actionDoc struct {
	Type          ActionKind `json:"type" yaml:"type"`
	Notes         string     `json:"notes,omitempty" yaml:"notes,omitempty"`
	TaskType      string     `json:"task_type,omitempty" yaml:"task_type,omitempty"`
	Title         string     `json:"title,omitempty" yaml:"title,omitempty"`
	ContentModule string     `json:"content_module,omitempty" yaml:"content_module,omitempty"`
}

type ruleDoc struct {
	ID          uuid.UUID          `json:"id" yaml:"-"`
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Metric      measurement.Metric `json:"metric" yaml:"metric"`
	WindowDays  int                `json:"window_days" yaml:"window_days"`
	Condition   conditionDoc       `json:"condition" yaml:"condition"`
	Severity    Severity           `json:"severity" yaml:"severity"`
	Action      actionDoc          `json:"action" yaml:"action"`
	Enabled     *bool              `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Priority    int                `json:"priority" yaml:"priority"`
	CreatedAt   time.Time          `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time          `json:"updated_at" yaml:"-"`
}

func encodeCondition(c Condition) (conditionDoc, error) {
	switch c := c.(type) {
	case Threshold:
		v := c.Value
		return conditionDoc{Type: ConditionThreshold, Operator: c.Operator, Value: &v, PersistenceDays: c.PersistenceDays}, nil
	case Trend:
		s := c.MinSlope
		return conditionDoc{Type: ConditionTrend, Direction: c.Direction, Days: c.Days, MinSlope: &s}, nil
	case Volatility:
		p := c.PercentChange
		return conditionDoc{Type: ConditionVolatility, PercentChange: &p}, nil
	case MissingData:
		return conditionDoc{Type: ConditionMissingData, HoursWithoutData: c.HoursWithoutData}, nil
	case nil:
		return conditionDoc{}, fmt.Errorf("condition is required")
	}
	return conditionDoc{}, fmt.Errorf("unsupported condition %T", c)
}

func (d conditionDoc) decode() (Condition, error) {
	switch d.Type {
	case ConditionThreshold:
		if d.Value == nil {
			return nil, fmt.Errorf("threshold value is required")
		}
		return Threshold{Operator: d.Operator, Value: *d.Value, PersistenceDays: d.PersistenceDays}, nil
	case ConditionTrend:
		slope := DefaultMinSlope
		if d.MinSlope != nil {
			slope = *d.MinSlope
		}
		return Trend{Direction: d.Direction, Days: d.Days, MinSlope: slope}, nil
	case ConditionVolatility:
		pct := DefaultVolatilityPercent
		if d.PercentChange != nil {
			pct = *d.PercentChange
		}
		return Volatility{PercentChange: pct}, nil
	case ConditionMissingData:
		return MissingData{HoursWithoutData: d.HoursWithoutData}, nil
	case "":
		return nil, fmt.Errorf("condition type is required")
	}
	return nil, fmt.Errorf("unknown condition type %q", d.Type)
}

func encodeAction(a Action) (actionDoc, error) {
	switch a := a.(type) {
	case AlertAction:
		return actionDoc{Type: ActionAlert}, nil
	case SuggestVisitAction:
		return actionDoc{Type: ActionSuggestVisit, Notes: a.Notes}, nil
	case AssignTaskAction:
		return actionDoc{Type: ActionAssignTask, TaskType: a.TaskType, Title: a.Title}, nil
	case AssignContentAction:
		return actionDoc{Type: ActionAssignContent, ContentModule: a.ContentModule}, nil
	case nil:
		return actionDoc{}, fmt.Errorf("action is required")
	}
	return actionDoc{}, fmt.Errorf("unsupported action %T", a)
}

func (d actionDoc) decode() (Action, error) {
	switch d.Type {
	case ActionAlert:
		return AlertAction{}, nil
	case ActionSuggestVisit:
		return SuggestVisitAction{Notes: d.Notes}, nil
	case ActionAssignTask:
		return AssignTaskAction{TaskType: d.TaskType, Title: d.Title}, nil
	case ActionAssignContent:
		return AssignContentAction{ContentModule: d.ContentModule}, nil
	case "":
		return nil, fmt.Errorf("action type is required")
	}
	return nil, fmt.Errorf("unknown action type %q", d.Type)
}

// MarshalCondition encodes c for the condition jsonb column.
func MarshalCondition(c Condition) ([]byte, error) {
	doc, err := encodeCondition(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func UnmarshalCondition(data []byte) (Condition, error) {
	var doc conditionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.decode()
}

func MarshalAction(a Action) ([]byte, error) {
	doc, err := encodeAction(a)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func UnmarshalAction(data []byte) (Action, error) {
	var doc actionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc.decode()
}

func (d ruleDoc) toRule() (*Rule, error) {
	cond, err := d.Condition.decode()
	if err != nil {
		return nil, err
	}
	act, err := d.Action.decode()
	if err != nil {
		return nil, err
	}
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	return &Rule{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Metric:      d.Metric,
		WindowDays:  d.WindowDays,
		Condition:   cond,
		Severity:    d.Severity,
		Action:      act,
		Enabled:     enabled,
		Priority:    d.Priority,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		enabledSet:  d.Enabled != nil,
	}, nil
}

func (r Rule) MarshalJSON() ([]byte, error) {
	cond, err := encodeCondition(r.Condition)
	if err != nil {
		return nil, err
	}
	act, err := encodeAction(r.Action)
	if err != nil {
		return nil, err
	}
	enabled := r.Enabled
	return json.Marshal(ruleDoc{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Metric:      r.Metric,
		WindowDays:  r.WindowDays,
		Condition:   cond,
		Severity:    r.Severity,
		Action:      act,
		Enabled:     &enabled,
		Priority:    r.Priority,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	})
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var doc ruleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	decoded, err := doc.toRule()
	if err != nil {
		return err
	}
	*r = *decoded
	return nil
}
