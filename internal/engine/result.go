// Package engine evaluates rule definitions against patient measurements
// and turns triggered rules into deduplicated actions.
package engine

import "errors"

var (
	ErrUnknownCondition = errors.New("unknown condition type")
	ErrUnknownAction    = errors.New("unknown action type")
	// ErrDedupUnavailable wraps dedup lookup failures. The action is not
	// dispatched when it is returned.
	ErrDedupUnavailable = errors.New("dedup check unavailable")
	// ErrPatientPass means a patient's pass did not complete, usually
	// because its deadline expired.
	ErrPatientPass = errors.New("patient pass incomplete")
)

// Result is the outcome of evaluating one rule against one series.
// Triggered false never leads to a dispatched action.
type Result struct {
	Triggered  bool
	Value      *float64
	TrendSlope *float64
	Message    string
	Metadata   map[string]interface{}
}

func float(v float64) *float64 { return &v }
