package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/rpm/internal/domain/alert"
	"github.com/ehr/rpm/internal/domain/execution"
	"github.com/ehr/rpm/internal/domain/measurement"
	"github.com/ehr/rpm/internal/domain/rules"
	"github.com/ehr/rpm/internal/domain/visitrequest"
	"github.com/ehr/rpm/internal/platform/events"
)

// ── Mock Sinks ──

type mockAlertSink struct {
	mu        sync.Mutex
	alerts    []*alert.Alert
	findErr   error
	createErr error
	finds     int
}

func (m *mockAlertSink) CreateAlert(_ context.Context, patientID uuid.UUID, d alert.Draft) (*alert.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	a := &alert.Alert{
		ID: uuid.New(), PatientID: patientID, RuleID: d.RuleID, Type: d.Type, DedupKey: d.DedupKey,
		Severity: d.Severity, Title: d.Title, Body: d.Body, Payload: d.Payload,
		Status: alert.StatusActive, CreatedAt: time.Now(),
	}
	m.alerts = append(m.alerts, a)
	return a, nil
}

func (m *mockAlertSink) FindActiveAlert(_ context.Context, patientID uuid.UUID, key string, since time.Time) (*alert.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, a := range m.alerts {
		if a.PatientID == patientID && a.DedupKey == key && a.Status == alert.StatusActive && !a.CreatedAt.Before(since) {
			return a, nil
		}
	}
	return nil, nil
}

func (m *mockAlertSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.alerts)
}

type mockVisitSink struct {
	mu       sync.Mutex
	requests []*visitrequest.VisitRequest
	findErr  error
}

func (m *mockVisitSink) CreateVisitRequest(_ context.Context, patientID uuid.UUID, d visitrequest.Draft) (*visitrequest.VisitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := &visitrequest.VisitRequest{
		ID: uuid.New(), PatientID: patientID, RuleID: d.RuleID, Type: d.Type, Notes: d.Notes,
		Status: visitrequest.StatusPending, CreatedAt: time.Now(),
	}
	m.requests = append(m.requests, v)
	return v, nil
}

func (m *mockVisitSink) FindPendingRequest(_ context.Context, patientID uuid.UUID, since time.Time) (*visitrequest.VisitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, v := range m.requests {
		if v.PatientID == patientID && v.Status == visitrequest.StatusPending && !v.CreatedAt.Before(since) {
			return v, nil
		}
	}
	return nil, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *mockPublisher) Close() error { return nil }

// ── Mock Stores ──

type sourceKey struct {
	patientID uuid.UUID
	metric    measurement.Metric
}

type mockSource struct {
	mu     sync.Mutex
	data   map[sourceKey][]*measurement.Measurement
	fail   map[sourceKey]error
	calls  int
	block  bool
}

func newMockSource() *mockSource {
	return &mockSource{
		data: make(map[sourceKey][]*measurement.Measurement),
		fail: make(map[sourceKey]error),
	}
}

func (m *mockSource) add(patientID uuid.UUID, metric measurement.Metric, at time.Time, v measurement.Value) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := sourceKey{patientID, metric}
	m.data[k] = append(m.data[k], &measurement.Measurement{
		ID: uuid.New(), PatientID: patientID, Metric: metric, Value: v, RecordedAt: at,
	})
}

func (m *mockSource) FindMeasurements(ctx context.Context, patientID uuid.UUID, metric measurement.Metric, start, end time.Time) ([]*measurement.Measurement, error) {
	m.mu.Lock()
	m.calls++
	block := m.block
	k := sourceKey{patientID, metric}
	err := m.fail[k]
	var out []*measurement.Measurement
	for _, x := range m.data[k] {
		if !x.RecordedAt.Before(start) && !x.RecordedAt.After(end) {
			out = append(out, x)
		}
	}
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordedAt.Before(out[j].RecordedAt) })
	return out, nil
}

type mockRecorder struct {
	mu      sync.Mutex
	records []*execution.Execution
	err     error
}

func (m *mockRecorder) Record(_ context.Context, e *execution.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	e.ID = uuid.New()
	m.records = append(m.records, e)
	return nil
}

func (m *mockRecorder) forPatient(id uuid.UUID) []*execution.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*execution.Execution
	for _, e := range m.records {
		if e.PatientID == id {
			out = append(out, e)
		}
	}
	return out
}

type mockCatalog struct {
	rules []*rules.Rule
	err   error
}

func (m *mockCatalog) ListEnabled(context.Context) ([]*rules.Rule, error) {
	return m.rules, m.err
}

type mockDirectory struct {
	ids []uuid.UUID
	err error
}

func (m *mockDirectory) ListActiveIDs(context.Context) ([]uuid.UUID, error) {
	return m.ids, m.err
}

var errStore = errors.New("store unavailable")

// ── Builders ──

func bpRule(name string, priority int, cond rules.Condition, action rules.Action, sev rules.Severity) *rules.Rule {
	return &rules.Rule{
		ID:         uuid.New(),
		Name:       name,
		Metric:     measurement.MetricBloodPressure,
		WindowDays: 7,
		Condition:  cond,
		Severity:   sev,
		Action:     action,
		Enabled:    true,
		Priority:   priority,
	}
}

func bp(systolic float64) measurement.Value {
	return measurement.Structured(
		measurement.Field{Name: "systolic", Value: systolic},
		measurement.Field{Name: "diastolic", Value: 80},
	)
}

func series(metric measurement.Metric, start time.Time, step time.Duration, vals ...float64) []*measurement.Measurement {
	out := make([]*measurement.Measurement, len(vals))
	for i, v := range vals {
		out[i] = &measurement.Measurement{
			Metric:     metric,
			Value:      measurement.Scalar(v),
			RecordedAt: start.Add(time.Duration(i) * step),
		}
	}
	return out
}
