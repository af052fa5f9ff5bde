//go:build integration

package engine_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ehr/rpm/internal/domain/alert"
	"github.com/ehr/rpm/internal/domain/execution"
	"github.com/ehr/rpm/internal/domain/measurement"
	"github.com/ehr/rpm/internal/domain/patient"
	"github.com/ehr/rpm/internal/domain/rules"
	"github.com/ehr/rpm/internal/domain/visitrequest"
	"github.com/ehr/rpm/internal/engine"
	"github.com/ehr/rpm/internal/platform/db"
	"github.com/ehr/rpm/migrations"
)

const testSchema = "rpm_test"

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pool, cleanup, err := setupPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
		os.Exit(1)
	}
	testPool = pool
	code := m.Run()
	cleanup()
	os.Exit(code)
}

func setupPostgres(ctx context.Context) (*pgxpool.Pool, func(), error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "rpm_test",
		},
		// The server restarts once after init, so the line appears twice.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start container: %w", err)
	}
	terminate := func() { container.Terminate(ctx) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		terminate()
		return nil, nil, err
	}
	url := fmt.Sprintf("postgres://test:test@%s:%s/rpm_test?sslmode=disable", host, port.Port())

	admin, err := db.NewPool(ctx, url, 4, 1, "")
	if err != nil {
		terminate()
		return nil, nil, err
	}
	_, err = db.NewMigratorFS(admin, migrations.FS).Up(ctx, testSchema)
	admin.Close()
	if err != nil {
		terminate()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}

	pool, err := db.NewPool(ctx, url, 10, 1, testSchema)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	return pool, func() {
		pool.Close()
		terminate()
	}, nil
}

type harness struct {
	alerts     alert.Repository
	visits     visitrequest.Sink
	executions execution.Repository
	rules      rules.Repository
	readings   measurement.Repository
}

func newHarness() *harness {
	return &harness{
		alerts:     alert.NewRepoPG(testPool),
		visits:     visitrequest.NewRepoPG(testPool),
		executions: execution.NewRepoPG(testPool),
		rules:      rules.NewRepoPG(testPool),
		readings:   measurement.NewRepoPG(testPool),
	}
}

func (h *harness) engine(locker engine.Locker) *engine.Engine {
	d := engine.NewDispatcher(h.alerts, h.visits, locker, nil, nil, engine.DispatcherOptions{
		AlertWindow: 24 * time.Hour,
		VisitWindow: 7 * 24 * time.Hour,
	}, zerolog.Nop())
	return engine.New(h.rules, h.readings, h.executions, d, patient.NewDirectoryPG(testPool),
		engine.Options{Workers: 4, PatientTimeout: 10 * time.Second}, zerolog.Nop())
}

func resetTables(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(),
		`TRUNCATE rule_execution, alert, visit_request, measurement, rule_definition, patient CASCADE`)
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

func createPatient(t *testing.T) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := testPool.Exec(context.Background(),
		`INSERT INTO patient (id, mrn, active) VALUES ($1, $2, TRUE)`, id, "MRN-"+id.String()[:8])
	if err != nil {
		t.Fatalf("insert patient: %v", err)
	}
	return id
}

func (h *harness) addBP(t *testing.T, patientID uuid.UUID, systolic ...float64) {
	t.Helper()
	now := time.Now()
	for i, v := range systolic {
		m := &measurement.Measurement{
			PatientID:  patientID,
			Metric:     measurement.MetricBloodPressure,
			Value:      measurement.Structured(measurement.Field{Name: "systolic", Value: v}, measurement.Field{Name: "diastolic", Value: 85}),
			RecordedAt: now.Add(-time.Hour - time.Duration(len(systolic)-1-i)*24*time.Hour),
			Source:     "cuff",
		}
		if err := h.readings.Create(context.Background(), m); err != nil {
			t.Fatalf("insert measurement: %v", err)
		}
	}
}

func (h *harness) addRule(t *testing.T, r *rules.Rule) *rules.Rule {
	t.Helper()
	if err := h.rules.Create(context.Background(), r); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return r
}

func persistentHighBP() *rules.Rule {
	return &rules.Rule{
		Name:       "Persistent high BP",
		Metric:     measurement.MetricBloodPressure,
		WindowDays: 7,
		Condition:  rules.Threshold{Operator: rules.OperatorGreaterThan, Value: 130, PersistenceDays: 3},
		Severity:   rules.SeverityWarn,
		Action:     rules.AlertAction{},
		Enabled:    true,
		Priority:   10,
	}
}

func TestIntegration_PassIsIdempotent(t *testing.T) {
	resetTables(t)
	h := newHarness()
	ctx := context.Background()

	h.addRule(t, persistentHighBP())
	patientID := createPatient(t)
	h.addBP(t, patientID, 135, 140, 138)

	eng := h.engine(db.NewAdvisoryLocker(testPool))
	for i := 0; i < 2; i++ {
		if _, err := eng.RunPass(ctx); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	alerts, total, err := h.alerts.ListByPatient(ctx, patientID, 10, 0)
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 alert after two passes, got %d", total)
	}
	if alerts[0].Type != alert.TypeBloodPressure || alerts[0].Payload["value"] != 138.0 {
		t.Errorf("unexpected alert: %+v", alerts[0])
	}

	_, n, err := h.executions.ListByPatient(ctx, patientID, 10, 0)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 execution records, got %d", n)
	}
}

func TestIntegration_ConcurrentPassesAcrossReplicas(t *testing.T) {
	resetTables(t)
	h := newHarness()
	ctx := context.Background()

	h.addRule(t, persistentHighBP())
	visitRule := persistentHighBP()
	visitRule.Name = "Severe BP"
	visitRule.Condition = rules.Threshold{Operator: rules.OperatorGreaterThan, Value: 130, PersistenceDays: 1}
	visitRule.Severity = rules.SeverityCritical
	visitRule.Action = rules.SuggestVisitAction{Notes: "Review medication"}
	h.addRule(t, visitRule)

	var patients []uuid.UUID
	for i := 0; i < 5; i++ {
		id := createPatient(t)
		h.addBP(t, id, 150, 155, 160)
		patients = append(patients, id)
	}

	// Each engine stands in for a separate replica with its own dispatcher.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		eng := h.engine(db.NewAdvisoryLocker(testPool))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.RunPass(ctx); err != nil {
				t.Errorf("pass: %v", err)
			}
		}()
	}
	wg.Wait()

	for _, id := range patients {
		_, total, err := h.alerts.ListByPatient(ctx, id, 10, 0)
		if err != nil {
			t.Fatalf("list alerts: %v", err)
		}
		if total != 1 {
			t.Errorf("patient %s: expected 1 alert, got %d", id, total)
		}
		var visits int
		if err := testPool.QueryRow(ctx, `SELECT COUNT(*) FROM visit_request WHERE patient_id = $1`, id).Scan(&visits); err != nil {
			t.Fatalf("count visits: %v", err)
		}
		if visits != 1 {
			t.Errorf("patient %s: expected 1 visit request, got %d", id, visits)
		}
	}
}

func TestIntegration_ResolvedAlertReopens(t *testing.T) {
	resetTables(t)
	h := newHarness()
	ctx := context.Background()

	h.addRule(t, persistentHighBP())
	patientID := createPatient(t)
	h.addBP(t, patientID, 135, 140, 138)
	eng := h.engine(engine.NewKeyedMutex())

	if _, err := eng.EvaluateForPatient(ctx, patientID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	alerts, _, _ := h.alerts.ListByPatient(ctx, patientID, 10, 0)
	if err := h.alerts.Resolve(ctx, alerts[0].ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	report, err := eng.EvaluateForPatient(ctx, patientID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Rules[0].Action != engine.OutcomeDispatched {
		t.Errorf("expected a new alert after resolution, got %s", report.Rules[0].Action)
	}
}

func TestIntegration_MissingDataAndCatalogOrder(t *testing.T) {
	resetTables(t)
	h := newHarness()
	ctx := context.Background()

	defs, err := rules.LoadDefaults("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if _, err := rules.SeedDefaults(ctx, h.rules, defs, zerolog.Nop()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	enabled, err := h.rules.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	for i := 1; i < len(enabled); i++ {
		if enabled[i-1].Priority < enabled[i].Priority {
			t.Fatalf("expected priority order, got %d before %d", enabled[i-1].Priority, enabled[i].Priority)
		}
	}

	patientID := createPatient(t)
	report, err := h.engine(engine.NewKeyedMutex()).EvaluateForPatient(ctx, patientID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Failed != 0 {
		t.Errorf("expected no failures, got %+v", report)
	}

	var missing bool
	for _, out := range report.Rules {
		if out.Triggered {
			missing = true
		}
	}
	if !missing {
		t.Error("expected a missing-data rule to trigger for a patient without readings")
	}
}

func TestIntegration_StructuredValueKeepsFieldOrder(t *testing.T) {
	resetTables(t)
	h := newHarness()
	ctx := context.Background()
	patientID := createPatient(t)

	// Weight has no canonical field, so the first stored field is the reading.
	m := &measurement.Measurement{
		PatientID:  patientID,
		Metric:     measurement.MetricWeight,
		Value:      measurement.Structured(measurement.Field{Name: "pounds", Value: 180}, measurement.Field{Name: "kg", Value: 81.6}),
		RecordedAt: time.Now().Add(-time.Hour),
	}
	if err := h.readings.Create(ctx, m); err != nil {
		t.Fatalf("insert measurement: %v", err)
	}

	got, err := h.readings.FindMeasurements(ctx, patientID, measurement.MetricWeight, time.Now().Add(-24*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("find measurements: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 measurement, got %d", len(got))
	}
	fields := got[0].Value.Fields()
	if len(fields) != 2 || fields[0].Name != "pounds" || fields[1].Name != "kg" {
		t.Errorf("expected fields [pounds kg], got %+v", fields)
	}
	if v, ok := got[0].Number(); !ok || v != 180 {
		t.Errorf("expected reading 180, got %v (ok=%v)", v, ok)
	}

	h.addRule(t, &rules.Rule{
		Name:       "Heavy",
		Metric:     measurement.MetricWeight,
		WindowDays: 1,
		Condition:  rules.Threshold{Operator: rules.OperatorGreaterThan, Value: 170, PersistenceDays: 1},
		Severity:   rules.SeverityWarn,
		Action:     rules.AlertAction{},
		Enabled:    true,
	})
	report, err := h.engine(engine.NewKeyedMutex()).EvaluateForPatient(ctx, patientID)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(report.Rules) != 1 || !report.Rules[0].Triggered {
		t.Errorf("expected weight rule to trigger on 180, got %+v", report.Rules)
	}
}

func TestIntegration_ExecutionsSurviveRuleDeletion(t *testing.T) {
	resetTables(t)
	h := newHarness()
	ctx := context.Background()

	rule := h.addRule(t, persistentHighBP())
	patientID := createPatient(t)
	h.addBP(t, patientID, 135, 140, 138)

	if _, err := h.engine(engine.NewKeyedMutex()).EvaluateForPatient(ctx, patientID); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if err := h.rules.Delete(ctx, rule.ID); err != nil {
		t.Fatalf("delete rule: %v", err)
	}

	items, total, err := h.executions.ListByPatient(ctx, patientID, 10, 0)
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Fatalf("expected 1 execution after rule deletion, got %d", total)
	}
	if items[0].RuleID != rule.ID || items[0].RuleName != rule.Name || !items[0].Triggered {
		t.Errorf("unexpected execution: %+v", items[0])
	}
}
