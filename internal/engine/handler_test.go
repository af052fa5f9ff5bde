package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type mockEvaluator struct {
	report *PatientReport
	err    error
	called uuid.UUID
}

func (m *mockEvaluator) EvaluateForPatient(_ context.Context, patientID uuid.UUID) (*PatientReport, error) {
	m.called = patientID
	if m.err != nil {
		return nil, m.err
	}
	m.report.PatientID = patientID
	return m.report, nil
}

func TestHandler_EvaluatePatient(t *testing.T) {
	ev := &mockEvaluator{report: &PatientReport{Rules: []RuleOutcome{{RuleName: "High BP", Triggered: true, Action: OutcomeDispatched}}}}
	h := NewHandler(ev)
	e := echo.New()
	patientID := uuid.New()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(patientID.String())

	if err := h.EvaluatePatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ev.called != patientID {
		t.Error("expected evaluation for the path patient")
	}

	var body PatientReport
	json.Unmarshal(rec.Body.Bytes(), &body)
	if len(body.Rules) != 1 || body.Rules[0].Action != OutcomeDispatched {
		t.Errorf("unexpected body: %s", rec.Body.String())
	}
}

func TestHandler_EvaluatePatient_InvalidID(t *testing.T) {
	h := NewHandler(&mockEvaluator{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.EvaluatePatient(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_EvaluatePatient_Error(t *testing.T) {
	h := NewHandler(&mockEvaluator{err: ErrPatientPass})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.EvaluatePatient(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %v", err)
	}
}
