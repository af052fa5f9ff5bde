package measurement

import (
	"encoding/json"
	"math"
	"testing"
)

func TestParseValue_Scalar(t *testing.T) {
	v := ParseValue([]byte(`72.5`))
	if v.Kind() != ValueScalar {
		t.Fatalf("expected scalar, got %v", v.Kind())
	}
	n, ok := v.Number(MetricWeight)
	if !ok || n != 72.5 {
		t.Errorf("expected 72.5, got %v (ok=%v)", n, ok)
	}
}

func TestParseValue_StructuredKeepsOrder(t *testing.T) {
	v := ParseValue([]byte(`{"diastolic": 80, "note": "after run", "systolic": 135, "pulse": 70}`))
	if v.Kind() != ValueStructured {
		t.Fatalf("expected structured, got %v", v.Kind())
	}
	fields := v.Fields()
	if len(fields) != 3 {
		t.Fatalf("expected 3 numeric fields, got %d", len(fields))
	}
	want := []string{"diastolic", "systolic", "pulse"}
	for i, name := range want {
		if fields[i].Name != name {
			t.Errorf("field[%d]: expected %s, got %s", i, name, fields[i].Name)
		}
	}
}

func TestParseValue_Malformed(t *testing.T) {
	for _, raw := range []string{``, `"high"`, `[1,2]`, `null`, `true`, `{"a":`} {
		v := ParseValue([]byte(raw))
		if _, ok := v.Number(MetricGlucose); ok {
			t.Errorf("expected no usable value for %q", raw)
		}
	}
}

func TestNumber_CanonicalField(t *testing.T) {
	v := ParseValue([]byte(`{"diastolic": 85, "systolic": 142}`))

	n, ok := v.Number(MetricBloodPressure)
	if !ok || n != 142 {
		t.Errorf("expected systolic 142 for blood pressure, got %v (ok=%v)", n, ok)
	}

	// Metrics without a canonical field take the first numeric member.
	n, ok = v.Number(MetricSleep)
	if !ok || n != 85 {
		t.Errorf("expected first field 85, got %v (ok=%v)", n, ok)
	}
}

func TestNumber_BloodPressureWithoutSystolic(t *testing.T) {
	v := Structured(Field{Name: "mean", Value: 98})
	n, ok := v.Number(MetricBloodPressure)
	if !ok || n != 98 {
		t.Errorf("expected fallback 98, got %v (ok=%v)", n, ok)
	}
}

func TestNumber_EmptyStructured(t *testing.T) {
	v := ParseValue([]byte(`{"note": "none"}`))
	if _, ok := v.Number(MetricHRV); ok {
		t.Error("expected no usable value for an object without numbers")
	}
}

func TestScalar_NonFinite(t *testing.T) {
	if Scalar(math.NaN()).Kind() != ValueInvalid {
		t.Error("expected NaN scalar to be invalid")
	}
	if Scalar(math.Inf(1)).Kind() != ValueInvalid {
		t.Error("expected +Inf scalar to be invalid")
	}
}

func TestValue_MarshalJSON(t *testing.T) {
	v := Structured(Field{Name: "systolic", Value: 120}, Field{Name: "diastolic", Value: 80})
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"systolic":120,"diastolic":80}` {
		t.Errorf("unexpected JSON: %s", b)
	}

	b, _ = json.Marshal(Value{})
	if string(b) != "null" {
		t.Errorf("expected null for invalid value, got %s", b)
	}
}

func TestMeasurement_UnmarshalJSON(t *testing.T) {
	var m Measurement
	err := json.Unmarshal([]byte(`{"metric_type":"blood_pressure","value":{"systolic":131,"diastolic":79}}`), &m)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	n, ok := m.Number()
	if !ok || n != 131 {
		t.Errorf("expected 131, got %v (ok=%v)", n, ok)
	}
}

func TestMetric_Valid(t *testing.T) {
	if !MetricA1C.Valid() {
		t.Error("expected a1c to be valid")
	}
	if Metric("heart_rate").Valid() {
		t.Error("expected heart_rate to be invalid")
	}
}
