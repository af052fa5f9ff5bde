package measurement

// canonicalFields names the sub-field that carries the reading for metrics
// stored as structured values. Metrics without an entry fall back to the
// first numeric field.
var canonicalFields = map[Metric]string{
	MetricBloodPressure: "systolic",
}

// CanonicalField returns the canonical sub-field for metric, if any.
func CanonicalField(metric Metric) (string, bool) {
	f, ok := canonicalFields[metric]
	return f, ok
}

// Number extracts the numeric reading of v for the given metric.
func (v Value) Number(metric Metric) (float64, bool) {
	switch v.kind {
	case ValueScalar:
		return v.scalar, true
	case ValueStructured:
		if name, ok := CanonicalField(metric); ok {
			if f, ok := v.Field(name); ok {
				return f, true
			}
		}
		if len(v.fields) > 0 {
			return v.fields[0].Value, true
		}
	}
	return 0, false
}
