package engine

// slope returns the ordinary-least-squares slope of values against their
// index 0..n-1. It returns 0 for fewer than two values.
func slope(values []float64) float64 {
	n := float64(len(values))
	if n < 2 {
		return 0
	}

	meanX := (n - 1) / 2
	var meanY float64
	for _, v := range values {
		meanY += v
	}
	meanY /= n

	var num, den float64
	for i, v := range values {
		dx := float64(i) - meanX
		num += dx * (v - meanY)
		den += dx * dx
	}
	return num / den
}

type summary struct {
	min, max, mean float64
}

func summarize(values []float64) summary {
	if len(values) == 0 {
		return summary{}
	}
	s := summary{min: values[0], max: values[0]}
	var total float64
	for _, v := range values {
		if v < s.min {
			s.min = v
		}
		if v > s.max {
			s.max = v
		}
		total += v
	}
	s.mean = total / float64(len(values))
	return s
}
