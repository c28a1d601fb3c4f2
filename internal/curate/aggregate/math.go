package aggregate

import (
	"math"
	"sort"
	"strings"
)

// round2 rounds half away from zero to two decimal places, matching the
// warehouse ROUND(x, 2) the reporting queries were written against.
func round2(v float64) float64 {
	return roundN(v, 2)
}

func roundN(v float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(v*pow) / pow
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// median interpolates between the two middle values for even-sized
// inputs. The input slice is not modified.
func median(vals []float64) float64 {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// gradeBand maps a letter grade (with optional +/- modifier) to its
// distribution band. Unknown grades fall outside all bands.
func gradeBand(grade string) string {
	g := strings.ToUpper(strings.TrimSpace(grade))
	if g == "" {
		return ""
	}
	switch g[0] {
	case 'A', 'B', 'C', 'D', 'F':
		if len(g) == 1 || g[1] == '+' || g[1] == '-' {
			return string(g[0])
		}
	}
	return ""
}
