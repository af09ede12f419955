package dashboard

import "math"

// PercentChange returns (cur-prev)/prev*100, or nil when there is no
// previous value or it is zero.
func PercentChange(cur, prev float64, hasPrev bool) *float64 {
	if !hasPrev || prev == 0 {
		return nil
	}
	v := (cur - prev) / prev * 100
	return &v
}

// MeanStdDev returns the mean and population standard deviation.
func MeanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}

// IsOutlier reports whether v lies more than two standard deviations from
// the mean. A zero deviation flags nothing.
func IsOutlier(v, mean, stddev float64) bool {
	if stddev == 0 {
		return false
	}
	return math.Abs(v-mean) > 2*stddev
}
