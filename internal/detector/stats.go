// Package detector implements the windowed statistics kernel (C5) and the
// change-point detector (C6): a scan over one signature's ordered series
// that flags statistically significant regressions.
package detector

// RevisionBucket holds the raw measurements taken at one push.
type RevisionBucket struct {
	Values []float64
}

// Stats is the result of a windowed analysis: weighted mean, sample count,
// and unweighted sample variance across the flattened value sequence.
type Stats struct {
	Avg      float64
	N        int
	Variance float64
}

// WeightFunc assigns a weight to bucket i of n when computing a weighted
// moving average. Index 0 is the most recent end of the window.
type WeightFunc func(i, n int) float64

// UniformWeights weights every bucket equally.
func UniformWeights(i, n int) float64 {
	return 1.0
}

// LinearWeights falls off arithmetically, giving higher weight to points
// nearer the candidate change point and smoothing out the far edge of the
// window (see bug 879903 in the original Treeherder implementation).
func LinearWeights(i, n int) float64 {
	if i >= n {
		return 0.0
	}
	return float64(n-i) / float64(n)
}

// Analyze returns the weighted average and sample variance of a list of
// revision buckets. weightFn defaults to UniformWeights when nil.
func Analyze(buckets []RevisionBucket, weightFn WeightFunc) Stats {
	if weightFn == nil {
		weightFn = UniformWeights
	}
	if len(buckets) == 0 {
		return Stats{Avg: 0.0, N: 0, Variance: 0.0}
	}

	n := len(buckets)
	weights := make([]float64, n)
	for i := 0; i < n; i++ {
		weights[i] = weightFn(i, n)
	}

	var weightedSum, sumOfWeights float64
	for i, bucket := range buckets {
		for _, v := range bucket.Values {
			weightedSum += v * weights[i]
		}
		sumOfWeights += weights[i] * float64(len(bucket.Values))
	}

	var avg float64
	if sumOfWeights != 0 {
		avg = weightedSum / sumOfWeights
	}

	var all []float64
	for _, bucket := range buckets {
		all = append(all, bucket.Values...)
	}

	var variance float64
	if len(all) > 1 {
		var sumSq float64
		for _, v := range all {
			d := v - avg
			sumSq += d * d
		}
		variance = sumSq / float64(len(all)-1)
	}

	return Stats{Avg: avg, N: len(all), Variance: variance}
}
