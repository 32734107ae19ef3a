package detector

import "math"

// StudentConfidence computes a Student's-t-like confidence statistic
// between the historical window jw and the forward window kw: the
// difference in means scaled by the pooled standard error of the two
// windows. Degenerate cases (both variances zero) return +Inf when the
// means differ and 0 when they don't, so a flat step still registers as
// maximally confident without dividing by zero.
//
// lastSeenRegression counts how many consecutive points have been
// quiescent (confidence at or below threshold); scanWindows feeds the
// returned value back in to widen the next point's back window up toward
// MaxBackWindow, and resets to 0 the moment a point looks like a live
// regression.
func StudentConfidence(jw, kw []RevisionBucket, confidenceThreshold float64, lastSeenRegression int) (float64, int) {
	old := Analyze(jw, LinearWeights)
	recent := Analyze(kw, LinearWeights)

	if old.N == 0 || recent.N == 0 {
		return 0, lastSeenRegression + 1
	}

	delta := recent.Avg - old.Avg

	oldVarOverN := 0.0
	if old.N > 0 {
		oldVarOverN = old.Variance / float64(old.N)
	}
	newVarOverN := 0.0
	if recent.N > 0 {
		newVarOverN = recent.Variance / float64(recent.N)
	}
	denominator := math.Sqrt(oldVarOverN + newVarOverN)

	var confidence float64
	switch {
	case denominator == 0 && delta == 0:
		confidence = 0
	case denominator == 0:
		confidence = math.Inf(1)
	default:
		confidence = delta / denominator
	}

	// Reset on a live regression so the next point's back window snaps back
	// to the minimum; widen it by one on a quiescent point.
	nextLastSeen := lastSeenRegression + 1
	if confidence > confidenceThreshold {
		nextLastSeen = 0
	}

	return confidence, nextLastSeen
}
