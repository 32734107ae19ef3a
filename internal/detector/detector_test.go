package detector_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/perfsentry/core/internal/detector"
	"github.com/perfsentry/core/internal/models"
)

func seriesFromValues(t *testing.T, values []float64) []*detector.RevisionPoint {
	t.Helper()
	base := time.Unix(0, 0).UTC()
	points := make([]*detector.RevisionPoint, len(values))
	for i, v := range values {
		points[i] = detector.NewRevisionPoint(base.Add(time.Duration(i)*time.Hour), []float64{v})
	}
	return points
}

func TestDetectChangesSinglePointSeriesReturnedUnchanged(t *testing.T) {
	d := detector.NewStudentDetector()
	series := seriesFromValues(t, []float64{1.0})
	out := d.DetectChanges(series, models.Signature{})
	assert.Len(t, out, 1)
	assert.False(t, out[0].ChangeDetected)
}

func TestDetectChangesFlagsSingleStepShift(t *testing.T) {
	d := detector.NewStudentDetector()

	values := make([]float64, 0, 30)
	for i := 0; i < 15; i++ {
		values = append(values, 100.0)
	}
	for i := 0; i < 15; i++ {
		values = append(values, 110.0)
	}
	series := seriesFromValues(t, values)

	sig := models.Signature{LowerIsBetter: false, AlertChangeType: models.ChangeTypePct}
	out := d.DetectChanges(series, sig)

	flagged := 0
	flagIdx := -1
	for i, p := range out {
		if p.ChangeDetected {
			flagged++
			flagIdx = i
		}
	}
	assert.Equal(t, 1, flagged, "exactly one boundary point should be flagged")
	assert.Equal(t, 15, flagIdx, "the flagged point should be the first point of the new plateau")
}

func TestDetectChangesDecreasingStepNeverFlagged(t *testing.T) {
	// confidence is signed (delta / pooled stderr, no abs): with the
	// default above_threshold_is_anomaly=true and a positive
	// confidence_threshold, a negative delta can never exceed the
	// threshold, so a downward step must never be flagged regardless of
	// its magnitude. The values alternate by 1 so no window has zero
	// variance: when both windows have zero variance StudentConfidence
	// returns +Inf whatever the sign of delta, and that point is flagged.
	d := detector.NewStudentDetector()

	values := make([]float64, 0, 30)
	for i := 0; i < 15; i++ {
		values = append(values, 110.0+float64(i%2))
	}
	for i := 15; i < 30; i++ {
		values = append(values, 100.0+float64(i%2))
	}
	series := seriesFromValues(t, values)

	sig := models.Signature{LowerIsBetter: false, AlertChangeType: models.ChangeTypePct}
	out := d.DetectChanges(series, sig)

	for _, p := range out {
		assert.False(t, p.ChangeDetected, "a decreasing step must never be flagged under signed confidence")
	}
}

func TestDetectChangesNoShiftNeverFlagged(t *testing.T) {
	d := detector.NewStudentDetector()
	values := make([]float64, 0, 30)
	for i := 0; i < 30; i++ {
		values = append(values, 50.0)
	}
	series := seriesFromValues(t, values)

	out := d.DetectChanges(series, models.Signature{})
	for _, p := range out {
		assert.False(t, p.ChangeDetected)
	}
}

func TestDetectChangesMagnitudeFilterSuppressesSmallShift(t *testing.T) {
	d := detector.NewStudentDetector()

	values := make([]float64, 0, 30)
	for i := 0; i < 15; i++ {
		values = append(values, 100.0)
	}
	for i := 0; i < 15; i++ {
		values = append(values, 100.5)
	}
	series := seriesFromValues(t, values)

	sig := models.Signature{AlertChangeType: models.ChangeTypePct}
	out := d.DetectChanges(series, sig)

	for _, p := range out {
		assert.False(t, p.ChangeDetected, "a 0.5%% shift is below the default 2.0%% magnitude threshold")
	}
}

func TestDetectChangesRespectsSignatureWindowOverrides(t *testing.T) {
	d := detector.NewStudentDetector()

	minBack := 3
	maxBack := 6
	fore := 3
	sig := models.Signature{MinBackWindow: &minBack, MaxBackWindow: &maxBack, ForeWindow: &fore}

	values := make([]float64, 0, 12)
	for i := 0; i < 6; i++ {
		values = append(values, 10.0)
	}
	for i := 0; i < 6; i++ {
		values = append(values, 50.0)
	}
	series := seriesFromValues(t, values)

	out := d.DetectChanges(series, sig)
	flagged := 0
	for _, p := range out {
		if p.ChangeDetected {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)
}
