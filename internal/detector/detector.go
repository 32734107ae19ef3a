package detector

import (
	"sort"

	"github.com/perfsentry/core/internal/models"
)

// ConfidenceFunc computes a t-like confidence score between a back window
// jw and a fore window kw, and returns the updated last-seen-regression
// counter that drives back-window widening (§4.6). StudentConfidence is the
// one confidence function this package ships; detectors are otherwise a
// parameter bundle plus this one function pointer, per §9 — there's no
// class hierarchy to model.
type ConfidenceFunc func(jw, kw []RevisionBucket, confidenceThreshold float64, lastSeenRegression int) (float64, int)

// Detector holds the window/threshold defaults and the confidence function
// for one detection strategy (e.g. "student"). Detector values are
// read-only parameter bundles and safe to share across goroutines.
type Detector struct {
	Name                    string
	MinBackWindow           int
	MaxBackWindow           int
	ForeWindow              int
	MagnitudeThreshold      float64
	ConfidenceThreshold     float64
	MagCheck                bool
	AboveThresholdIsAnomaly bool
	CalcConfidence          ConfidenceFunc
}

// NewStudentDetector returns the Student's-t confidence detector with the
// Treeherder defaults.
func NewStudentDetector() *Detector {
	return &Detector{
		Name:                    "student",
		MinBackWindow:           12,
		MaxBackWindow:           24,
		ForeWindow:              12,
		MagnitudeThreshold:      2.0,
		ConfidenceThreshold:     7,
		MagCheck:                true,
		AboveThresholdIsAnomaly: true,
		CalcConfidence:          StudentConfidence,
	}
}

// AlertProperties summarizes the magnitude and direction of a flagged
// change.
type AlertProperties struct {
	PctChange    float64
	Delta        float64
	IsRegression bool
	PrevValue    float64
	NewValue     float64
}

func getAlertProperties(prevValue, newValue float64, lowerIsBetter bool) AlertProperties {
	var pctChange float64
	if prevValue != 0 {
		pctChange = 100.0 * abs(newValue-prevValue) / prevValue
	}
	delta := newValue - prevValue
	isRegression := (delta > 0 && lowerIsBetter) || (delta < 0 && !lowerIsBetter)
	return AlertProperties{
		PctChange:    pctChange,
		Delta:        delta,
		IsRegression: isRegression,
		PrevValue:    prevValue,
		NewValue:     newValue,
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func resolveInt(override *int, fallback int) int {
	if override != nil {
		return *override
	}
	return fallback
}

func resolveFloat(override *float64, fallback float64) float64 {
	if override != nil {
		return *override
	}
	return fallback
}

// checkThreshold reports whether confidence is inside the "not anomalous"
// region, i.e. whether the point should be SKIPPED.
func (d *Detector) checkThreshold(confidence float64) bool {
	if d.AboveThresholdIsAnomaly {
		return confidence <= d.ConfidenceThreshold
	}
	return confidence >= d.ConfidenceThreshold
}

// checkAdjacentPoints reports whether entry1 is more anomalous than entry2
// under the detector's polarity.
func (d *Detector) checkAdjacentPoints(entry1, entry2 *RevisionPoint) bool {
	if d.AboveThresholdIsAnomaly {
		return entry1.Confidence[d.Name] > entry2.Confidence[d.Name]
	}
	return entry1.Confidence[d.Name] < entry2.Confidence[d.Name]
}

// DetectChanges runs the three-pass scan described in §4.6 over series,
// which must be sorted ascending by push timestamp (this function performs
// a final stable sort to guarantee it, tie-breaking on input order). A
// series shorter than two points is returned unchanged (§7 DetectorEmpty).
func (d *Detector) DetectChanges(series []*RevisionPoint, signature models.Signature) []*RevisionPoint {
	if len(series) < 2 {
		return series
	}

	sort.SliceStable(series, func(i, j int) bool {
		return series[i].PushTimestamp.Before(series[j].PushTimestamp)
	})

	minBackWindow := resolveInt(signature.MinBackWindow, d.MinBackWindow)
	maxBackWindow := resolveInt(signature.MaxBackWindow, d.MaxBackWindow)
	foreWindow := resolveInt(signature.ForeWindow, d.ForeWindow)
	magnitudeThreshold := resolveFloat(signature.AlertThreshold, d.MagnitudeThreshold)

	d.scanWindows(series, minBackWindow, maxBackWindow, foreWindow)
	d.flagAnomalies(series, minBackWindow, foreWindow)

	if d.MagCheck {
		d.applyMagnitudeFilter(series, signature, magnitudeThreshold)
	}
	return series
}

func (d *Detector) scanWindows(series []*RevisionPoint, minBackWindow, maxBackWindow, foreWindow int) {
	lastSeenRegression := 0

	for i := 1; i < len(series); i++ {
		di := series[i]

		var jw []RevisionBucket
		di.AmountPrevData = 0
		prevIndex := i - 1
		limit := maxInt(lastSeenRegression, minBackWindow)
		if limit > maxBackWindow {
			limit = maxBackWindow
		}
		for di.AmountPrevData < maxBackWindow && prevIndex >= 0 && (i-prevIndex) <= limit {
			jw = append(jw, series[prevIndex].bucket())
			di.AmountPrevData += len(series[prevIndex].Values)
			prevIndex--
			limit = maxInt(lastSeenRegression, minBackWindow)
			if limit > maxBackWindow {
				limit = maxBackWindow
			}
		}

		var kw []RevisionBucket
		di.AmountNextData = 0
		nextIndex := i
		for di.AmountNextData < foreWindow && nextIndex < len(series) {
			kw = append(kw, series[nextIndex].bucket())
			di.AmountNextData += len(series[nextIndex].Values)
			nextIndex++
		}

		di.HistoricalStats = Analyze(jw, UniformWeights)
		di.ForwardStats = Analyze(kw, UniformWeights)

		confidence, nextLastSeen := d.CalcConfidence(jw, kw, d.ConfidenceThreshold, lastSeenRegression)
		di.Confidence[d.Name] = confidence
		lastSeenRegression = nextLastSeen
	}
}

func (d *Detector) flagAnomalies(series []*RevisionPoint, minBackWindow, foreWindow int) {
	for i := 1; i < len(series); i++ {
		di := series[i]
		if di.AmountPrevData < minBackWindow || di.AmountNextData < foreWindow {
			continue
		}
		if d.checkThreshold(di.Confidence[d.Name]) {
			continue
		}

		prev := series[i-1]
		if d.checkAdjacentPoints(prev, di) {
			continue
		}
		if i+1 < len(series) {
			next := series[i+1]
			if d.checkAdjacentPoints(next, di) {
				continue
			}
		}

		di.ChangeDetected = true
	}
}

// applyMagnitudeFilter implements §4.6 pass 3: clears change_detected on
// flagged points whose magnitude falls below the configured threshold.
// Idempotent — running it twice over the same annotated series produces
// the same flags, since it only ever clears, never sets.
func (d *Detector) applyMagnitudeFilter(series []*RevisionPoint, signature models.Signature, magnitudeThreshold float64) {
	changeType := signature.AlertChangeType
	if changeType == "" {
		changeType = models.ChangeTypePct
	}

	for i := 1; i < len(series); i++ {
		cur := series[i]
		if !cur.ChangeDetected {
			continue
		}
		props := getAlertProperties(cur.HistoricalStats.Avg, cur.ForwardStats.Avg, signature.LowerIsBetter)

		below := (changeType == models.ChangeTypePct && props.PctChange < magnitudeThreshold) ||
			(changeType == models.ChangeTypeAbs && abs(props.Delta) < magnitudeThreshold)
		if below {
			cur.ChangeDetected = false
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
