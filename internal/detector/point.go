package detector

import "time"

// RevisionPoint is one point in an ordered series: the raw measurements
// taken at a push, plus the mutable annotations a detector pass attaches
// during its scan. Annotations are owned by the point (never shared
// references) so concurrent scans of different signatures can't interfere.
type RevisionPoint struct {
	PushTimestamp time.Time
	Values        []float64

	AmountPrevData int
	AmountNextData int
	HistoricalStats Stats
	ForwardStats    Stats
	Confidence      map[string]float64
	ChangeDetected  bool
}

// NewRevisionPoint returns a point with annotation fields at their zero
// sentinels, ready for a detector pass.
func NewRevisionPoint(ts time.Time, values []float64) *RevisionPoint {
	return &RevisionPoint{
		PushTimestamp: ts,
		Values:        values,
		Confidence:    make(map[string]float64),
	}
}

func (p *RevisionPoint) bucket() RevisionBucket {
	return RevisionBucket{Values: p.Values}
}
