// Package analysis wires the Postgres-backed series read, the detector
// scan, and the transactional magnitude-filter pass together: the "analyze
// this signature" step the ingestion orchestrator triggers by enqueuing a
// message to the alert queue (§2 data flow, C6).
package analysis

import (
	"context"
	"fmt"

	"github.com/perfsentry/core/internal/detector"
	"github.com/perfsentry/core/internal/models"
	"github.com/perfsentry/core/internal/store"
)

// Service runs the change-point detector over one signature's persisted
// series.
type Service struct {
	store    store.Store
	detector *detector.Detector
}

func New(st store.Store, d *detector.Detector) *Service {
	return &Service{store: st, detector: d}
}

// AnalyzeSignature loads the full series for signatureID, scans it for
// change points, and returns the annotated points. The magnitude-filter
// pass runs inside WithAtomicTransaction so the returned series reflects a
// single consistent read of the signature's window parameters and data.
func (s *Service) AnalyzeSignature(ctx context.Context, repository, framework, application, signatureHash string) ([]*detector.RevisionPoint, error) {
	var sig models.Signature
	var points []*detector.RevisionPoint

	err := s.store.WithAtomicTransaction(ctx, func(ctx context.Context) error {
		found, err := s.store.GetSignature(ctx, repository, framework, application, signatureHash)
		if err != nil {
			return fmt.Errorf("get signature: %w", err)
		}
		sig = found

		data, err := s.store.GetSeries(ctx, sig.ID)
		if err != nil {
			return fmt.Errorf("get series: %w", err)
		}
		points = groupByPush(data)
		points = s.detector.DetectChanges(points, sig)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return points, nil
}

// groupByPush buckets datums sharing the same push_timestamp into a single
// RevisionPoint, preserving the input's push-timestamp ascending order
// (GetSeries already orders by push_timestamp, id).
func groupByPush(data []models.PerformanceDatum) []*detector.RevisionPoint {
	var points []*detector.RevisionPoint
	var current *detector.RevisionPoint

	for _, datum := range data {
		if current == nil || !current.PushTimestamp.Equal(datum.PushTimestamp) {
			current = detector.NewRevisionPoint(datum.PushTimestamp, nil)
			points = append(points, current)
		}
		current.Values = append(current.Values, datum.Value)
	}
	return points
}
