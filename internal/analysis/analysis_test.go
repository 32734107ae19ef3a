package analysis_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perfsentry/core/internal/analysis"
	"github.com/perfsentry/core/internal/detector"
	"github.com/perfsentry/core/internal/models"
	"github.com/perfsentry/core/internal/store"
)

type stubStore struct {
	sig    models.Signature
	series []models.PerformanceDatum
}

func (s *stubStore) UpsertSignature(ctx context.Context, in store.UpsertSignatureInput) (models.Signature, error) {
	return models.Signature{}, nil
}
func (s *stubStore) GetSignature(ctx context.Context, repository, framework, application, hash string) (models.Signature, error) {
	return s.sig, nil
}
func (s *stubStore) GetOrCreateDatum(ctx context.Context, in store.DatumInput) (models.PerformanceDatum, bool, error) {
	return models.PerformanceDatum{}, false, nil
}
func (s *stubStore) BulkCreateReplicates(ctx context.Context, datumID int64, values []float64) error {
	return nil
}
func (s *stubStore) CreateMultiCommitMarker(ctx context.Context, datumID int64) error { return nil }
func (s *stubStore) GetOptionCollectionByHash(ctx context.Context, hash string) (models.OptionCollection, error) {
	return models.OptionCollection{}, nil
}
func (s *stubStore) GetFrameworkByName(ctx context.Context, name string) (models.Framework, bool, error) {
	return models.Framework{}, false, nil
}
func (s *stubStore) GetSeries(ctx context.Context, signatureID int64) ([]models.PerformanceDatum, error) {
	return s.series, nil
}
func (s *stubStore) WithAtomicTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestAnalyzeSignatureGroupsDatumsByPushTimestampAndDetects(t *testing.T) {
	base := time.Unix(0, 0).UTC()
	var series []models.PerformanceDatum
	for i := 0; i < 30; i++ {
		v := 100.0
		if i >= 15 {
			v = 110.0
		}
		ts := base.Add(time.Duration(i) * time.Hour)
		series = append(series,
			models.PerformanceDatum{SignatureID: 1, PushTimestamp: ts, Value: v},
			models.PerformanceDatum{SignatureID: 1, PushTimestamp: ts, Value: v},
		)
	}

	st := &stubStore{sig: models.Signature{ID: 1}, series: series}
	svc := analysis.New(st, detector.NewStudentDetector())

	points, err := svc.AnalyzeSignature(context.Background(), "autoland", "talos", "", "deadbeef")
	require.NoError(t, err)
	require.Len(t, points, 30)
	for _, p := range points {
		assert.Len(t, p.Values, 2, "two datums sharing a push timestamp must bucket into one point")
	}
}
