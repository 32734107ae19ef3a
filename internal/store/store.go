// Package store defines the datastore abstraction the ingestion
// orchestrator and change-point detector depend on, plus a Postgres-backed
// implementation over database/sql + lib/pq.
package store

import (
	"context"
	"time"

	"github.com/perfsentry/core/internal/models"
)

// Store is the persistence interface required by §6: signature upsert,
// datum get-or-create, replicate bulk-insert, multi-commit marker,
// option-collection/framework lookup, and an atomic-transaction wrapper
// used by the detector's magnitude-filter pass.
type Store interface {
	UpsertSignature(ctx context.Context, in UpsertSignatureInput) (models.Signature, error)
	GetSignature(ctx context.Context, repository, framework, application, hash string) (models.Signature, error)
	GetOrCreateDatum(ctx context.Context, in DatumInput) (models.PerformanceDatum, bool, error)
	BulkCreateReplicates(ctx context.Context, datumID int64, values []float64) error
	CreateMultiCommitMarker(ctx context.Context, datumID int64) error
	GetOptionCollectionByHash(ctx context.Context, hash string) (models.OptionCollection, error)
	GetFrameworkByName(ctx context.Context, name string) (models.Framework, bool, error)
	GetSeries(ctx context.Context, signatureID int64) ([]models.PerformanceDatum, error)
	WithAtomicTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// UpsertSignatureInput carries the identity tuple plus the field values to
// apply on both insert and update (the "defaults" of §4.2).
type UpsertSignatureInput struct {
	Repository        string
	Framework         string
	Application       string
	SignatureHash     string
	Suite             string
	SuitePublicName   string
	Test              string
	TestPublicName    string
	Platform          string
	OptionCollection  string
	ExtraOptions      string
	Tags              string
	MeasurementUnit   string
	LowerIsBetter     bool
	HasSubtests       bool
	ParentSignatureID *int64
	ShouldAlert       models.TriBool
	Monitor           models.TriBool
	AlertNotifyEmails string
	AlertChangeType   models.ChangeType
	AlertThreshold    *float64
	MinBackWindow     *int
	MaxBackWindow     *int
	ForeWindow        *int
	LastUpdated       time.Time
}

// DatumInput carries the identity key and payload for PerformanceDatum
// get-or-create (§4.3 step 1).
type DatumInput struct {
	Repository         string
	Job                string
	Push               string
	SignatureID        int64
	PushTimestamp      time.Time
	Value              float64
	ApplicationVersion string
}
