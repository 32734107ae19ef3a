package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/perfsentry/core/internal/models"
)

// execer is the subset of *sql.DB / *sql.Tx that PGStore methods need. It
// lets every method run unmodified whether or not a transaction from
// WithAtomicTransaction is active on the context.
type execer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type txKey struct{}

// PGStore persists signatures, data points, replicates, and multi-commit
// markers into Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore constructs a Postgres-backed store.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (p *PGStore) conn(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return p.db
}

func nullInt64FromPtr(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullInt64FromIntPtr(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func int64PtrFromNull(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func intPtrFromNull(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullFloat64FromPtr(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func float64PtrFromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// WithAtomicTransaction runs fn inside a repeatable-read transaction bound
// to the context passed to fn, committing on success and rolling back on
// any error or panic. The analysis pass (series read, detector scan and
// magnitude filter) uses this so the signature and its series are read
// from one consistent snapshot.
func (p *PGStore) WithAtomicTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return wrap("begin tx", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	txCtx := context.WithValue(ctx, txKey{}, tx)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit tx", err)
	}
	committed = true
	return nil
}

// UpsertSignature implements §4.2: locate by identity tuple, insert with
// defaults if absent, else overwrite with defaults while taking
// last_updated as max(existing, incoming). The ON CONFLICT ... DO UPDATE
// clause does both steps atomically so concurrent creators never race.
func (p *PGStore) UpsertSignature(ctx context.Context, in UpsertSignatureInput) (models.Signature, error) {
	const q = `
		INSERT INTO performance_signature (
			repository, framework, application, signature_hash,
			suite, suite_public_name, test, test_public_name, platform,
			option_collection_hash, extra_options, tags, measurement_unit,
			lower_is_better, has_subtests, parent_signature_id,
			should_alert, monitor, alert_notify_emails, alert_change_type,
			alert_threshold, min_back_window, max_back_window, fore_window,
			last_updated
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25
		)
		ON CONFLICT (repository, framework, application, signature_hash)
		DO UPDATE SET
			suite = EXCLUDED.suite,
			suite_public_name = EXCLUDED.suite_public_name,
			test = EXCLUDED.test,
			test_public_name = EXCLUDED.test_public_name,
			platform = EXCLUDED.platform,
			option_collection_hash = EXCLUDED.option_collection_hash,
			extra_options = EXCLUDED.extra_options,
			tags = EXCLUDED.tags,
			measurement_unit = EXCLUDED.measurement_unit,
			lower_is_better = EXCLUDED.lower_is_better,
			has_subtests = EXCLUDED.has_subtests,
			parent_signature_id = EXCLUDED.parent_signature_id,
			should_alert = EXCLUDED.should_alert,
			monitor = EXCLUDED.monitor,
			alert_notify_emails = EXCLUDED.alert_notify_emails,
			alert_change_type = EXCLUDED.alert_change_type,
			alert_threshold = EXCLUDED.alert_threshold,
			min_back_window = EXCLUDED.min_back_window,
			max_back_window = EXCLUDED.max_back_window,
			fore_window = EXCLUDED.fore_window,
			last_updated = GREATEST(performance_signature.last_updated, EXCLUDED.last_updated)
		RETURNING id, last_updated
	`
	var id int64
	var lastUpdated = in.LastUpdated
	err := p.conn(ctx).QueryRowContext(ctx, q,
		in.Repository, in.Framework, in.Application, in.SignatureHash,
		in.Suite, in.SuitePublicName, in.Test, in.TestPublicName, in.Platform,
		in.OptionCollection, in.ExtraOptions, in.Tags, in.MeasurementUnit,
		in.LowerIsBetter, in.HasSubtests, nullInt64FromPtr(in.ParentSignatureID),
		in.ShouldAlert, in.Monitor, in.AlertNotifyEmails, in.AlertChangeType,
		nullFloat64FromPtr(in.AlertThreshold), nullInt64FromIntPtr(in.MinBackWindow),
		nullInt64FromIntPtr(in.MaxBackWindow), nullInt64FromIntPtr(in.ForeWindow),
		in.LastUpdated,
	).Scan(&id, &lastUpdated)
	if err != nil {
		return models.Signature{}, wrap("upsert signature", err)
	}

	return models.Signature{
		ID:                id,
		Repository:        in.Repository,
		Framework:         in.Framework,
		Application:       in.Application,
		SignatureHash:     in.SignatureHash,
		Suite:             in.Suite,
		SuitePublicName:   in.SuitePublicName,
		Test:              in.Test,
		TestPublicName:    in.TestPublicName,
		Platform:          in.Platform,
		OptionCollection:  in.OptionCollection,
		ExtraOptions:      in.ExtraOptions,
		Tags:              in.Tags,
		MeasurementUnit:   in.MeasurementUnit,
		LowerIsBetter:     in.LowerIsBetter,
		HasSubtests:       in.HasSubtests,
		ParentSignatureID: in.ParentSignatureID,
		ShouldAlert:       in.ShouldAlert,
		Monitor:           in.Monitor,
		AlertNotifyEmails: in.AlertNotifyEmails,
		AlertChangeType:   in.AlertChangeType,
		AlertThreshold:    in.AlertThreshold,
		MinBackWindow:     in.MinBackWindow,
		MaxBackWindow:     in.MaxBackWindow,
		ForeWindow:        in.ForeWindow,
		LastUpdated:       lastUpdated,
	}, nil
}

func (p *PGStore) GetSignature(ctx context.Context, repository, framework, application, hash string) (models.Signature, error) {
	const q = `
		SELECT id, repository, framework, application, signature_hash,
			suite, suite_public_name, test, test_public_name, platform,
			option_collection_hash, extra_options, tags, measurement_unit,
			lower_is_better, has_subtests, parent_signature_id,
			should_alert, monitor, alert_notify_emails, alert_change_type,
			alert_threshold, min_back_window, max_back_window, fore_window,
			last_updated
		FROM performance_signature
		WHERE repository=$1 AND framework=$2 AND application=$3 AND signature_hash=$4
	`
	var s models.Signature
	var parentSignatureID, minBackWindow, maxBackWindow, foreWindow sql.NullInt64
	var alertThreshold sql.NullFloat64
	err := p.conn(ctx).QueryRowContext(ctx, q, repository, framework, application, hash).Scan(
		&s.ID, &s.Repository, &s.Framework, &s.Application, &s.SignatureHash,
		&s.Suite, &s.SuitePublicName, &s.Test, &s.TestPublicName, &s.Platform,
		&s.OptionCollection, &s.ExtraOptions, &s.Tags, &s.MeasurementUnit,
		&s.LowerIsBetter, &s.HasSubtests, &parentSignatureID,
		&s.ShouldAlert, &s.Monitor, &s.AlertNotifyEmails, &s.AlertChangeType,
		&alertThreshold, &minBackWindow, &maxBackWindow, &foreWindow,
		&s.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Signature{}, ErrNotFound
		}
		return models.Signature{}, wrap("get signature", err)
	}
	s.ParentSignatureID = int64PtrFromNull(parentSignatureID)
	s.AlertThreshold = float64PtrFromNull(alertThreshold)
	s.MinBackWindow = intPtrFromNull(minBackWindow)
	s.MaxBackWindow = intPtrFromNull(maxBackWindow)
	s.ForeWindow = intPtrFromNull(foreWindow)
	return s, nil
}

// GetOrCreateDatum implements §4.3 step 1: insert on the identity key,
// coalescing on an existing row (the stored value wins, per §3).
func (p *PGStore) GetOrCreateDatum(ctx context.Context, in DatumInput) (models.PerformanceDatum, bool, error) {
	const insertQ = `
		INSERT INTO performance_datum (repository, job, push, signature_id, push_timestamp, value, application_version)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (repository, job, push, signature_id, push_timestamp) DO NOTHING
		RETURNING id
	`
	var id int64
	err := p.conn(ctx).QueryRowContext(ctx, insertQ,
		in.Repository, in.Job, in.Push, in.SignatureID, in.PushTimestamp, in.Value, in.ApplicationVersion,
	).Scan(&id)
	if err == nil {
		return models.PerformanceDatum{
			ID:                 id,
			Repository:         in.Repository,
			Job:                in.Job,
			Push:               in.Push,
			SignatureID:        in.SignatureID,
			PushTimestamp:      in.PushTimestamp,
			Value:              in.Value,
			ApplicationVersion: in.ApplicationVersion,
		}, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.PerformanceDatum{}, false, wrap("insert datum", err)
	}

	const selectQ = `
		SELECT id, repository, job, push, signature_id, push_timestamp, value, application_version
		FROM performance_datum
		WHERE repository=$1 AND job=$2 AND push=$3 AND signature_id=$4 AND push_timestamp=$5
	`
	var existing models.PerformanceDatum
	err = p.conn(ctx).QueryRowContext(ctx, selectQ, in.Repository, in.Job, in.Push, in.SignatureID, in.PushTimestamp).Scan(
		&existing.ID, &existing.Repository, &existing.Job, &existing.Push, &existing.SignatureID,
		&existing.PushTimestamp, &existing.Value, &existing.ApplicationVersion,
	)
	if err != nil {
		return models.PerformanceDatum{}, false, wrap("select existing datum", err)
	}
	return existing, false, nil
}

// BulkCreateReplicates inserts one row per replicate value. Inserts run
// one-by-one (rather than a single multi-row statement) to keep this
// driver-agnostic; callers are expected to swallow any returned error per
// §4.3 step 3.
func (p *PGStore) BulkCreateReplicates(ctx context.Context, datumID int64, values []float64) error {
	const q = `INSERT INTO performance_datum_replicate (value, performance_datum_id) VALUES ($1,$2)`
	for _, v := range values {
		if _, err := p.conn(ctx).ExecContext(ctx, q, v, datumID); err != nil {
			return wrap("insert replicate", err)
		}
	}
	return nil
}

func (p *PGStore) CreateMultiCommitMarker(ctx context.Context, datumID int64) error {
	const q = `INSERT INTO multi_commit_datum (performance_datum_id) VALUES ($1)`
	_, err := p.conn(ctx).ExecContext(ctx, q, datumID)
	if err != nil {
		return wrap("insert multi-commit marker", err)
	}
	return nil
}

func (p *PGStore) GetOptionCollectionByHash(ctx context.Context, hash string) (models.OptionCollection, error) {
	const q = `SELECT option_collection_hash FROM option_collection WHERE option_collection_hash=$1`
	var oc models.OptionCollection
	err := p.conn(ctx).QueryRowContext(ctx, q, hash).Scan(&oc.OptionCollectionHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.OptionCollection{}, ErrNotFound
		}
		return models.OptionCollection{}, wrap("get option collection", err)
	}
	return oc, nil
}

func (p *PGStore) GetFrameworkByName(ctx context.Context, name string) (models.Framework, bool, error) {
	const q = `SELECT name, enabled FROM performance_framework WHERE name=$1`
	var f models.Framework
	err := p.conn(ctx).QueryRowContext(ctx, q, name).Scan(&f.Name, &f.Enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Framework{}, false, nil
		}
		return models.Framework{}, false, wrap("get framework", err)
	}
	return f, true, nil
}

// GetSeries returns every datum for a signature, ascending by push
// timestamp, for the detector to scan.
func (p *PGStore) GetSeries(ctx context.Context, signatureID int64) ([]models.PerformanceDatum, error) {
	const q = `
		SELECT id, repository, job, push, signature_id, push_timestamp, value, application_version
		FROM performance_datum
		WHERE signature_id=$1
		ORDER BY push_timestamp ASC, id ASC
	`
	rows, err := p.conn(ctx).QueryContext(ctx, q, signatureID)
	if err != nil {
		return nil, wrap("get series", err)
	}
	defer rows.Close()

	var out []models.PerformanceDatum
	for rows.Next() {
		var d models.PerformanceDatum
		if err := rows.Scan(&d.ID, &d.Repository, &d.Job, &d.Push, &d.SignatureID, &d.PushTimestamp, &d.Value, &d.ApplicationVersion); err != nil {
			return nil, wrap("scan series row", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate series", err)
	}
	return out, nil
}
