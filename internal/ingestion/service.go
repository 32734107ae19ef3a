// Package ingestion implements the orchestrator (C4): it walks a validated
// performance artifact's suites and subtests, derives signature fingerprints,
// upserts signatures and datums through the Store, and enqueues alert scans.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perfsentry/core/internal/fingerprint"
	"github.com/perfsentry/core/internal/models"
	"github.com/perfsentry/core/internal/store"
)

// AlertQueue fire-and-forget enqueues a signature for change-point
// analysis. Implementations must not block ingestion on enqueue failure.
type AlertQueue interface {
	EnqueueGenerateAlerts(ctx context.Context, signatureID int64, signatureHash string) error
}

// Archiver optionally persists the raw artifact bytes alongside ingestion.
// A nil Archiver disables archival entirely.
type Archiver interface {
	ArchiveArtifact(ctx context.Context, jobID string, raw json.RawMessage) error
}

// JobContext carries everything about the submitting job that the §4.4
// algorithm needs but that isn't itself part of the artifact body.
type JobContext struct {
	Repository            string
	RepoPerfAlertsEnabled bool
	Push                  string
	Job                   string
	PushTime              time.Time
	MachinePlatform       string
	OptionCollectionHash  string
	TierIsSheriffable     bool
}

// ServiceConfig holds the one feature flag §6 names.
type ServiceConfig struct {
	MultidataIngestionEnabled bool
}

// Service is the ingestion orchestrator.
type Service struct {
	store    store.Store
	queue    AlertQueue
	archiver Archiver
	cfg      ServiceConfig
}

func New(st store.Store, queue AlertQueue, archiver Archiver, cfg ServiceConfig) *Service {
	return &Service{store: st, queue: queue, archiver: archiver, cfg: cfg}
}

// SignatureResult reports what happened to one signature during an ingest.
type SignatureResult struct {
	SignatureHash string
	SignatureID   int64
	DatumCreated  bool
	AlertEnqueued bool
}

// IngestResult summarizes one artifact's ingestion. IngestionID correlates
// this result with the log lines emitted while processing it. Skipped is set
// when at least one perf run in the artifact was accepted but not processed
// (an unknown non-job_resource_usage framework, or a disabled framework) —
// callers should surface this as 202 rather than 200, per §4.8.
type IngestResult struct {
	IngestionID string
	Signatures  []SignatureResult
	Skipped     bool
}

// replicateGatedSubstrings maps repository name to the suite-name substrings
// that gate replicate ingestion for that repository, per §4.4.
var replicateGatedSubstrings = map[string][]string{
	"mozilla-central": {"applink-startup", "tab-restore", "homeview"},
	"autoland":        {"applink-startup", "tab-restore", "homeview"},
}

// Ingest runs one raw artifact envelope through the §4.4 orchestration
// algorithm. raw is retained only for optional archival; it is not
// re-parsed here.
func (s *Service) Ingest(ctx context.Context, job JobContext, artifact Artifact, raw json.RawMessage) (IngestResult, error) {
	perfs, err := artifact.Perfs()
	if err != nil {
		return IngestResult{}, &ValidationError{Reason: fmt.Sprintf("malformed performance_data: %v", err)}
	}
	if len(perfs) == 0 {
		return IngestResult{}, &ValidationError{Reason: "performance_data is empty"}
	}

	result := IngestResult{IngestionID: uuid.NewString()}
	log.Printf("[ingestion] %s: processing %d perf run(s) for job=%s repo=%s", result.IngestionID, len(perfs), job.Job, job.Repository)

	for _, perf := range perfs {
		if err := s.ingestOne(ctx, job, perf, &result); err != nil {
			return result, err
		}
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveArtifact(ctx, job.Job, raw); err != nil {
			log.Printf("[ingestion] %s: archive artifact job=%s: %v", result.IngestionID, job.Job, err)
		}
	}

	return result, nil
}

func (s *Service) ingestOne(ctx context.Context, job JobContext, perf Perf, result *IngestResult) error {
	framework, found, err := s.store.GetFrameworkByName(ctx, perf.Framework.Name)
	if err != nil {
		return fmt.Errorf("lookup framework %q: %w", perf.Framework.Name, err)
	}
	if !found {
		if perf.Framework.Name == "job_resource_usage" {
			return nil
		}
		log.Printf("[ingestion] WARN unknown framework %q, skipping artifact", perf.Framework.Name)
		result.Skipped = true
		return nil
	}
	if !framework.Enabled {
		log.Printf("[ingestion] framework %q disabled, skipping artifact", perf.Framework.Name)
		result.Skipped = true
		return nil
	}

	application := ""
	applicationVersion := ""
	if perf.Application != nil {
		application = perf.Application.Name
		applicationVersion = perf.Application.Version
	}

	pushTimestamp := job.PushTime
	isMultiCommit := false
	if s.cfg.MultidataIngestionEnabled && perf.PushTimestamp != nil {
		pushTimestamp = time.Unix(int64(*perf.PushTimestamp), 0).UTC()
		isMultiCommit = !pushTimestamp.Equal(job.PushTime)
	}

	referenceData := map[string]interface{}{
		"option_collection_hash": job.OptionCollectionHash,
		"machine_platform":       job.MachinePlatform,
	}

	for _, suite := range perf.Suites {
		if err := s.ingestSuite(ctx, job, framework.Name, application, applicationVersion, pushTimestamp, isMultiCommit, referenceData, suite, result); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ingestSuite(
	ctx context.Context,
	job JobContext,
	frameworkName, application, applicationVersion string,
	pushTimestamp time.Time,
	isMultiCommit bool,
	referenceData map[string]interface{},
	suite Suite,
	result *IngestResult,
) error {
	orderedTags := spaceJoinSorted(suite.Tags)
	extraOptions := spaceJoinSorted(suite.ExtraOptions)

	suiteExtraProperties := map[string]interface{}{}
	if len(suite.ExtraOptions) > 0 {
		sorted := sortedCopy(suite.ExtraOptions)
		suiteExtraProperties["test_options"] = sorted
	}

	var summaryHash string
	var summarySignature models.Signature
	hasSummary := suite.Value != nil

	if hasSummary {
		summaryProps := map[string]interface{}{"suite": suite.Name}
		mergeInto(summaryProps, referenceData)
		mergeInto(summaryProps, suiteExtraProperties)

		hash, err := fingerprint.Hash(summaryProps)
		if err != nil {
			return fmt.Errorf("fingerprint summary %s: %w", suite.Name, err)
		}
		summaryHash = hash

		sig, err := s.store.UpsertSignature(ctx, store.UpsertSignatureInput{
			Repository:        job.Repository,
			Framework:         frameworkName,
			Application:       application,
			SignatureHash:     hash,
			Suite:             suite.Name,
			SuitePublicName:   suite.PublicName,
			Test:              "",
			Platform:          job.MachinePlatform,
			OptionCollection:  job.OptionCollectionHash,
			ExtraOptions:      extraOptions,
			Tags:              orderedTags,
			MeasurementUnit:   suite.Unit,
			LowerIsBetter:     boolOrDefault(suite.LowerIsBetter, true),
			HasSubtests:       true,
			ShouldAlert:       models.TriBoolFromPtr(suite.ShouldAlert),
			Monitor:           models.TriBoolFromPtr(suite.Monitor),
			AlertNotifyEmails: spaceJoinSorted(suite.AlertNotify),
			AlertChangeType:   models.ParseChangeType(suite.AlertChange),
			AlertThreshold:    suite.AlertThresh,
			MinBackWindow:     suite.MinBackWindow,
			MaxBackWindow:     suite.MaxBackWindow,
			ForeWindow:        suite.ForeWindow,
			LastUpdated:       job.PushTime,
		})
		if err != nil {
			return fmt.Errorf("upsert summary signature %s: %w", suite.Name, err)
		}
		summarySignature = sig

		datum, created, err := s.store.GetOrCreateDatum(ctx, store.DatumInput{
			Repository:         job.Repository,
			Job:                job.Job,
			Push:               job.Push,
			SignatureID:        sig.ID,
			PushTimestamp:      pushTimestamp,
			Value:              *suite.Value,
			ApplicationVersion: applicationVersion,
		})
		if err != nil {
			return fmt.Errorf("record summary datum %s: %w", suite.Name, err)
		}
		if created && isMultiCommit {
			if err := s.store.CreateMultiCommitMarker(ctx, datum.ID); err != nil {
				return fmt.Errorf("create multi-commit marker: %w", err)
			}
		}

		sigResult := SignatureResult{SignatureHash: hash, SignatureID: sig.ID, DatumCreated: created}
		if s.shouldAlertSummary(sig, created, job) {
			if err := s.enqueueAlert(ctx, sig); err == nil {
				sigResult.AlertEnqueued = true
			}
		}
		result.Signatures = append(result.Signatures, sigResult)
	}

	for _, subtest := range suite.Subtests {
		if err := s.ingestSubtest(ctx, job, frameworkName, application, applicationVersion, pushTimestamp, isMultiCommit, referenceData, suite, suiteExtraProperties, extraOptions, orderedTags, hasSummary, summaryHash, summarySignature, subtest, result); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) ingestSubtest(
	ctx context.Context,
	job JobContext,
	frameworkName, application, applicationVersion string,
	pushTimestamp time.Time,
	isMultiCommit bool,
	referenceData map[string]interface{},
	suite Suite,
	suiteExtraProperties map[string]interface{},
	extraOptions, orderedTags string,
	hasSummary bool,
	summaryHash string,
	summarySignature models.Signature,
	subtest Subtest,
	result *IngestResult,
) error {
	subtestProps := map[string]interface{}{"suite": suite.Name, "test": subtest.Name}
	mergeInto(subtestProps, referenceData)
	mergeInto(subtestProps, suiteExtraProperties)
	if hasSummary {
		subtestProps["parent_signature"] = summaryHash
	}

	hash, err := fingerprint.Hash(subtestProps)
	if err != nil {
		return fmt.Errorf("fingerprint subtest %s.%s: %w", suite.Name, subtest.Name, err)
	}

	var parentSignatureID *int64
	if hasSummary {
		id := summarySignature.ID
		parentSignatureID = &id
	}

	// monitor and alert_notify_emails are inherited from the suite even for
	// subtests; every other alerting knob is sourced from the subtest itself.
	sig, err := s.store.UpsertSignature(ctx, store.UpsertSignatureInput{
		Repository:        job.Repository,
		Framework:         frameworkName,
		Application:       application,
		SignatureHash:     hash,
		Suite:             suite.Name,
		SuitePublicName:   suite.PublicName,
		Test:              subtest.Name,
		TestPublicName:    subtest.PublicName,
		Platform:          job.MachinePlatform,
		OptionCollection:  job.OptionCollectionHash,
		ExtraOptions:      extraOptions,
		Tags:              orderedTags,
		MeasurementUnit:   subtest.Unit,
		LowerIsBetter:     boolOrDefault(subtest.LowerIsBetter, true),
		HasSubtests:       false,
		ParentSignatureID: parentSignatureID,
		ShouldAlert:       models.TriBoolFromPtr(subtest.ShouldAlert),
		Monitor:           models.TriBoolFromPtr(suite.Monitor),
		AlertNotifyEmails: spaceJoinSorted(suite.AlertNotify),
		AlertChangeType:   models.ParseChangeType(subtest.AlertChange),
		AlertThreshold:    subtest.AlertThresh,
		MinBackWindow:     subtest.MinBackWindow,
		MaxBackWindow:     subtest.MaxBackWindow,
		ForeWindow:        subtest.ForeWindow,
		LastUpdated:       job.PushTime,
	})
	if err != nil {
		return fmt.Errorf("upsert subtest signature %s.%s: %w", suite.Name, subtest.Name, err)
	}

	if subtest.Value == nil {
		return nil
	}

	datum, created, err := s.store.GetOrCreateDatum(ctx, store.DatumInput{
		Repository:         job.Repository,
		Job:                job.Job,
		Push:               job.Push,
		SignatureID:        sig.ID,
		PushTimestamp:      pushTimestamp,
		Value:              *subtest.Value,
		ApplicationVersion: applicationVersion,
	})
	if err != nil {
		return fmt.Errorf("record subtest datum %s.%s: %w", suite.Name, subtest.Name, err)
	}
	if created && isMultiCommit {
		if err := s.store.CreateMultiCommitMarker(ctx, datum.ID); err != nil {
			return fmt.Errorf("create multi-commit marker: %w", err)
		}
	}

	if created && len(subtest.Replicates) > 0 && replicateGateAllows(job.Repository, suite.Name) {
		if err := s.store.BulkCreateReplicates(ctx, datum.ID, subtest.Replicates); err != nil {
			log.Printf("[ingestion] replicate insert for datum %d: %v", datum.ID, err)
		}
	}

	sigResult := SignatureResult{SignatureHash: hash, SignatureID: sig.ID, DatumCreated: created}
	if s.shouldAlertSubtest(sig, created, job, !hasSummary) {
		if err := s.enqueueAlert(ctx, sig); err == nil {
			sigResult.AlertEnqueued = true
		}
	}
	result.Signatures = append(result.Signatures, sigResult)

	return nil
}

func (s *Service) enqueueAlert(ctx context.Context, sig models.Signature) error {
	if s.queue == nil {
		return nil
	}
	if err := s.queue.EnqueueGenerateAlerts(ctx, sig.ID, sig.SignatureHash); err != nil {
		log.Printf("[ingestion] enqueue alert for signature %s: %v", sig.SignatureHash, err)
		return err
	}
	return nil
}

// shouldAlertSummary implements the summary alert-gating predicate of §4.4.
func (s *Service) shouldAlertSummary(sig models.Signature, datumCreated bool, job JobContext) bool {
	mainRule := !sig.ShouldAlert.IsFalse() && datumCreated && job.RepoPerfAlertsEnabled && job.TierIsSheriffable
	monitorRule := sig.Monitor.IsTrue() && job.Repository != "try"
	return mainRule || monitorRule
}

// shouldAlertSubtest implements the subtest alert-gating predicate of §4.4.
// suiteValueAbsent is true when the parent suite carried no summary value,
// making this subtest itself the headline series.
func (s *Service) shouldAlertSubtest(sig models.Signature, datumCreated bool, job JobContext, suiteValueAbsent bool) bool {
	opted := sig.ShouldAlert.IsTrue() || (sig.ShouldAlert.IsUnset() && suiteValueAbsent)
	mainRule := opted && datumCreated && job.RepoPerfAlertsEnabled && job.TierIsSheriffable
	monitorRule := sig.Monitor.IsTrue() && job.Repository != "try"
	return mainRule || monitorRule
}

// replicateGateAllows implements the §4.4 replicate-gating matrix.
func replicateGateAllows(repository, suiteName string) bool {
	if repository == "try" {
		return true
	}
	if repository == "mozilla-central" && suiteName == "speedometer3" {
		return true
	}
	substrings, ok := replicateGatedSubstrings[repository]
	if !ok {
		return false
	}
	for _, sub := range substrings {
		if strings.Contains(suiteName, sub) {
			return true
		}
	}
	return false
}

func boolOrDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func spaceJoinSorted(tokens []string) string {
	if len(tokens) == 0 {
		return ""
	}
	sorted := sortedCopy(tokens)
	return strings.Join(sorted, " ")
}

func sortedCopy(tokens []string) []string {
	sorted := make([]string, len(tokens))
	copy(sorted, tokens)
	sort.Strings(sorted)
	return sorted
}

func mergeInto(dst, src map[string]interface{}) {
	for k, v := range src {
		dst[k] = v
	}
}
