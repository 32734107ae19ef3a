// Package archive implements the optional raw-artifact archiver (C10): it
// canonicalizes the raw artifact JSON and uploads it to S3 for audit and
// debugging, never blocking or failing ingestion.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/perfsentry/core/internal/canonical"
)

// S3Archiver writes canonicalized artifact JSON to paths like:
//
//	s3://<bucket>/<prefix>/artifacts/YYYY/MM/DD/<jobID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// New creates an S3Archiver. Region/credentials are resolved the usual
// SDK way (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID/SECRET, etc).
func New(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive: bucket required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// ArchiveArtifact canonicalizes raw and uploads it keyed by jobID and the
// current date.
func (a *S3Archiver) ArchiveArtifact(ctx context.Context, jobID string, raw json.RawMessage) error {
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode raw artifact: %w", err)
	}
	canonBytes, err := canonical.Marshal(decoded)
	if err != nil {
		return fmt.Errorf("canonicalize artifact: %w", err)
	}

	now := time.Now().UTC()
	year, month, day := now.Date()
	objectKey := path.Join(a.prefix, "artifacts",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", jobID),
	)

	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(a.bucket),
		Key:                  aws.String(objectKey),
		Body:                 bytes.NewReader(canonBytes),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}
