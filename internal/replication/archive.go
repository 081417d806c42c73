package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"
)

// SnapshotUploader ships a snapshot manifest to long-term storage
type SnapshotUploader interface {
	Upload(ctx context.Context, key string, manifest []byte) error
}

// ArchiveSnapshot uploads the snapshot's manifest (tables, checksums,
// sizes, consistency timestamps) to the configured object store. Archival
// is best-effort metadata export and does not alter the snapshot lifecycle.
func (e *Engine) ArchiveSnapshot(ctx context.Context, snapshotID string) error {
	if e.uploader == nil {
		return fmt.Errorf("snapshot archival is not configured")
	}

	snapshot, err := e.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return err
	}

	manifest, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot manifest: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s/%s.json", snapshot.GroupID, snapshot.ID)
	if err := e.uploader.Upload(ctx, key, manifest); err != nil {
		return fmt.Errorf("failed to archive snapshot: %w", err)
	}

	e.log.WithFields(logrus.Fields{
		"snapshot_id": snapshot.ID,
		"group_id":    snapshot.GroupID,
		"key":         key,
	}).Info("Snapshot archived")

	return nil
}

// S3SnapshotUploader uploads snapshot manifests to an S3-compatible bucket
type S3SnapshotUploader struct {
	client *s3.Client
	bucket string
}

// NewS3SnapshotUploader creates an uploader for a remote S3-compatible
// endpoint using static credentials and path-style addressing.
func NewS3SnapshotUploader(endpoint, region, bucket, accessKey, secretKey string) *S3SnapshotUploader {
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{
			URL:               endpoint,
			HostnameImmutable: true,
			SigningRegion:     region,
		}, nil
	})

	cfg := aws.Config{
		Region:                      region,
		Credentials:                 credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		EndpointResolverWithOptions: customResolver,
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &S3SnapshotUploader{client: client, bucket: bucket}
}

// Upload puts the manifest at the given key
func (u *S3SnapshotUploader) Upload(ctx context.Context, key string, manifest []byte) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(manifest),
		ContentLength: aws.Int64(int64(len(manifest))),
		ContentType:   aws.String("application/json"),
	}

	if _, err := u.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put manifest: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"bucket": u.bucket,
		"key":    key,
		"bytes":  len(manifest),
	}).Debug("Uploaded snapshot manifest")

	return nil
}
