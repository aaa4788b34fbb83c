// Copyright 2025 Certen Protocol
//
// Package storage implements C8's ArtifactSink: uploading a completed
// verification report as a JSON object to an S3-compatible bucket, keyed
// by a random UUID so repeated uploads for the same app never collide.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Upload is the pointer a caller stores in verification_tasks once an
// artifact has been written: enough to reconstruct a presigned or direct
// download URL later without re-reading the object.
type Upload struct {
	Bucket   string
	Key      string
	Filename string
}

// ArtifactSink uploads JSON report payloads to S3-compatible storage.
type ArtifactSink struct {
	client *s3.Client
	bucket string
}

// NewArtifactSink builds an ArtifactSink against an S3-compatible
// endpoint (AWS S3 itself, or a MinIO/R2-style alternative when
// endpoint is non-empty), mirroring the static-credentials provider
// shape the spec's S3_ACCESS_KEY_ID/S3_SECRET_ACCESS_KEY env vars imply.
func NewArtifactSink(ctx context.Context, endpoint, accessKeyID, secretAccessKey, bucket string) (*ArtifactSink, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &ArtifactSink{client: client, bucket: bucket}, nil
}

// UploadJSON marshals payload and stores it under a UUID-derived key,
// returning the pointer the caller persists on the VerificationTask row.
func (s *ArtifactSink) UploadJSON(ctx context.Context, appID string, payload interface{}) (*Upload, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding artifact payload: %w", err)
	}

	filename, key := artifactKey(appID, time.Now().UTC())

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading artifact to s3: %w", err)
	}

	return &Upload{Bucket: s.bucket, Key: key, Filename: filename}, nil
}

// artifactKey derives the (filename, object key) pair for an upload,
// content-keyed on a random UUID so concurrent uploads for the same app
// never collide, and date-partitioned so a bucket listing stays usable
// at scale.
func artifactKey(appID string, now time.Time) (filename, key string) {
	id := uuid.New().String()
	filename = fmt.Sprintf("%s-%s.json", appID, id)
	key = fmt.Sprintf("artifacts/%s/%s", now.Format("2006/01/02"), filename)
	return filename, key
}
