package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awstypes "github.com/aws/aws-sdk-go-v2/service/s3/types"

	vaulttypes "github.com/cuemby/vault/pkg/types"
	"github.com/cuemby/vault/pkg/vaulterrors"
)

// S3Store is the production backend: one bucket per tenant
// ({prefix}{tenantId}), with the object key equal to the canonical
// BlobRef string verbatim. Buckets are created on demand.
type S3Store struct {
	client         *s3.Client
	bucketPrefix   string
	writeOnceCheck bool

	mu      sync.Mutex
	ensured map[string]bool // buckets already confirmed to exist this process
}

// NewS3Store builds a backend from the ambient AWS config (env vars,
// shared credentials file, or instance profile — resolved the same
// way the AWS SDK v2 default config loader always does).
func NewS3Store(ctx context.Context, bucketPrefix string, writeOnceCheck bool, optFns ...func(*awsconfig.LoadOptions) error) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load AWS config: %w", err)
	}
	return &S3Store{
		client:         s3.NewFromConfig(cfg),
		bucketPrefix:   bucketPrefix,
		writeOnceCheck: writeOnceCheck,
		ensured:        make(map[string]bool),
	}, nil
}

func (s *S3Store) bucket(tenantID string) string {
	return s.bucketPrefix + tenantID
}

func (s *S3Store) ensureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	if s.ensured[bucket] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil {
		var owned *awstypes.BucketAlreadyOwnedByYou
		var exists *awstypes.BucketAlreadyExists
		if !errors.As(err, &owned) && !errors.As(err, &exists) {
			return fmt.Errorf("objectstore: create bucket %s: %w: %w", bucket, err, vaulterrors.ErrStorageError)
		}
	}

	s.mu.Lock()
	s.ensured[bucket] = true
	s.mu.Unlock()
	return nil
}

func (s *S3Store) Read(ctx context.Context, tenantID string, ref vaulttypes.BlobRef) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket(tenantID)),
		Key:    aws.String(ref.String()),
	})
	if err != nil {
		var noSuchKey *awstypes.NoSuchKey
		var noSuchBucket *awstypes.NoSuchBucket
		if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) {
			return nil, vaulterrors.ErrBlobNotFound
		}
		return nil, fmt.Errorf("objectstore: read %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("objectstore: read %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
	}
	return data, nil
}

func (s *S3Store) Create(ctx context.Context, tenantID string, ref vaulttypes.BlobRef, data []byte, mimeHint string) error {
	bucket := s.bucket(tenantID)
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return err
	}

	if s.writeOnceCheck {
		existing, err := s.Read(ctx, tenantID, ref)
		if err == nil {
			if !bytes.Equal(existing, data) {
				return vaulterrors.ErrBlobAlreadyExists
			}
			return nil // idempotent re-create of identical content
		} else if !errors.Is(err, vaulterrors.ErrBlobNotFound) {
			return err
		}
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(ref.String()),
		Body:   bytes.NewReader(data),
	}
	if mimeHint != "" {
		input.ContentType = aws.String(mimeHint)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("objectstore: create %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, tenantID string, ref vaulttypes.BlobRef) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket(tenantID)),
		Key:    aws.String(ref.String()),
	})
	if err == nil {
		return true, nil
	}
	var notFound *awstypes.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("objectstore: exists %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
}

func (s *S3Store) Delete(ctx context.Context, tenantID string, ref vaulttypes.BlobRef) error {
	exists, err := s.Exists(ctx, tenantID, ref)
	if err != nil {
		return err
	}
	if !exists {
		return vaulterrors.ErrBlobNotFound
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket(tenantID)),
		Key:    aws.String(ref.String()),
	}); err != nil {
		return fmt.Errorf("objectstore: delete %s/%s: %w: %w", tenantID, ref, err, vaulterrors.ErrStorageError)
	}
	return nil
}

func (s *S3Store) DeleteTenant(ctx context.Context, tenantID string) error {
	bucket := s.bucket(tenantID)

	var continuationToken *string
	for {
		list, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(bucket),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			var noSuchBucket *awstypes.NoSuchBucket
			if errors.As(err, &noSuchBucket) {
				return nil // idempotent: nothing to delete
			}
			return fmt.Errorf("objectstore: delete tenant %s: %w: %w", tenantID, err, vaulterrors.ErrStorageError)
		}

		var objects []awstypes.ObjectIdentifier
		for _, obj := range list.Contents {
			objects = append(objects, awstypes.ObjectIdentifier{Key: obj.Key})
		}
		if len(objects) > 0 {
			if _, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(bucket),
				Delete: &awstypes.Delete{Objects: objects},
			}); err != nil {
				return fmt.Errorf("objectstore: delete tenant %s objects: %w: %w", tenantID, err, vaulterrors.ErrStorageError)
			}
		}

		if list.IsTruncated == nil || !*list.IsTruncated {
			break
		}
		continuationToken = list.NextContinuationToken
	}

	if _, err := s.client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)}); err != nil {
		var noSuchBucket *awstypes.NoSuchBucket
		if !errors.As(err, &noSuchBucket) {
			return fmt.Errorf("objectstore: delete tenant %s bucket: %w: %w", tenantID, err, vaulterrors.ErrStorageError)
		}
	}

	s.mu.Lock()
	delete(s.ensured, bucket)
	s.mu.Unlock()
	return nil
}

func (s *S3Store) ListTenants(ctx context.Context) (<-chan string, <-chan error) {
	out := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		list, err := s.client.ListBuckets(ctx, &s3.ListBucketsInput{Prefix: aws.String(s.bucketPrefix)})
		if err != nil {
			errc <- fmt.Errorf("objectstore: list tenants: %w: %w", err, vaulterrors.ErrStorageError)
			return
		}
		for _, b := range list.Buckets {
			name := aws.ToString(b.Name)
			if !strings.HasPrefix(name, s.bucketPrefix) {
				continue
			}
			select {
			case out <- strings.TrimPrefix(name, s.bucketPrefix):
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	return out, errc
}

func (s *S3Store) ListContainers(ctx context.Context, tenantID string) (<-chan vaulttypes.BlobRef, <-chan error) {
	out := make(chan vaulttypes.BlobRef)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		bucket := s.bucket(tenantID)
		var continuationToken *string
		for {
			list, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
				Bucket:            aws.String(bucket),
				ContinuationToken: continuationToken,
			})
			if err != nil {
				var noSuchBucket *awstypes.NoSuchBucket
				if errors.As(err, &noSuchBucket) {
					return
				}
				errc <- fmt.Errorf("objectstore: list containers: %w: %w", err, vaulterrors.ErrStorageError)
				return
			}

			for _, obj := range list.Contents {
				key := aws.ToString(obj.Key)
				if !strings.HasSuffix(key, "_") {
					continue
				}
				ref, parseErr := vaulttypes.ParseBlobRef(key)
				if parseErr != nil {
					continue
				}
				select {
				case out <- ref:
				case <-ctx.Done():
					errc <- ctx.Err()
					return
				}
			}

			if list.IsTruncated == nil || !*list.IsTruncated {
				return
			}
			continuationToken = list.NextContinuationToken
		}
	}()

	return out, errc
}
