// Package s3store keeps history images as objects in an S3 bucket. Any
// S3-compatible server works; MinIO needs path-style addressing.
package s3store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history/backend"
	"github.com/ikancheck/ikancheck/internal/logger"
)

// Name is the backend name used in logs and metrics.
const Name = "s3"

const (
	metaLabel     = "label"
	metaCreatedAt = "createdat"
)

// Config holds S3 connection parameters.
type Config struct {
	// Endpoint such as "http://127.0.0.1:9000". Empty uses AWS.
	Endpoint string
	Region   string
	Bucket   string
	// Prefix is prepended to every key, normally ending in "/".
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

func (c Config) validate() error {
	var problems []string
	if strings.TrimSpace(c.Bucket) == "" {
		problems = append(problems, "bucket is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		problems = append(problems, "region is required")
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		problems = append(problems, "access key and secret key must be set together")
	}
	if strings.Contains(c.Prefix, "..") {
		problems = append(problems, "prefix must not contain '..'")
	}
	if len(problems) > 0 {
		return errors.Newf("s3 history backend: %s", strings.Join(problems, "; ")).
			Component("history").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}

// Store is an S3 backend.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
	region string

	mu          sync.Mutex
	bucketReady bool
}

var _ backend.Backend = (*Store)(nil)

// New creates the S3 client. No request is made until the first operation.
func New(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(aws.Config{Region: cfg.Region}, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.AccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		region: cfg.Region,
	}, nil
}

// Name implements backend.Backend.
func (s *Store) Name() string { return Name }

func (s *Store) objectKey(key string) string {
	return s.prefix + key
}

// ensureBucket creates the bucket once per process.
func (s *Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bucketReady {
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	// us-east-1 rejects an explicit location constraint.
	if s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if !errors.As(err, &owned) && !errors.As(err, &exists) {
			return fmt.Errorf("couldn't create bucket %s in region %s: %w", s.bucket, s.region, err)
		}
	}
	s.bucketReady = true
	GetLogger().Info("history bucket ready", logger.String("bucket", s.bucket), logger.String("region", s.region))
	return nil
}

// Put uploads obj. S3 writes are atomic per object.
func (s *Store) Put(ctx context.Context, obj backend.Object) error {
	if err := backend.ValidateKey(obj.Key); err != nil {
		return backend.InvalidKey(Name, err)
	}
	if err := s.ensureBucket(ctx); err != nil {
		return backend.Persistence(Name, "create_bucket", err)
	}

	contentType := obj.ContentType
	if contentType == "" {
		contentType = backend.ContentTypeForKey(obj.Key)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(obj.Key)),
		Body:          bytes.NewReader(obj.Data),
		ContentLength: aws.Int64(int64(len(obj.Data))),
		ContentType:   aws.String(contentType),
		Metadata:      encodeMetadata(obj),
	})
	if err != nil {
		return backend.Persistence(Name, "put", fmt.Errorf("put object %s: %w", obj.Key, err))
	}
	return nil
}

// Get downloads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (backend.Object, error) {
	if err := backend.ValidateKey(key); err != nil {
		return backend.Object{}, backend.InvalidKey(Name, err)
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isMissing(err) {
			return backend.Object{}, backend.NotFound(Name, key)
		}
		return backend.Object{}, backend.Persistence(Name, "get", fmt.Errorf("get object %s: %w", key, err))
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return backend.Object{}, backend.Persistence(Name, "get", err)
	}

	obj := backend.Object{
		Key:         key,
		Data:        data,
		ContentType: aws.ToString(out.ContentType),
	}
	if obj.ContentType == "" {
		obj.ContentType = backend.ContentTypeForKey(key)
	}
	obj.Label, obj.CreatedAt = decodeMetadata(out.Metadata)
	return obj, nil
}

// Exists reports whether an object exists at key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := backend.ValidateKey(key); err != nil {
		return false, backend.InvalidKey(Name, err)
	}
	return s.head(ctx, key)
}

func (s *Store) head(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isMissing(err) {
			return false, nil
		}
		return false, backend.Persistence(Name, "exists", fmt.Errorf("head object %s: %w", key, err))
	}
	return true, nil
}

// Delete removes the object at key. S3 deletes are idempotent, so existence
// is checked first to report missing keys.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := backend.ValidateKey(key); err != nil {
		return backend.InvalidKey(Name, err)
	}

	ok, err := s.head(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return backend.NotFound(Name, key)
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return backend.Persistence(Name, "delete", fmt.Errorf("delete object %s: %w", key, err))
	}
	return nil
}

// Keys lists objects directly under the prefix. A missing bucket is empty.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys := []string{}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			var noBucket *types.NoSuchBucket
			if errors.As(err, &noBucket) || hasCode(err, "NoSuchBucket") {
				return []string{}, nil
			}
			return nil, backend.Persistence(Name, "list", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			keys = append(keys, name)
		}
	}
	return keys, nil
}

// Close is a no-op; the client holds no resources that need releasing.
func (s *Store) Close() error { return nil }

func isMissing(err error) bool {
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	return hasCode(err, "NotFound", "NoSuchKey", "NoSuchBucket")
}

// hasCode matches generic API errors, which S3-compatible servers return for
// HEAD requests without a body.
func hasCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

func encodeMetadata(obj backend.Object) map[string]string {
	meta := map[string]string{}
	if obj.Label != "" {
		meta[metaLabel] = url.QueryEscape(obj.Label)
	}
	if !obj.CreatedAt.IsZero() {
		meta[metaCreatedAt] = obj.CreatedAt.UTC().Format(time.RFC3339)
	}
	return meta
}

func decodeMetadata(meta map[string]string) (label string, createdAt time.Time) {
	for k, v := range meta {
		switch strings.ToLower(k) {
		case metaLabel:
			if decoded, err := url.QueryUnescape(v); err == nil {
				label = decoded
			}
		case metaCreatedAt:
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				createdAt = t
			}
		}
	}
	return label, createdAt
}
