package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// MaxPresignTTL is the longest validity SigV4 allows for presigned URLs.
const MaxPresignTTL = 7 * 24 * time.Hour

var (
	// ErrObjectNotFound is returned when the requested key does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrBucketNotFound is returned when the bucket itself is missing, which
	// is an environment problem rather than a caller problem.
	ErrBucketNotFound = errors.New("storage: bucket not found")
	// ErrObjectExists is returned by Upload when the key is already taken.
	ErrObjectExists = errors.New("storage: object already exists")
)

// Options configures the S3 compatible object store.
type Options struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// PublicURL is the base used for public object links, e.g.
	// https://cdn.example.com. Falls back to the endpoint.
	PublicURL string
	// Signer issues the long lived links handed to users. SigV4 presigned
	// URLs cannot outlive seven days.
	Signer *Signer
	Logger zerolog.Logger
}

// ObjectStore reads and writes blobs in S3 compatible buckets and issues
// presigned read URLs.
type ObjectStore struct {
	client    *minio.Client
	publicURL string
	signer    *Signer
	logger    zerolog.Logger
}

// NewObjectStore builds a minio-go client. It does not touch the network.
func NewObjectStore(opts Options) (*ObjectStore, error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return nil, errors.New("storage: endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}
	publicURL := strings.TrimRight(strings.TrimSpace(opts.PublicURL), "/")
	if publicURL == "" {
		scheme := "http"
		if opts.UseSSL {
			scheme = "https"
		}
		publicURL = scheme + "://" + endpoint
	}
	return &ObjectStore{client: client, publicURL: publicURL, signer: opts.Signer, logger: opts.Logger}, nil
}

// Download returns the full content of bucket/key.
func (s *ObjectStore) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat surfaces missing keys and buckets.
	if _, err := obj.Stat(); err != nil {
		return nil, classify(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s/%s: %w", bucket, key, classify(err))
	}
	s.logger.Debug().Str("bucket", bucket).Str("key", key).Int("bytes", len(data)).Msg("storage: downloaded object")
	return data, nil
}

// Upload stores data at bucket/key and refuses to replace an existing object.
func (s *ObjectStore) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	exists, err := s.Exists(ctx, bucket, key)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s/%s", ErrObjectExists, bucket, key)
	}
	return s.put(ctx, bucket, key, data, contentType)
}

// Replace stores data at bucket/key, overwriting any existing object. Only the
// template upload utility uses it.
func (s *ObjectStore) Replace(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	return s.put(ctx, bucket, key, data, contentType)
}

func (s *ObjectStore) put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	info, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s/%s: %w", bucket, key, classify(err))
	}
	s.logger.Debug().Str("bucket", bucket).Str("key", key).Int64("bytes", info.Size).Msg("storage: uploaded object")
	return nil
}

// Exists reports whether bucket/key is present.
func (s *ObjectStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	err = classify(err)
	if errors.Is(err, ErrObjectNotFound) {
		return false, nil
	}
	return false, err
}

// SignedURL issues a tamper-evident read link for bucket/key valid for ttl.
// Links within the SigV4 limit are presigned directly; longer ones go through
// the Signer and are redeemed by the download endpoint.
func (s *ObjectStore) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if ttl > MaxPresignTTL {
		if s.signer == nil {
			return "", fmt.Errorf("storage: sign %s/%s: ttl %s exceeds %s and no signer configured", bucket, key, ttl, MaxPresignTTL)
		}
		return s.signer.Sign(bucket, key, ttl)
	}
	return s.Presign(ctx, bucket, key, ttl)
}

// Presign returns a SigV4 presigned GET URL.
func (s *ObjectStore) Presign(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, bucket, key, ttl, url.Values{})
	if err != nil {
		return "", fmt.Errorf("storage: sign %s/%s: %w", bucket, key, classify(err))
	}
	return u.String(), nil
}

// BucketExists checks that bucket is present.
func (s *ObjectStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ok, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("storage: check bucket %s: %w", bucket, err)
	}
	return ok, nil
}

// PublicURL returns the unsigned URL of an object in a public bucket.
func (s *ObjectStore) PublicURL(bucket, key string) string {
	return s.publicURL + "/" + bucket + "/" + strings.TrimLeft(key, "/")
}

// classify maps S3 error responses onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %s", ErrObjectNotFound, errorDetail(resp, err))
	case "NoSuchBucket":
		return fmt.Errorf("%w: %s", ErrBucketNotFound, errorDetail(resp, err))
	}
	if resp.StatusCode == http.StatusNotFound && resp.Code == "" {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, errorDetail(resp, err))
	}
	return err
}

func errorDetail(resp minio.ErrorResponse, err error) string {
	if resp.Message != "" {
		return resp.Message
	}
	return err.Error()
}
