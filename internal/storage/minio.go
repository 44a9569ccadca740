package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig encapsulates the connection info for an S3-compatible service.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	PageSize  int
}

// MinioAPI is the subset of minio.Core used for listing. Core exposes the
// raw ListObjectsV2 call, which unlike Client.ListObjects surfaces the
// continuation token.
type MinioAPI interface {
	ListObjectsV2(bucketName, objectPrefix, startAfter, continuationToken, delimiter string, maxkeys int) (minio.ListBucketV2Result, error)
}

// MinioLister implements Lister for MinIO and other S3-compatible services.
type MinioLister struct {
	core     MinioAPI
	bucket   string
	pageSize int
}

// NewMinioLister builds a new MinioLister backed by minio.Core.
func NewMinioLister(cfg MinioConfig) (*MinioLister, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint must be provided")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket must be provided")
	}

	endpoint, secure := splitEndpoint(cfg.Endpoint, cfg.UseSSL)

	opts := &minio.Options{
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		opts.Creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	} else {
		opts.Creds = credentials.NewEnvAWS()
	}

	core, err := minio.NewCore(endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return newMinioLister(core, cfg.Bucket, cfg.PageSize), nil
}

func newMinioLister(core MinioAPI, bucket string, pageSize int) *MinioLister {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &MinioLister{core: core, bucket: bucket, pageSize: pageSize}
}

func (l *MinioLister) Bucket() string {
	return l.bucket
}

// ListPage fetches one ListObjectsV2 page. minio.Core does not take a
// context; ctx is only checked before the call.
func (l *MinioLister) ListPage(ctx context.Context, prefix, token string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	result, err := l.core.ListObjectsV2(l.bucket, prefix, "", token, "", l.pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("minio list %s/%s failed: %w", l.bucket, prefix, err)
	}

	page := Page{Keys: make([]string, 0, len(result.Contents))}
	for _, obj := range result.Contents {
		page.Keys = append(page.Keys, obj.Key)
	}
	if result.IsTruncated {
		page.NextToken = result.NextContinuationToken
	}

	return page, nil
}

// splitEndpoint strips any URL scheme from endpoint; minio wants a bare
// host[:port]. An explicit scheme overrides useSSL.
func splitEndpoint(endpoint string, useSSL bool) (string, bool) {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	}
	return strings.TrimSuffix(strings.TrimPrefix(endpoint, "//"), "/"), useSSL
}

var _ Lister = (*MinioLister)(nil)
