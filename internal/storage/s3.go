package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const maxPageSize = 1000

// S3API is the subset of the S3 client used for listing.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ S3API = (*s3.Client)(nil)

// S3Lister implements Lister on top of ListObjectsV2.
type S3Lister struct {
	client   S3API
	bucket   string
	pageSize int32
}

// NewS3Lister wraps an existing S3 client. A pageSize outside 1..1000 falls
// back to 1000, the largest page S3 returns.
func NewS3Lister(client S3API, bucket string, pageSize int) *S3Lister {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return &S3Lister{
		client:   client,
		bucket:   bucket,
		pageSize: int32(pageSize),
	}
}

// NewS3ListerFromConfig builds the S3 client from awsCfg. Path-style
// addressing is forced when a custom endpoint is configured.
func NewS3ListerFromConfig(awsCfg aws.Config, bucket string, pageSize int) *S3Lister {
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if awsCfg.BaseEndpoint != nil {
			o.UsePathStyle = true
		}
	})
	return NewS3Lister(client, bucket, pageSize)
}

func (l *S3Lister) Bucket() string {
	return l.bucket
}

// ListPage fetches one ListObjectsV2 page.
func (l *S3Lister) ListPage(ctx context.Context, prefix, token string) (Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(l.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(l.pageSize),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}

	output, err := l.client.ListObjectsV2(ctx, input)
	if err != nil {
		return Page{}, fmt.Errorf("s3 list %s/%s failed: %w", l.bucket, prefix, err)
	}

	page := Page{Keys: make([]string, 0, len(output.Contents))}
	for _, obj := range output.Contents {
		page.Keys = append(page.Keys, aws.ToString(obj.Key))
	}
	if aws.ToBool(output.IsTruncated) {
		page.NextToken = aws.ToString(output.NextContinuationToken)
	}

	return page, nil
}

var _ Lister = (*S3Lister)(nil)
