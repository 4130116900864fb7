package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/semmidev/dbvault/internal/config"
)

type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 creates an S3Storage against the configured endpoint using static
// credentials.
func NewS3(ctx context.Context, cfg config.S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("s3: bucket and region are required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: normalizePrefix(cfg.Prefix),
	}, nil
}

// Put stores body under key with a single PutObject call.
func (s *S3Storage) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(key)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", apiError(err))
	}

	return nil
}

// List returns every object name under the prefix, prefix stripped.
func (s *S3Storage) List(ctx context.Context) ([]string, error) {
	var files []string
	err := s.walk(ctx, func(name string, _ time.Time) {
		files = append(files, name)
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *S3Storage) Delete(ctx context.Context, remoteName string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(remoteName)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from S3: %w", apiError(err))
	}

	return nil
}

// GetOldFiles returns names whose LastModified is before cutoffTime.
func (s *S3Storage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	var oldFiles []string
	err := s.walk(ctx, func(name string, modified time.Time) {
		if !modified.IsZero() && modified.Before(cutoffTime) {
			oldFiles = append(oldFiles, name)
		}
	})
	if err != nil {
		return nil, err
	}
	return oldFiles, nil
}

func (s *S3Storage) walk(ctx context.Context, fn func(name string, modified time.Time)) error {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list S3 objects: %w", apiError(err))
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if name == "" {
				continue
			}
			fn(name, aws.ToTime(obj.LastModified))
		}
	}

	return nil
}

// normalizePrefix makes a non-empty prefix a "directory": no leading slash,
// exactly one trailing slash.
func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (s *S3Storage) key(name string) string {
	return s.prefix + name
}

// apiError flattens smithy API errors to "code: message" while keeping the
// original in the chain.
func apiError(err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		return fmt.Errorf("%s: %s: %w", ae.ErrorCode(), ae.ErrorMessage(), err)
	}
	return err
}
