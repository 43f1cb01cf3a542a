package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3Store keeps artifacts in an S3 bucket, optionally under a key
// prefix. Credentials come from the default AWS credential chain.
// ARTIFACTS_S3_ENDPOINT selects a custom endpoint (MinIO, LocalStack).
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ Store = (*S3Store)(nil)

// NewS3Store opens a store at s3://bucket/prefix.
func NewS3Store(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := os.Getenv("ARTIFACTS_S3_ENDPOINT")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	})

	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *S3Store) object(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *S3Store) ReadText(ctx context.Context, key string) (string, error) {
	data, err := s.ReadBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *S3Store) WriteText(ctx context.Context, key, text string) error {
	return s.WriteBytes(ctx, key, []byte(text))
}

func (s *S3Store) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.object(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("s3 get failed for %s: %w", key, err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read failed for %s: %w", key, err)
	}
	return data, nil
}

func (s *S3Store) WriteBytes(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.object(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(key)),
	})
	if err != nil {
		return fmt.Errorf("s3 put failed for %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.object(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head failed for %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.object(prefix)),
	})
	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed for %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) ListRuns(ctx context.Context) ([]string, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Delimiter: aws.String("/"),
	}
	if s.prefix != "" {
		input.Prefix = aws.String(s.prefix + "/")
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	var runs []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list runs failed: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			run := strings.Trim(aws.ToString(cp.Prefix), "/")
			if s.prefix != "" {
				run = strings.TrimPrefix(run, s.prefix+"/")
			}
			runs = append(runs, run)
		}
	}
	sort.Strings(runs)
	return runs, nil
}

func (s *S3Store) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.object(key)),
		})
		if err != nil {
			return fmt.Errorf("s3 delete failed for %s: %w", key, err)
		}
	}
	return nil
}

func (s *S3Store) URIFor(key string) string {
	return "s3://" + s.bucket + "/" + s.object(key)
}

func (s *S3Store) CreateIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.object(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentTypeFor(key)),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "PreconditionFailed" {
			return false, nil
		}
		return false, fmt.Errorf("s3 conditional put failed for %s: %w", key, err)
	}
	return true, nil
}
