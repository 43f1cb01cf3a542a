package artifacts

import (
	"context"
	"fmt"
	"strings"
)

// BuildStore opens the store backend selected by root:
//
//	gs://bucket/prefix   Google Cloud Storage
//	s3://bucket/prefix   S3-compatible object store
//	file:///dir          local filesystem
//	./dir or /dir        local filesystem
func BuildStore(ctx context.Context, root string) (Store, error) {
	switch {
	case strings.HasPrefix(root, "gs://"):
		bucket, prefix, err := splitBucketURI(root, "gs://")
		if err != nil {
			return nil, err
		}
		return NewGCSStore(ctx, bucket, prefix)
	case strings.HasPrefix(root, "s3://"):
		bucket, prefix, err := splitBucketURI(root, "s3://")
		if err != nil {
			return nil, err
		}
		return NewS3Store(ctx, bucket, prefix)
	case strings.HasPrefix(root, "file://"):
		return NewLocalStore(strings.TrimPrefix(root, "file://"))
	default:
		return NewLocalStore(root)
	}
}

func splitBucketURI(uri, scheme string) (bucket, prefix string, err error) {
	rest := strings.TrimPrefix(uri, scheme)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", fmt.Errorf("invalid store root %q: missing bucket", uri)
	}
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return bucket, prefix, nil
}
