package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// GCSStore keeps artifacts in a Google Cloud Storage bucket, optionally
// under a key prefix. Credentials come from Application Default
// Credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ Store = (*GCSStore)(nil)

// NewGCSStore opens a store at gs://bucket/prefix.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *GCSStore) object(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

func (s *GCSStore) ReadText(ctx context.Context, key string) (string, error) {
	data, err := s.ReadBytes(ctx, key)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *GCSStore) WriteText(ctx context.Context, key, text string) error {
	return s.WriteBytes(ctx, key, []byte(text))
}

func (s *GCSStore) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	obj := s.client.Bucket(s.bucket).Object(s.object(key))
	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("gcs read failed for %s: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gcs read failed for %s: %w", key, err)
	}
	return data, nil
}

func (s *GCSStore) WriteBytes(ctx context.Context, key string, data []byte) error {
	obj := s.client.Bucket(s.bucket).Object(s.object(key))
	w := obj.NewWriter(ctx)
	w.ContentType = contentTypeFor(key)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed for %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed for %s: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object(s.object(key))
	_, err := obj.Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs attrs error for %s: %w", key, err)
}

func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.object(prefix)})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list failed for %s: %w", prefix, err)
		}
		key := attrs.Name
		if s.prefix != "" {
			key = strings.TrimPrefix(key, s.prefix+"/")
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *GCSStore) ListRuns(ctx context.Context) ([]string, error) {
	query := &storage.Query{Delimiter: "/"}
	if s.prefix != "" {
		query.Prefix = s.prefix + "/"
	}
	it := s.client.Bucket(s.bucket).Objects(ctx, query)
	var runs []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list runs failed: %w", err)
		}
		if attrs.Prefix == "" {
			continue
		}
		run := strings.Trim(attrs.Prefix, "/")
		if s.prefix != "" {
			run = strings.TrimPrefix(run, s.prefix+"/")
		}
		runs = append(runs, run)
	}
	sort.Strings(runs)
	return runs, nil
}

func (s *GCSStore) DeletePrefix(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	bucket := s.client.Bucket(s.bucket)
	for _, key := range keys {
		err := bucket.Object(s.object(key)).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("gcs delete failed for %s: %w", key, err)
		}
	}
	return nil
}

func (s *GCSStore) URIFor(key string) string {
	return "gs://" + s.bucket + "/" + s.object(key)
}

func (s *GCSStore) CreateIfAbsent(ctx context.Context, key string, data []byte) (bool, error) {
	obj := s.client.Bucket(s.bucket).Object(s.object(key))
	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentTypeFor(key)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("gcs conditional write failed for %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, fmt.Errorf("gcs conditional write failed for %s: %w", key, err)
	}
	return true, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}

func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".jsonl"), strings.HasSuffix(key, ".md"),
		strings.HasSuffix(key, ".txt"), strings.HasSuffix(key, ".csv"):
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
