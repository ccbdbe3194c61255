package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/prrao87/application-graph/internal/platform/logger"
)

// Client reads raw source files from and archives cleaned outputs to Google
// Cloud Storage. Construction is lazy on purpose: pipelines running entirely
// on local paths never touch it.
type Client struct {
	log           *logger.Logger
	storageClient *storage.Client
}

func NewClient(ctx context.Context, log *logger.Logger) (*Client, error) {
	if log == nil {
		return nil, fmt.Errorf("gcs: logger required")
	}
	stClient, err := newStorageClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: create storage client: %w", err)
	}
	return &Client{
		log:           log.With("client", "GCS"),
		storageClient: stClient,
	}, nil
}

func newStorageClient(ctx context.Context) (*storage.Client, error) {
	if emu := strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")); emu != "" {
		return storage.NewClient(ctx, option.WithoutAuthentication())
	}
	opts := clientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	return storage.NewClient(ctx, opts...)
}

func clientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

// IsURI reports whether a source path points at object storage rather than
// the local filesystem.
func IsURI(path string) bool {
	return strings.HasPrefix(strings.TrimSpace(path), "gs://")
}

// ParseURI splits gs://bucket/key into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(uri), "gs://")
	if trimmed == uri {
		return "", "", fmt.Errorf("gcs: not a gs:// uri: %q", uri)
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("gcs: malformed uri %q, want gs://bucket/key", uri)
	}
	return parts[0], parts[1], nil
}

// Cancel must outlive the returned reader; attaching it to Close keeps the
// context alive while the caller streams.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return err
}

func (c *Client) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	r, err := c.storageClient.Bucket(bucket).Object(key).NewReader(ctx2)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("gcs: open reader for gs://%s/%s: %w", bucket, key, err)
	}
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, nil
}

// DownloadTo fetches an object into destPath, creating parent directories.
func (c *Client) DownloadTo(ctx context.Context, bucket, key, destPath string) error {
	r, err := c.Download(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("gcs: create dest dir: %w", err)
	}
	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("gcs: create dest file: %w", err)
	}
	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("gcs: download gs://%s/%s: %w", bucket, key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("gcs: close dest file: %w", err)
	}
	c.log.Debug("downloaded object", "bucket", bucket, "key", key, "bytes", n)
	return nil
}

func (c *Client) Upload(ctx context.Context, bucket, key string, file io.Reader) error {
	ctx2, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := c.storageClient.Bucket(bucket).Object(key).NewWriter(ctx2)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: write gs://%s/%s: %w", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: close writer for gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// UploadFile streams a local file to the given object.
func (c *Client) UploadFile(ctx context.Context, bucket, key, srcPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("gcs: open %s: %w", srcPath, err)
	}
	defer f.Close()
	if err := c.Upload(ctx, bucket, key, f); err != nil {
		return err
	}
	c.log.Debug("uploaded file", "src", srcPath, "bucket", bucket, "key", key)
	return nil
}

// UploadDir archives every regular file under dir to prefix, preserving the
// relative layout.
func (c *Client) UploadDir(ctx context.Context, bucket, prefix, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(prefix, "/") + "/" + filepath.ToSlash(rel)
		return c.UploadFile(ctx, bucket, key, path)
	})
}

func (c *Client) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	it := c.storageClient.Bucket(bucket).Objects(ctx2, &storage.Query{Prefix: prefix})
	out := []string{}
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs: list gs://%s/%s: %w", bucket, prefix, err)
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

func (c *Client) Close() error {
	if c == nil || c.storageClient == nil {
		return nil
	}
	return c.storageClient.Close()
}

func contentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".csv"):
		return "text/csv"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	case strings.HasSuffix(s, ".yaml"), strings.HasSuffix(s, ".yml"):
		return "application/yaml"
	default:
		return ""
	}
}
