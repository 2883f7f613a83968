package sink

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ═══════════════════════════════════════════
// GCS backend (cloud.google.com/go/storage)
// ═══════════════════════════════════════════

// GCSClient writes batch objects to Google Cloud Storage.
// Authentication uses Application Default Credentials (ADC).
// Set GOOGLE_APPLICATION_CREDENTIALS or use
// `gcloud auth application-default login`.
//
// Config example:
//
//	{
//	  "provider": "gcs",
//	  "bucket_name": "my-data-lake",
//	  "config": {"project": "my-gcp-project"}
//	}
type GCSClient struct {
	client *storage.Client
}

// NewGCSClient initialises the GCS client using ADC. An optional
// "project" backend key (or GCP_PROJECT) sets the quota project when
// the credentials' default project is not the billed one.
func NewGCSClient(ctx context.Context, cfg map[string]any) (*GCSClient, error) {
	var opts []option.ClientOption
	if project := resolve(cfg, "project", "GCP_PROJECT", ""); project != "" {
		opts = append(opts, option.WithQuotaProject(project))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs new client: %w", err)
	}
	return &GCSClient{client: client}, nil
}

func (c *GCSClient) Bucket(name string) Bucket {
	return &gcsBucket{bucket: c.client.Bucket(name)}
}

func (c *GCSClient) Close() error {
	return c.client.Close()
}

type gcsBucket struct {
	bucket *storage.BucketHandle
}

func (b *gcsBucket) Object(name string) Object {
	return &gcsObject{obj: b.bucket.Object(name), name: name}
}

type gcsObject struct {
	obj  *storage.ObjectHandle
	name string
}

func (o *gcsObject) UploadFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("gcs open %s: %w", path, err)
	}
	defer f.Close()

	w := o.obj.NewWriter(ctx)
	w.ContentType = ObjectContentType(o.name)

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close writer: %w", err)
	}
	return nil
}
