package sink

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ═══════════════════════════════════════════
// S3 backend (AWS SDK v2)
// ═══════════════════════════════════════════

// S3Client writes batch objects to Amazon S3 or any S3-compatible
// store. Credentials come from the default AWS chain; explicit keys in
// the backend config or env vars override it.
//
// Config example:
//
//	{
//	  "provider": "s3",
//	  "bucket_name": "my-data-lake",
//	  "config": {
//	    "region": "us-east-1",
//	    "endpoint": "http://localhost:9000"
//	  }
//	}
type S3Client struct {
	client *s3.Client
}

// NewS3Client initialises the S3 client from the backend config block.
func NewS3Client(ctx context.Context, cfg map[string]any) (*S3Client, error) {
	region := resolve(cfg, "region", "AWS_REGION", "us-east-1")

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	accessKey := resolve(cfg, "access_key_id", "AWS_ACCESS_KEY_ID", "")
	secretKey := resolve(cfg, "secret_access_key", "AWS_SECRET_ACCESS_KEY", "")
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	// Optional custom endpoint (e.g. MinIO, LocalStack)
	endpoint := resolve(cfg, "endpoint", "AWS_S3_ENDPOINT", "")

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 load config: %w", err)
	}

	s3Opts := []func(*s3.Options){}
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // required for MinIO / LocalStack
		})
	}

	return &S3Client{client: s3.NewFromConfig(awsCfg, s3Opts...)}, nil
}

func (c *S3Client) Bucket(name string) Bucket {
	return &s3Bucket{client: c.client, name: name}
}

func (c *S3Client) Close() error { return nil }

type s3Bucket struct {
	client *s3.Client
	name   string
}

func (b *s3Bucket) Object(name string) Object {
	return &s3Object{client: b.client, bucket: b.name, key: name}
}

type s3Object struct {
	client *s3.Client
	bucket string
	key    string
}

func (o *s3Object) UploadFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("s3 open %s: %w", path, err)
	}
	defer f.Close()

	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.bucket),
		Key:         aws.String(o.key),
		Body:        f,
		ContentType: aws.String(ObjectContentType(o.key)),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}
