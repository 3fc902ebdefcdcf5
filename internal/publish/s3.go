package publish

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jonathan/site-deployer/internal/types"
)

// s3API is the subset of the S3 client the target uses
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	PutBucketWebsite(ctx context.Context, params *s3.PutBucketWebsiteInput, optFns ...func(*s3.Options)) (*s3.PutBucketWebsiteOutput, error)
}

// S3Config holds configuration for S3Target
type S3Config struct {
	Bucket      string
	Region      string
	Endpoint    string // Optional custom endpoint (MinIO, LocalStack)
	SiteBaseURL string // Optional public base URL; defaults to the S3 website endpoint
}

// S3Target publishes each site under its own key prefix of a website bucket
type S3Target struct {
	client s3API
	cfg    S3Config
}

// NewS3 creates an S3 target using the default AWS credential chain
func NewS3(ctx context.Context, cfg S3Config) (*S3Target, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	})
	return newS3Target(client, cfg), nil
}

func newS3Target(client s3API, cfg S3Config) *S3Target {
	if cfg.SiteBaseURL == "" {
		cfg.SiteBaseURL = fmt.Sprintf("http://%s.s3-website-%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	cfg.SiteBaseURL = strings.TrimSuffix(cfg.SiteBaseURL, "/")
	return &S3Target{client: client, cfg: cfg}
}

// Kind implements Target
func (t *S3Target) Kind() string { return "s3" }

// CreateDestination ensures the bucket exists and reserves the <name>/ prefix
func (t *S3Target) CreateDestination(ctx context.Context, name string) (*Destination, error) {
	bucket := aws.String(t.cfg.Bucket)
	if _, err := t.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: bucket}); err != nil {
		input := &s3.CreateBucketInput{Bucket: bucket}
		if t.cfg.Region != "" && t.cfg.Region != "us-east-1" {
			input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
				LocationConstraint: s3types.BucketLocationConstraint(t.cfg.Region),
			}
		}
		if _, err := t.client.CreateBucket(ctx, input); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", t.cfg.Bucket, err)
		}
	}

	return &Destination{
		Name:     name,
		Owner:    t.cfg.Bucket,
		RepoURL:  fmt.Sprintf("s3://%s/%s/", t.cfg.Bucket, name),
		PagesURL: fmt.Sprintf("%s/%s/", t.cfg.SiteBaseURL, name),
	}, nil
}

// PutFiles uploads every file below the destination prefix
func (t *S3Target) PutFiles(ctx context.Context, dest *Destination, files types.Files) (string, error) {
	for _, p := range files.Paths() {
		key := path.Join(dest.Name, p)
		_, err := t.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(t.cfg.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(files[p]),
			ContentType: aws.String(contentType(p)),
		})
		if err != nil {
			return "", fmt.Errorf("s3 put failed for %s: %w", key, err)
		}
	}
	return TreeHash(files), nil
}

// EnableSite configures the bucket as a static website with index.html as index document
func (t *S3Target) EnableSite(ctx context.Context, _ *Destination) error {
	_, err := t.client.PutBucketWebsite(ctx, &s3.PutBucketWebsiteInput{
		Bucket: aws.String(t.cfg.Bucket),
		WebsiteConfiguration: &s3types.WebsiteConfiguration{
			IndexDocument: &s3types.IndexDocument{Suffix: aws.String("index.html")},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable website on bucket %s: %w", t.cfg.Bucket, err)
	}
	return nil
}

func contentType(p string) string {
	switch path.Base(p) {
	case "LICENSE":
		return "text/plain; charset=utf-8"
	case "README.md":
		return "text/markdown; charset=utf-8"
	}
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
