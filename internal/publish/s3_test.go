package publish

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/site-deployer/internal/observability"
	"github.com/jonathan/site-deployer/internal/types"
)

type fakeS3 struct {
	bucketExists bool
	created      *s3.CreateBucketInput
	objects      map[string][]byte
	contentTypes map[string]string
	website      *s3.PutBucketWebsiteInput
	putErr       error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (f *fakeS3) HeadBucket(_ context.Context, _ *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if !f.bucketExists {
		return nil, errors.New("NotFound")
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.created = in
	f.bucketExists = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = body
	f.contentTypes[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) PutBucketWebsite(_ context.Context, in *s3.PutBucketWebsiteInput, _ ...func(*s3.Options)) (*s3.PutBucketWebsiteOutput, error) {
	f.website = in
	return &s3.PutBucketWebsiteOutput{}, nil
}

func TestS3Target_Publish(t *testing.T) {
	client := newFakeS3()
	target := newS3Target(client, S3Config{Bucket: "sites", Region: "eu-west-1"})

	files := types.Files{"index.html": []byte("<h1>x</h1>"), "LICENSE": []byte("MIT License"), "attachments/data.csv": []byte("a,b")}
	out := Publish(context.Background(), target, "shop-1", files, observability.Discard())

	require.Equal(t, types.StatusOK, out.Status)
	assert.Equal(t, "s3://sites/shop-1/", *out.Location.RepoURL)
	assert.Equal(t, "http://sites.s3-website-eu-west-1.amazonaws.com/shop-1/", *out.Location.PagesURL)
	assert.Equal(t, TreeHash(files), *out.Location.CommitSHA)

	require.NotNil(t, client.created)
	require.NotNil(t, client.created.CreateBucketConfiguration)
	assert.Equal(t, "eu-west-1", string(client.created.CreateBucketConfiguration.LocationConstraint))

	assert.Equal(t, []byte("<h1>x</h1>"), client.objects["shop-1/index.html"])
	assert.Equal(t, []byte("a,b"), client.objects["shop-1/attachments/data.csv"])
	assert.Contains(t, client.contentTypes["shop-1/index.html"], "text/html")
	assert.Equal(t, "text/plain; charset=utf-8", client.contentTypes["shop-1/LICENSE"])

	require.NotNil(t, client.website)
	assert.Equal(t, "index.html", aws.ToString(client.website.WebsiteConfiguration.IndexDocument.Suffix))
}

func TestS3Target_ExistingBucketUsDefault(t *testing.T) {
	client := newFakeS3()
	client.bucketExists = true
	target := newS3Target(client, S3Config{Bucket: "sites", Region: "us-east-1", SiteBaseURL: "https://cdn.example.com/"})

	dest, err := target.CreateDestination(context.Background(), "blog")
	require.NoError(t, err)
	assert.Nil(t, client.created)
	assert.Equal(t, "https://cdn.example.com/blog/", dest.PagesURL)
}

func TestS3Target_PutFailureDegrades(t *testing.T) {
	client := newFakeS3()
	client.putErr = errors.New("access denied")
	target := newS3Target(client, S3Config{Bucket: "sites", Region: "us-east-1"})

	out := Publish(context.Background(), target, "shop-2", types.Files{"index.html": []byte("x")}, observability.Discard())

	assert.Equal(t, types.StatusDegraded, out.Status)
	assert.Equal(t, "s3://sites/shop-2/", *out.Location.RepoURL)
	assert.Nil(t, out.Location.PagesURL)
	assert.Nil(t, client.website)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/markdown; charset=utf-8", contentType("README.md"))
	assert.Equal(t, "application/octet-stream", contentType("blob.unknownext"))
	assert.Contains(t, contentType("x/style.css"), "text/css")
}
