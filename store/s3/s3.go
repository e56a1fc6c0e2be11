// Package s3 stores image bodies in an S3 or S3-compatible bucket.
// Location URLs have the form s3://<bucket>/<key>.
package s3

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/api/types"
	"github.com/openstack/glance-sub003/errdefs"
)

// Config configures the S3 backend.
type Config struct {
	// Bucket receives uploaded bodies.
	Bucket string

	// Prefix is prepended to object keys, for sharing a bucket.
	Prefix string

	Region string

	// Endpoint overrides the AWS endpoint for S3-compatible stores.
	// Non-empty endpoints force path-style addressing.
	Endpoint string

	// AccessKey and SecretKey are static credentials. Empty falls back
	// to the ambient AWS credential chain.
	AccessKey string
	SecretKey string
}

// Backend is the S3 store driver.
type Backend struct {
	client   *awss3.Client
	uploader *manager.Uploader
	cfg      Config
}

// New builds a Backend from cfg.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 store: bucket is required")
	}
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "s3 store: loading AWS configuration")
	}
	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &Backend{
		client:   client,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
	}, nil
}

func (b *Backend) split(loc types.Location) (bucket, key string, err error) {
	u, err := url.Parse(loc.URL)
	if err != nil || u.Scheme != "s3" || u.Host == "" {
		return "", "", errdefs.InvalidParameter(errors.Errorf("s3 store: bad location %q", loc.URL))
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

func (b *Backend) key(imageID string) string {
	return path.Join(b.cfg.Prefix, imageID)
}

// Get opens a read stream for the object at loc.
func (b *Backend) Get(ctx context.Context, loc types.Location) (io.ReadCloser, int64, error) {
	bucket, key, err := b.split(loc)
	if err != nil {
		return nil, -1, err
	}
	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, -1, errdefs.NotFound(errors.Errorf("s3 store: no image body at %q", loc.URL))
		}
		return nil, -1, errdefs.Unavailable(errors.Wrapf(err, "s3 store: fetching %q", loc.URL))
	}
	size := int64(-1)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// Put streams r into the bucket via multipart upload, hashing the bytes
// as they pass through. Multipart keeps memory flat for bodies of
// unknown length.
func (b *Backend) Put(ctx context.Context, imageID string, r io.Reader, expectedSize int64) (string, int64, string, error) {
	h := md5.New()
	counter := &countingReader{r: io.TeeReader(r, h)}
	key := b.key(imageID)
	_, err := b.uploader.Upload(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
		Body:   counter,
	})
	if err != nil {
		// Best-effort cleanup of whatever multipart state landed.
		if _, derr := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
			Bucket: aws.String(b.cfg.Bucket),
			Key:    aws.String(key),
		}); derr != nil {
			log.G(ctx).WithError(derr).WithField("image", imageID).Warn("s3 store: cleaning up failed upload")
		}
		return "", counter.n, "", errdefs.Unavailable(errors.Wrapf(err, "s3 store: uploading image %s", imageID))
	}
	loc := "s3://" + b.cfg.Bucket + "/" + key
	return loc, counter.n, hex.EncodeToString(h.Sum(nil)), nil
}

// Delete removes the object at loc.
func (b *Backend) Delete(ctx context.Context, loc types.Location) error {
	bucket, key, err := b.split(loc)
	if err != nil {
		return err
	}
	if _, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return errdefs.Unavailable(errors.Wrapf(err, "s3 store: deleting %q", loc.URL))
	}
	return nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
