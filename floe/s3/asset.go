// Package s3 provides an S3-backed asset for floe.
//
// The asset resolves resource names to object URLs and serves the ranged
// byte reads an HDF5 provider issues against those objects. It works with
// AWS S3, MinIO, LocalStack, and other S3-compatible stores.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// ErrNotFound indicates the requested object does not exist.
var ErrNotFound = errors.New("s3: object not found")

// API defines the subset of the S3 client interface used by the asset.
// This enables testing with mock implementations.
type API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Config holds asset configuration.
type Config struct {
	// Bucket is the S3 bucket holding the resources. Required.
	Bucket string

	// Prefix is an optional key prefix prepended to resource names.
	Prefix string
}

// Asset maps resource names to objects in one bucket and serves ranged
// reads over them. It implements floe.Asset.
type Asset struct {
	client API
	bucket string
	prefix string
}

// New creates an asset over an existing client.
func New(client API, cfg Config) (*Asset, error) {
	if client == nil {
		return nil, errors.New("s3: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Asset{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// NewFromConfig creates an asset using the default AWS configuration chain.
// Pass a non-empty accessKey/secretKey pair to pin static credentials
// (useful against MinIO and LocalStack).
func NewFromConfig(ctx context.Context, cfg Config, region, accessKey, secretKey string) (*Asset, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	if accessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}
	return New(s3.NewFromConfig(awsCfg), cfg)
}

// key maps a resource name to its object key.
func (a *Asset) key(resource string) string {
	return a.prefix + resource
}

// Resolve maps a resource name to its object URL.
func (a *Asset) Resolve(resource string) (string, error) {
	if resource == "" {
		return "", errors.New("s3: resource name is required")
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, a.key(resource)), nil
}

// Size returns the object size of a resource.
func (a *Asset) Size(ctx context.Context, resource string) (int64, error) {
	out, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(resource)),
	})
	if err != nil {
		return 0, mapError(err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

// ReadRange reads length bytes of a resource starting at offset, via an
// HTTP Range request. Reads past the end return the available suffix.
func (a *Asset) ReadRange(ctx context.Context, resource string, offset, length int64) ([]byte, error) {
	if offset < 0 || length <= 0 {
		return nil, fmt.Errorf("s3: invalid range [%d, +%d)", offset, length)
	}

	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(resource)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)),
	})
	if err != nil {
		return nil, mapError(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read body: %w", err)
	}
	return data, nil
}

// ReaderAt returns a stateless io.ReaderAt over one resource. Each ReadAt
// issues an independent ranged request; it is safe for concurrent use.
func (a *Asset) ReaderAt(ctx context.Context, resource string) io.ReaderAt {
	return &readerAt{asset: a, ctx: ctx, resource: resource}
}

type readerAt struct {
	asset    *Asset
	ctx      context.Context
	resource string
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data, err := r.asset.ReadRange(r.ctx, r.resource, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	n := copy(p, data)
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// mapError normalizes not-found conditions to ErrNotFound.
func mapError(err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NotFound" || code == "NoSuchKey" || code == "404" {
			return ErrNotFound
		}
	}
	return err
}
