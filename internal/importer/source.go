// Package importer loads descriptor corpora from JSON files on local disk or
// in S3-compatible object storage and writes them to a descriptor repository.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrInvalidLocation is returned for an s3:// location without a bucket or key.
var ErrInvalidLocation = errors.New("s3 location must look like s3://bucket/key")

// Source yields the raw JSON document of an import.
type Source interface {
	Open(ctx context.Context) (io.ReadCloser, error)
	// Name identifies the source in logs.
	Name() string
}

// FileSource reads a local file.
type FileSource struct {
	Path string
}

// Open opens the file.
func (s FileSource) Open(ctx context.Context) (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open import file: %w", err)
	}
	return f, nil
}

// Name returns the file path.
func (s FileSource) Name() string {
	return s.Path
}

// ObjectGetter is the subset of the S3 client used for imports.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads one object from an S3 or R2 bucket.
type S3Source struct {
	Client ObjectGetter
	Bucket string
	Key    string
}

// Open fetches the object body. The caller closes it.
func (s S3Source) Open(ctx context.Context) (io.ReadCloser, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Key),
	})
	if err != nil {
		return nil, fmt.Errorf("get s3 object %s: %w", s.Name(), err)
	}
	return out.Body, nil
}

// Name returns the s3:// location.
func (s S3Source) Name() string {
	return "s3://" + s.Bucket + "/" + s.Key
}

// S3Config holds the object storage connection settings.
type S3Config struct {
	// Endpoint is the S3-compatible base URL (e.g. an R2 account endpoint).
	// Empty uses the AWS default for Region.
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Client builds a path-style S3 client. Without static keys the client
// makes anonymous requests, which works for public buckets.
func NewS3Client(cfg S3Config) *s3.Client {
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	opts := s3.Options{
		Region:       region,
		UsePathStyle: true,
	}
	if cfg.AccessKeyID != "" {
		opts.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		))
	} else {
		opts.Credentials = aws.AnonymousCredentials{}
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// ParseS3Location splits s3://bucket/key. ok is false for other locations.
func ParseS3Location(location string) (bucket, key string, ok bool, err error) {
	rest, found := strings.CutPrefix(location, "s3://")
	if !found {
		return "", "", false, nil
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", true, ErrInvalidLocation
	}
	return bucket, key, true, nil
}

// SourceFor returns an S3Source for s3:// locations and a FileSource otherwise.
// newClient is only called for S3 locations.
func SourceFor(location string, newClient func() ObjectGetter) (Source, error) {
	bucket, key, isS3, err := ParseS3Location(location)
	if err != nil {
		return nil, err
	}
	if isS3 {
		return S3Source{Client: newClient(), Bucket: bucket, Key: key}, nil
	}
	return FileSource{Path: location}, nil
}
