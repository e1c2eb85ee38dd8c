package storage

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Options configures an S3 (or S3 compatible) bucket.
type S3Options struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
}

// S3Storage keeps blobs as objects in an S3 bucket, optionally under a key prefix.
type S3Storage struct {
	bucket   string
	prefix   string
	client   s3iface.S3API
	uploader *s3manager.Uploader
}

// NewS3Storage builds a client from the default AWS credential chain.
func NewS3Storage(opts S3Options) (*S3Storage, error) {
	cfg := aws.NewConfig().WithRegion(opts.Region)
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return NewS3StorageWithClient(s3.New(sess), opts), nil
}

// NewS3StorageWithClient wraps an existing S3 API client.
func NewS3StorageWithClient(client s3iface.S3API, opts S3Options) *S3Storage {
	return &S3Storage{
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}
}

func (s *S3Storage) remoteKey(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if s.prefix == "" {
		return cleaned, nil
	}
	return s.prefix + "/" + cleaned, nil
}

func (s *S3Storage) Save(ctx context.Context, key string, reader io.Reader, contentType string) (int64, error) {
	remote, err := s.remoteKey(key)
	if err != nil {
		return 0, err
	}
	counter := &countingReader{r: reader}
	input := s3manager.UploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(remote),
		Body:   counter,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.UploadWithContext(ctx, &input); err != nil {
		return 0, err
	}
	return counter.n, nil
}

func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	remote, err := s.remoteKey(key)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(remote),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return resp.Body, nil
}

// Delete removes the object. S3 does not report missing keys on delete, so this never returns ErrNotExist.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	remote, err := s.remoteKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(remote),
	})
	return err
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
