package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/xerrors"
)

type S3Config struct {
	Bucket string
	// EndpointURL overrides the S3 endpoint, e.g. for MinIO.
	EndpointURL string
}

type s3Storage struct {
	client *s3.Client
	bucket string
}

func NewS3Storage(ctx context.Context, s S3Config) (Storage, error) {
	c, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, xerrors.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(c, func(o *s3.Options) {
		o.UsePathStyle = true
		if s.EndpointURL != "" {
			o.BaseEndpoint = aws.String(s.EndpointURL)
		}
	})

	return &s3Storage{
		client: client,
		bucket: s.Bucket,
	}, nil
}

func (s *s3Storage) url(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func (s *s3Storage) Put(ctx context.Context, key string, data []byte) (string, error) {
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(http.DetectContentType(data)),
	}); err != nil {
		return "", xerrors.Errorf("failed to upload %s: %w", key, err)
	}

	return s.url(key), nil
}

// Get accepts either an s3:// URL inside the configured bucket or a bare key.
func (s *s3Storage) Get(ctx context.Context, url string) ([]byte, error) {
	key := strings.TrimPrefix(url, s.url(""))
	if strings.HasPrefix(key, "s3://") {
		return nil, xerrors.Errorf("object %s is outside bucket %s", url, s.bucket)
	}

	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to download %s: %w", url, err)
	}
	defer output.Body.Close()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", url, err)
	}

	return data, nil
}
