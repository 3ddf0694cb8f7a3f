package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

const DefaultOperationTimeout = 30 * time.Second

var ErrObjectNotFound = errors.New("object not found")

// S3API is the subset of the S3 client used by S3Service.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

type S3Service struct {
	client     S3API
	bucketName string
	timeout    time.Duration
}

func NewS3Service(client S3API, bucketName string, timeout time.Duration) *S3Service {
	if timeout <= 0 {
		timeout = DefaultOperationTimeout
	}
	return &S3Service{client: client, bucketName: bucketName, timeout: timeout}
}

func (service *S3Service) Bucket() string {
	return service.bucketName
}

// Each call gets its own child context so a stuck request is cancelled
// without affecting the caller's other work.

func (service *S3Service) Download(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, service.timeout)
	defer cancel()

	resp, err := service.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(service.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, service.bucketName, key)
		}
		return nil, fmt.Errorf("couldn't download object with key: %s, AWS error: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object data: %w", err)
	}
	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("S3 download success")
	return data, nil
}

func (service *S3Service) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, service.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:            aws.String(service.bucketName),
		Key:               aws.String(key),
		Body:              bytes.NewReader(data),
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := service.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("couldn't upload object with key: %s, AWS error: %w", key, err)
	}
	log.Debug().Str("key", key).Int("bytes", len(data)).Msg("S3 upload success")
	return nil
}

// Copy duplicates src to dst within the bucket.
func (service *S3Service) Copy(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, service.timeout)
	defer cancel()

	_, err := service.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(service.bucketName),
		CopySource: aws.String(service.bucketName + "/" + src),
		Key:        aws.String(dst),
	})
	if err != nil {
		var noSuchKey *s3types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return fmt.Errorf("%w: s3://%s/%s", ErrObjectNotFound, service.bucketName, src)
		}
		return fmt.Errorf("couldn't copy object %s to %s, AWS error: %w", src, dst, err)
	}
	return nil
}

// Delete removes key. S3 reports success for keys that do not exist.
func (service *S3Service) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, service.timeout)
	defer cancel()

	_, err := service.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(service.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("couldn't delete object with key: %s, AWS error: %w", key, err)
	}
	return nil
}
