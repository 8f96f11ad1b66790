package state

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
)

// S3API is the subset of the S3 client used for state objects
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Backend struct {
	client S3API
	bucket string
	key    string
}

// NewS3Store creates a store backed by s3://bucket/key using the default AWS
// credential chain.
func NewS3Store(ctx context.Context, region, bucket, key string, logger *zap.Logger) (*BlobStore, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if region != "" {
		optFns = append(optFns, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, err
	}
	return NewS3StoreWithClient(s3.NewFromConfig(cfg), bucket, key, logger), nil
}

// NewS3StoreWithClient creates an S3 store on an existing client
func NewS3StoreWithClient(client S3API, bucket, key string, logger *zap.Logger) *BlobStore {
	return newBlobStore(&s3Backend{client: client, bucket: bucket, key: key}, logger)
}

func (s *s3Backend) read(ctx context.Context) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	var noSuchKey *types.NoSuchKey
	if stderrors.As(err, &noSuchKey) {
		return nil, errObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *s3Backend) write(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *s3Backend) location() string {
	return "s3://" + s.bucket + "/" + s.key
}

// The S3 client holds no connections that need releasing
func (s *s3Backend) close() error {
	return nil
}
