package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Client is the subset of the S3 API used by S3Storage.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config contains configuration for S3 storage.
type S3Config struct {
	Bucket         string
	Region         string
	AccessKeyID    string
	SecretKey      string
	Endpoint       string // optional, for S3-compatible services
	ForcePathStyle bool   // MinIO and friends
	Prefix         string
	MaxSize        int64
}

// S3Storage keeps objects in a bucket. Locations have the form s3://bucket/key.
type S3Storage struct {
	client  S3Client
	bucket  string
	prefix  string
	maxSize int64
}

// NewS3Storage builds an S3 client from cfg. Static credentials are used when
// given, otherwise the default AWS credential chain.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage: empty bucket")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewS3StorageWithClient(client, cfg), nil
}

// NewS3StorageWithClient wires an existing client, mostly for tests.
func NewS3StorageWithClient(client S3Client, cfg S3Config) *S3Storage {
	return &S3Storage{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		maxSize: cfg.MaxSize,
	}
}

// Save uploads r under prefix/key.
func (s *S3Storage) Save(ctx context.Context, key string, r io.Reader) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if s.prefix != "" {
		key = s.prefix + "/" + key
	}
	// PutObject needs a known length for unseekable bodies, so buffer through a counting reader.
	body, size, err := readAllLimited(r, s.maxSize)
	if err != nil {
		return nil, err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: put object %s: %w", key, err)
	}
	return &Object{Key: key, Location: s.location(key), Size: size}, nil
}

// Delete removes the object referenced by location.
func (s *S3Storage) Delete(ctx context.Context, location string) error {
	key, ok := strings.CutPrefix(location, "s3://"+s.bucket+"/")
	if !ok || key == "" {
		return ErrInvalidKey
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("storage: delete object %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) location(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func readAllLimited(r io.Reader, max int64) (*strings.Reader, int64, error) {
	var sb strings.Builder
	n, err := io.Copy(&sb, newLimitReader(r, max))
	if err != nil {
		return nil, 0, err
	}
	return strings.NewReader(sb.String()), n, nil
}
