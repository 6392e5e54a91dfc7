package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/sirupsen/logrus"
)

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3KV stores snapshot envelopes as objects in an S3 compatible bucket.
type S3KV struct {
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
	bucket   string
	prefix   string
	log      *logrus.Entry
}

var _ KV = (*S3KV)(nil)

func NewS3KV(logger *logrus.Logger, cfg S3Config) (*S3KV, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}

	return &S3KV{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		log: logger.WithFields(logrus.Fields{
			"component": "s3_kv",
			"bucket":    cfg.Bucket,
		}),
	}, nil
}

func (s *S3KV) objectKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return path.Join(s.prefix, key)
}

func (s *S3KV) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get %q: %w", key, classifyS3Error(err))
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read %q: %w", key, err)
	}
	return content, nil
}

func (s *S3KV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"key": key, "bytes": len(value)}).WithError(err).Warn("Snapshot upload failed")
		return fmt.Errorf("s3 upload %q: %w", key, classifyS3Error(err))
	}
	return nil
}

func (s *S3KV) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if errors.Is(classifyS3Error(err), ErrNotFound) {
			return nil
		}
		return fmt.Errorf("s3 delete %q: %w", key, err)
	}
	return nil
}

// classifyS3Error maps S3 error codes onto the KV sentinel errors. Uploads
// wrap the service error in a MultiUploadFailure, which also satisfies
// awserr.Error with the original code.
func classifyS3Error(err error) error {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return err
	}

	switch aerr.Code() {
	case s3.ErrCodeNoSuchKey, "NotFound":
		return fmt.Errorf("%w: %s", ErrNotFound, aerr.Message())
	case "QuotaExceeded", "ServiceQuotaExceeded", "EntityTooLarge", "QuotaExceededException":
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, aerr.Message())
	default:
		return err
	}
}
