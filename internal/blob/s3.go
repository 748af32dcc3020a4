package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	dErrors "trustid/pkg/domain-errors"
)

const defaultPresignTTL = 15 * time.Minute

// S3Config addresses an S3-compatible bucket (AWS or MinIO).
type S3Config struct {
	Region     string
	Endpoint   string
	AccessKey  string
	SecretKey  string
	Bucket     string
	PresignTTL time.Duration
}

type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store pins documents as objects keyed by their content hash and resolves
// them to presigned GET URLs.
type S3Store struct {
	objects objectAPI
	presign presignAPI
	bucket  string
	ttl     time.Duration
}

// NewS3Store loads AWS configuration with static credentials and a custom
// endpoint, as a MinIO deployment needs.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, s3.NewPresignClient(client), cfg.Bucket, cfg.PresignTTL), nil
}

func newS3Store(objects objectAPI, presign presignAPI, bucket string, ttl time.Duration) *S3Store {
	if ttl <= 0 {
		ttl = defaultPresignTTL
	}
	return &S3Store{objects: objects, presign: presign, bucket: bucket, ttl: ttl}
}

func (s *S3Store) Store(ctx context.Context, data []byte) (ContentHash, error) {
	if err := validateDocument(data); err != nil {
		return "", err
	}
	h := HashOf(data)
	_, err := s.objects.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(h.String()),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to pin document")
	}
	return h, nil
}

func (s *S3Store) Resolve(ctx context.Context, h ContentHash) (string, error) {
	key := h.String()
	_, err := s.objects.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		var missing *types.NotFound
		if errors.As(err, &missing) {
			return "", dErrors.New(dErrors.CodeNotFound, "document not found")
		}
		return "", dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to look up document")
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to presign document URL")
	}
	return req.URL, nil
}
