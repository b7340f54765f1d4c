package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describe el bucket de origen de los videos
type S3Config struct {
	Bucket          string
	Region          string
	Prefix          string
	Suffix          string
	Endpoint        string // endpoints compatibles (Spaces, MinIO)
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	Expires         time.Duration
}

// S3Signer genera URLs presignadas de GetObject sobre bucket/prefix+id+suffix
type S3Signer struct {
	presign *s3.PresignClient
	cfg     S3Config
}

var _ Signer = (*S3Signer)(nil)

// NewS3Signer carga la configuración AWS (credenciales estáticas si se dan)
func NewS3Signer(ctx context.Context, cfg S3Config) (*S3Signer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 signer: bucket is required")
	}
	if cfg.Expires <= 0 {
		cfg.Expires = DefaultExpiry
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRetryMode(aws.RetryModeAdaptive),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Signer{presign: s3.NewPresignClient(client), cfg: cfg}, nil
}

// ObjectKey devuelve la clave del objeto para un asset
func (s *S3Signer) ObjectKey(assetID string) string {
	return s.cfg.Prefix + assetID + s.cfg.Suffix
}

func (s *S3Signer) SignURL(ctx context.Context, assetID string, _ Purpose) (*SignedURL, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.ObjectKey(assetID)),
	}, s3.WithPresignExpires(s.cfg.Expires))
	if err != nil {
		return nil, fmt.Errorf("presign %s: %w", assetID, err)
	}

	return &SignedURL{URL: req.URL, ExpiresIn: s.cfg.Expires}, nil
}
