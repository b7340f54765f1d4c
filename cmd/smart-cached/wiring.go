package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/elsanchez/smart-cache/internal/config"
	"github.com/elsanchez/smart-cache/internal/repository"
	"github.com/elsanchez/smart-cache/internal/repository/memory"
	"github.com/elsanchez/smart-cache/internal/repository/redis"
	"github.com/elsanchez/smart-cache/internal/repository/sqlite"
	"github.com/elsanchez/smart-cache/internal/signer"
)

// openStore crea el ChunkStore del backend configurado
func openStore(ctx context.Context, cfg *config.Config) (repository.ChunkStore, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		var opts []sqlite.Option
		if cfg.Storage.QuotaBytes > 0 {
			opts = append(opts, sqlite.WithQuota(cfg.Storage.QuotaBytes))
		}
		db, err := sqlite.NewDatabase(cfg.DataDir, opts...)
		if err != nil {
			return nil, err
		}
		return db.Store, nil

	case "redis":
		return redis.NewStore(ctx, redis.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
			Prefix:   cfg.Storage.Redis.Prefix,
		})

	case "memory":
		return memory.NewStore(cfg.Storage.QuotaBytes), nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// newSigner crea el signer del modo configurado
func newSigner(ctx context.Context, cfg *config.Config) (signer.Signer, error) {
	switch cfg.Signer.Mode {
	case "api":
		return signer.NewAPISigner(cfg.Signer.API.BaseURL, cfg.Signer.API.Token, &http.Client{Timeout: 30 * time.Second})

	case "s3":
		s3cfg := cfg.Signer.S3
		return signer.NewS3Signer(ctx, signer.S3Config{
			Bucket:          s3cfg.Bucket,
			Region:          s3cfg.Region,
			Prefix:          s3cfg.Prefix,
			Suffix:          s3cfg.Suffix,
			Endpoint:        s3cfg.Endpoint,
			Profile:         s3cfg.Profile,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			Expires:         s3cfg.Expires,
		})

	case "template":
		return signer.NewTemplateSigner(cfg.Signer.Template.URL)
	}

	return nil, fmt.Errorf("unknown signer mode %q", cfg.Signer.Mode)
}
