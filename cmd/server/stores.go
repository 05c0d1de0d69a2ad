package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"

	"marketplace-inbox/contract"
	"marketplace-inbox/infrastructure/blob"
	"marketplace-inbox/infrastructure/httpapi"
	"marketplace-inbox/repositories"
)

// openBlobs picks S3 when a bucket is configured. Only the disk store serves
// files itself, so files is nil with S3.
func openBlobs(ctx context.Context, config Config, log *slog.Logger) (contract.IBlobStore, httpapi.SignedFiles, error) {
	if config.S3Bucket != "" {
		store, err := blob.NewS3Store(ctx, log, blob.S3Config{
			Bucket:          config.S3Bucket,
			Region:          config.S3Region,
			Endpoint:        config.S3Endpoint,
			AccessKeyID:     config.S3AccessKey,
			SecretAccessKey: config.S3SecretKey,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("Attachments stored in S3", "bucket", config.S3Bucket)
		return store, nil, nil
	}

	secret := config.BlobSecret
	if secret == "" {
		secret = config.JWTSecret
	}
	store, err := blob.NewDiskStore(log, config.BlobDir, config.BlobBaseURL, []byte(secret))
	if err != nil {
		return nil, nil, fmt.Errorf("opening blob directory: %w", err)
	}
	log.Info("Attachments stored on disk", "dir", config.BlobDir)
	return store, store, nil
}

// openQuota shares the daily counters through Redis when configured, so every
// instance charges the same ledger. Badger is only correct for a single instance.
func openQuota(ctx context.Context, config Config, db *badger.DB, log *slog.Logger) (repositories.IQuotaLedger, func(), error) {
	if config.RedisURL == "" {
		return repositories.NewBadgerQuotaLedger(db, log), func() {}, nil
	}
	options, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(options)
	if err = client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis unreachable: %w", err)
	}
	log.Info("Upload quota kept in Redis", "addr", options.Addr)
	return repositories.NewRedisQuotaLedger(client, log), func() { _ = client.Close() }, nil
}
