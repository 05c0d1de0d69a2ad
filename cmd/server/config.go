package main

import "time"

type Config struct {
	LogLevel         string        `env:"LOG_LEVEL,default=INFO"`
	Addr             string        `env:"HTTP_ADDR,default=:8080"`
	AllowedOrigins   string        `env:"CORS_ALLOWED_ORIGINS"`
	BadgerFilepath   string        `env:"BADGER_FILEPATH,required=true"`
	DirectoryDSN     string        `env:"DIRECTORY_DSN,required=true"`
	MigrateDirectory bool          `env:"DIRECTORY_MIGRATE,default=false"`
	JWTSecret        string        `env:"JWT_SECRET,required=true"`
	TokenTTL         time.Duration `env:"JWT_TTL,default=24h"`
	PlanLimitsFile   string        `env:"PLAN_LIMITS_FILE"`
	ModerationFile   string        `env:"MODERATION_WORDS_FILE"`
	ModerationMask   string        `env:"MODERATION_MASK,default=*"`
	SearchIndexPath  string        `env:"SEARCH_INDEX_PATH"`
	RedisURL         string        `env:"REDIS_URL"`
	NatsURL          string        `env:"NATS_URL"`
	InstanceID       string        `env:"INSTANCE_ID"`

	// Blobs go to S3 when S3_BUCKET is set, to BLOB_DIR otherwise.
	BlobDir          string        `env:"BLOB_DIR,default=./data/blobs"`
	BlobBaseURL      string        `env:"BLOB_BASE_URL,default=http://localhost:8080/files"`
	BlobSecret       string        `env:"BLOB_SIGNING_SECRET"`
	S3Bucket         string        `env:"S3_BUCKET"`
	S3Region         string        `env:"S3_REGION,default=us-east-1"`
	S3Endpoint       string        `env:"S3_ENDPOINT"`
	S3AccessKey      string        `env:"S3_ACCESS_KEY_ID"`
	S3SecretKey      string        `env:"S3_SECRET_ACCESS_KEY"`
	AttachmentURLTTL time.Duration `env:"ATTACHMENT_URL_TTL,default=1h"`
	MaxUploadMB      int64         `env:"MAX_UPLOAD_MB,default=32"`

	EventBufferSize        int           `env:"EVENT_BUFFER_SIZE,default=1024"`
	SubscriptionBufferSize int           `env:"SUBSCRIPTION_BUFFER_SIZE,default=64"`
	SinkTimeout            time.Duration `env:"SINK_TIMEOUT,default=2s"`
	RestartInterval        time.Duration `env:"RESTART_INTERVAL,default=1s"`
	HeartbeatInterval      time.Duration `env:"SSE_HEARTBEAT,default=25s"`
	MessagePageSize        int           `env:"MESSAGE_PAGE_SIZE,default=50"`
	OrphanSweepInterval    time.Duration `env:"ORPHAN_SWEEP_INTERVAL,default=15m"`
	OrphanTTL              time.Duration `env:"ORPHAN_TTL,default=24h"`
	ShutdownTimeout        time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
}
