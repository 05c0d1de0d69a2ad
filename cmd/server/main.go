package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"

	"marketplace-inbox/attachment"
	"marketplace-inbox/auth"
	"marketplace-inbox/domain"
	"marketplace-inbox/domain/event"
	"marketplace-inbox/infrastructure/directory"
	"marketplace-inbox/infrastructure/httpapi"
	"marketplace-inbox/infrastructure/relay"
	"marketplace-inbox/moderation"
	"marketplace-inbox/observability"
	"marketplace-inbox/repositories"
	"marketplace-inbox/runtime"
	"marketplace-inbox/runtime/workers"
	"marketplace-inbox/search"
	"marketplace-inbox/services"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
	}
	os.Exit(code)
}

// run wires every component, starts the supervised workers and blocks until
// SIGINT/SIGTERM. Returning instead of exiting lets the deferred closes run.
func run() (int, error) {
	// A missing .env is fine, the real environment wins anyway.
	_ = godotenv.Load()

	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	plans, err := domain.LoadPlanCatalog(config.PlanLimitsFile)
	if err != nil {
		return exitConfig, err
	}
	tokens, err := auth.NewTokenIssuer(config.JWTSecret, config.TokenTTL)
	if err != nil {
		return exitConfig, err
	}
	var moderator *moderation.Moderator
	if config.ModerationFile != "" {
		mask := lo.FirstOr([]rune(config.ModerationMask), '*')
		if moderator, err = moderation.NewModeratorFromFile(config.ModerationFile, mask); err != nil {
			return exitConfig, fmt.Errorf("loading moderation words: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return exitRuntime, fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	gormDB, err := directory.Open(config.DirectoryDSN)
	if err != nil {
		return exitRuntime, err
	}
	if config.MigrateDirectory {
		if err = directory.Migrate(gormDB); err != nil {
			return exitRuntime, fmt.Errorf("directory migration failed: %w", err)
		}
	}
	defer func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	dir := directory.NewDirectory(gormDB, log)

	metrics := observability.NewMetrics()

	blobs, files, err := openBlobs(ctx, config, log)
	if err != nil {
		return exitRuntime, err
	}

	quota, closeQuota, err := openQuota(ctx, config, db, log)
	if err != nil {
		return exitRuntime, err
	}
	defer closeQuota()

	index, err := search.Open(log, config.SearchIndexPath)
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = index.Close() }()

	conversations := repositories.NewConversationRepository(db, log)
	messages := repositories.NewMessageRepository(db, log, config.MessagePageSize)
	attachments := repositories.NewAttachmentRepository(db, log)
	store := attachment.NewStore(log, blobs, quota, attachments, config.AttachmentURLTTL).
		OnOutcome(metrics.UploadOutcome)

	events := make(chan event.DomainEvent, config.EventBufferSize)
	publisher := runtime.NewChannelPublisher(log, events)

	registry := runtime.NewRegistry(log, config.SubscriptionBufferSize)
	registry.OnChange(metrics.ActiveSubscriptions)
	registry.OnDropped(func(kind runtime.ChannelKind) { metrics.SubscriberDropped(string(kind)) })

	inbox := services.NewInboxService(log, conversations, dir)
	notifier := runtime.NewNotifier(log, registry, inbox)
	conversationService := services.NewConversationService(log, conversations, dir, publisher).
		OnConflictRecovered(metrics.ConflictRecovered)

	supervisor := workers.NewSupervisor(log, config.RestartInterval).OnRestart(metrics.WorkerRestarted)

	localFanout := workers.NewEventFanout(log, events, config.SinkTimeout).
		WithName("local-fanout").
		Add(notifier, index, metrics)
	supervisor.Add(localFanout)

	if config.NatsURL != "" {
		origin := lo.Ternary(config.InstanceID != "", config.InstanceID, uuid.NewString())
		conn, err := relay.Connect(config.NatsURL, "marketplace-inbox-"+origin)
		if err != nil {
			return exitRuntime, err
		}
		defer conn.Drain() //nolint:errcheck
		remote := make(chan event.DomainEvent, config.EventBufferSize)
		eventRelay := relay.NewRelay(log, conn, origin, remote)
		localFanout.Add(eventRelay)
		// Remote events must not reach the relay again.
		remoteFanout := workers.NewEventFanout(log, remote, config.SinkTimeout).
			WithName("remote-fanout").
			Add(notifier, index)
		supervisor.Add(eventRelay, remoteFanout)
		log.Info("Relaying events over NATS", "url", config.NatsURL, "origin", origin)
	}

	janitor := workers.NewOrphanJanitor(log, attachments, blobs, config.OrphanSweepInterval, config.OrphanTTL).
		OnReclaimed(metrics.OrphansReclaimed)

	server := httpapi.NewServer(log, httpapi.Config{
		Addr:              config.Addr,
		AllowedOrigins:    splitList(config.AllowedOrigins),
		HeartbeatInterval: config.HeartbeatInterval,
		MaxUploadBytes:    config.MaxUploadMB << 20,
		ShutdownTimeout:   config.ShutdownTimeout,
	}, httpapi.Deps{
		Tokens:        tokens,
		Conversations: conversationService,
		Messages:      services.NewMessageService(log, conversations, messages, dir, plans, moderator, store, publisher),
		Inbox:         inbox,
		Attachments:   services.NewAttachmentService(log, conversations, dir, plans, store),
		Notifier:      notifier,
		Search:        index,
		Files:         files,
		Metrics:       metrics,
	})
	supervisor.Add(janitor, server)

	log.Info("Starting marketplace inbox", "addr", config.Addr, "at", time.Now().UTC())
	supervisor.Run(ctx)
	log.Info("Program stopped cleanly")
	return exitOK, nil
}

func splitList(raw string) []string {
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string { return strings.TrimSpace(s) }))
}
