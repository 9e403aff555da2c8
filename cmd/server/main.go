// Command server runs the dispatch voice agent's HTTP surface: telephony
// webhooks, recording range serving, the location-share loop, and the
// dashboard auth boundary. Grounded on the teacher's cmd/api/main.go wiring
// idiom: godotenv, a package-level Config, explicit connect-and-ping helpers
// for Postgres/Redis, auto-migration via golang-migrate's iofs source, then
// a single router.New(cfg) handed to http.Server with signal-driven
// graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dispatch-voice-agent/cmd/mainconfig"
	"github.com/wolfman30/dispatch-voice-agent/internal/callflow"
	"github.com/wolfman30/dispatch-voice-agent/internal/callstate"
	"github.com/wolfman30/dispatch-voice-agent/internal/config"
	"github.com/wolfman30/dispatch-voice-agent/internal/dashboardauth"
	"github.com/wolfman30/dispatch-voice-agent/internal/geocode"
	"github.com/wolfman30/dispatch-voice-agent/internal/httpapi"
	"github.com/wolfman30/dispatch-voice-agent/internal/llm"
	"github.com/wolfman30/dispatch-voice-agent/internal/llmcache"
	"github.com/wolfman30/dispatch-voice-agent/internal/locationshare"
	"github.com/wolfman30/dispatch-voice-agent/internal/notify"
	"github.com/wolfman30/dispatch-voice-agent/internal/pricing"
	"github.com/wolfman30/dispatch-voice-agent/internal/providerstore"
	"github.com/wolfman30/dispatch-voice-agent/internal/providerstore/migrations"
	"github.com/wolfman30/dispatch-voice-agent/internal/recording"
	"github.com/wolfman30/dispatch-voice-agent/internal/stt"
	"github.com/wolfman30/dispatch-voice-agent/internal/telemetry"
	"github.com/wolfman30/dispatch-voice-agent/internal/telephony"
	"github.com/wolfman30/dispatch-voice-agent/internal/transferqueue"
	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting dispatch voice agent", "env", cfg.Env, "port", cfg.Port)

	appCtx, stop := context.WithCancel(context.Background())
	defer stop()

	redisClient := connectRedis(appCtx, cfg.RedisURL, logger)
	dbPool := connectPostgresPool(appCtx, cfg.DatabaseURL, logger)
	if dbPool != nil {
		defer dbPool.Close()
		runAutoMigrate(dbPool, logger)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(appCtx, cfg)
	if err != nil {
		logger.Error("failed to load aws config", "error", err)
		os.Exit(1)
	}

	callStore := callstate.New(redisClient)
	services := providerstore.New(dbPool)
	metrics := telemetry.New(prometheus.DefaultRegisterer)

	bedrockAPI := bedrockruntime.NewFromConfig(awsCfg)
	grokClient := llm.NewTaggedClient("grok", llm.NewBedrockClient(bedrockAPI, cfg.BedrockModel))
	geminiRaw, err := llm.NewGeminiClient(appCtx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		logger.Error("failed to build gemini client", "error", err)
		os.Exit(1)
	}
	defer geminiRaw.Close()
	gptClient := llm.NewTaggedClient("gpt", geminiRaw)

	orchestrator, err := llmcache.NewOrchestrator(cfg.CacheRoot, grokClient, gptClient, cfg.LLMLeadTimeout, logger, metrics)
	if err != nil {
		logger.Error("failed to build llm orchestrator", "error", err)
		os.Exit(1)
	}

	geo, err := geocode.New(geocode.Config{APIKey: cfg.MapsAPIKey, Logger: logger})
	if err != nil {
		logger.Error("failed to build geocode client", "error", err)
		os.Exit(1)
	}
	routes, err := pricing.NewRoutesClient(pricing.RoutesConfig{APIKey: cfg.RoutesAPIKey, Logger: logger})
	if err != nil {
		logger.Error("failed to build routes client", "error", err)
		os.Exit(1)
	}

	twilio, err := telephony.New(telephony.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build telephony client", "error", err)
		os.Exit(1)
	}
	recordingAuth := telephony.RecordingAuth{
		AccountSID: cfg.TwilioRecordingAccountID,
		AuthToken:  cfg.TwilioRecordingAuthToken,
	}

	transfers := transferqueue.New(callStore, logger)

	sqsClient := sqs.NewFromConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	sttQueue := stt.NewQueue(sqsClient, cfg.STTQueueURL)
	jobStore := stt.NewJobStore(dynamoClient, cfg.STTJobsTable, logger)
	transcriber := stt.NewHTTPTranscriber(cfg.STTVendorKey, "", nil, logger)
	// The server only ever calls Worker.Enqueue; Worker.Run (the consume
	// loop that actually transcribes) runs in cmd/stt-worker.
	sttWorker := stt.NewWorker(sttQueue, jobStore, transcriber, nil, logger)

	s3Client := s3.NewFromConfig(awsCfg)
	recordingStore := recording.NewStore(redisClient)
	recordingArchive := recording.NewArchive(s3Client, cfg.RecordingBucket, logger)
	recordingIngest := recording.NewIngest(recordingStore, recordingArchive, twilio, recordingAuth, logger)
	recordingServer := recording.NewServer(recordingStore)

	notifier := notify.NewStubTelegramNotifier(logger)

	flowCfg := callflow.Config{
		ServerURL:     cfg.ServerURL,
		RingTimeout:   cfg.RingTimeout,
		LLMTimeout:    cfg.LLMRaceTimeout,
		PLZTimeout:    cfg.PLZTimeout,
		SMSFromNumber: cfg.TwilioSMSFromNumber,
	}

	// locationshare.Service and callflow.Flow each need the other: the
	// flow generates links through the service, and the service calls
	// back into the flow once a caller shares their position. Build the
	// service with a forwarding closure, then point it at the real flow
	// once New has returned.
	var flow *callflow.Flow
	locationSvc := locationshare.New(callStore, cfg.ServerURL, func(ctx context.Context, phone string, loc callstate.Location) error {
		return flow.OnLocationShared(ctx, phone, loc)
	}, logger)

	flow = callflow.New(
		callStore, orchestrator, geo, routes, services, transfers, twilio,
		sttWorker, jobStore, locationSvc, notifier, metrics, logger, flowCfg,
	)

	var dashboardValidator dashboardauth.Validator
	var dashboardCache *dashboardauth.Cache
	if cfg.DashboardOIDCUserinfoURL != "" {
		dashboardValidator = dashboardauth.NewHTTPValidator(cfg.DashboardOIDCUserinfoURL, &http.Client{Timeout: 10 * time.Second})
		dashboardCache = dashboardauth.NewCache(redisClient)
	}

	handler := httpapi.New(httpapi.Config{
		Flow:               flow,
		RecordingServer:    recordingServer,
		RecordingIngest:    recordingIngest,
		LocationShare:      locationSvc,
		JobStatus:          jobStore,
		DashboardAuth:      dashboardValidator,
		DashboardAuthCache: dashboardCache,
		Logger:             logger,
		MetricsEnabled:     cfg.MetricsEnabled,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stop()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func connectRedis(ctx context.Context, redisURL string, logger *logging.Logger) *redis.Client {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Error("failed to ping redis", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to redis")
	return client
}

func connectPostgresPool(ctx context.Context, dbURL string, logger *logging.Logger) *pgxpool.Pool {
	if dbURL == "" {
		logger.Warn("no DATABASE_URL configured; provider store will be unavailable")
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(pingCtx, dbURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to postgres")
	return pool
}

func runAutoMigrate(pool *pgxpool.Pool, logger *logging.Logger) {
	migrateOnce(stdlib.OpenDBFromPool(pool), logger)
}

func migrateOnce(db *sql.DB, logger *logging.Logger) {
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Error("auto-migrate: failed to open migrations source", "error", err)
		return
	}
	dbDriver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		logger.Error("auto-migrate: failed to create db driver", "error", err)
		return
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Error("auto-migrate: failed to create migrator", "error", err)
		return
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		logger.Error("auto-migrate: migration failed", "error", err)
		return
	}
	logger.Info("auto-migrate: provider store migrations applied")
}
