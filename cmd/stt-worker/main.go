// Command stt-worker drains the background transcription queue: it pulls
// recorded-address jobs off SQS, calls the STT vendor, and records the
// result in DynamoDB for the server's address-processed poll loop to pick
// up (the SQS and DynamoDB rows of SPEC_FULL.md's domain stack).
// Grounded on the teacher's cmd/conversation-worker/main.go: a thin binary
// that wires the same collaborators as the API server, then blocks in a
// consume loop instead of serving HTTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/wolfman30/dispatch-voice-agent/cmd/mainconfig"
	"github.com/wolfman30/dispatch-voice-agent/internal/config"
	"github.com/wolfman30/dispatch-voice-agent/internal/stt"
	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

// sttVendorEndpointEnv is read separately from STTVendorKey: the vendor's
// transcription URL has no dedicated config field yet (SPEC_FULL.md marks
// the vendor binding itself out of core scope), so it rides in on a plain
// env var until a concrete vendor is chosen.
const sttVendorEndpointEnv = "STT_VENDOR_ENDPOINT"

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting stt worker", "env", cfg.Env, "queue_url", cfg.STTQueueURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load aws config", "error", err)
		os.Exit(1)
	}

	sqsClient := sqs.NewFromConfig(awsCfg)
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	queue := stt.NewQueue(sqsClient, cfg.STTQueueURL)
	jobs := stt.NewJobStore(dynamoClient, cfg.STTJobsTable, logger)
	transcriber := stt.NewHTTPTranscriber(cfg.STTVendorKey, os.Getenv(sttVendorEndpointEnv), &http.Client{Timeout: 60 * time.Second}, logger)

	onDone := func(ctx context.Context, encodedPhone, transcript string) error {
		logger.Info("stt: transcription completed", "encoded_phone", encodedPhone, "transcript_len", len(transcript))
		return nil
	}

	worker := stt.NewWorker(queue, jobs, transcriber, onDone, logger)

	concurrency := cfg.STTWorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger.Info("stt worker ready", "concurrency", concurrency)

	done := make(chan struct{}, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			worker.Run(ctx, 10)
			done <- struct{}{}
		}()
	}

	<-ctx.Done()
	logger.Info("stt worker shutting down")
	for i := 0; i < concurrency; i++ {
		<-done
	}
	logger.Info("stt worker stopped")
}
