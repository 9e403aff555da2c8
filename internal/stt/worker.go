package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

// Transcriber is the narrow surface against the external STT vendor
// (spec.md §1: "the TTS/STT vendor bindings" are an out-of-core
// collaborator; the worker only depends on this interface).
type Transcriber interface {
	Transcribe(ctx context.Context, recordingURL string) (string, error)
}

// OnTranscribed is an optional hook invoked once a job's transcript is ready
// and recorded. The call FSM's process-address → address-processed
// transition does not depend on it: the FSM polls the job status instead.
type OnTranscribed func(ctx context.Context, encodedPhone, transcript string) error

// NewJobID mints a correlation id for a new transcription job.
func NewJobID() string {
	return uuid.NewString()
}

// jobQueue is the subset of *Queue the worker loop calls, narrowed so
// tests can substitute an in-memory fake instead of a real SQS client.
type jobQueue interface {
	Receive(ctx context.Context, maxMessages, waitSeconds int) ([]Message, error)
	Send(ctx context.Context, body string) error
	Delete(ctx context.Context, receiptHandle string) error
}

// jobRecorder is the subset of *JobStore the worker loop calls.
type jobRecorder interface {
	PutPending(ctx context.Context, job *JobRecord) error
	MarkCompleted(ctx context.Context, jobID, transcript string) error
	MarkFailed(ctx context.Context, jobID, errMsg string) error
}

// Worker drains the SQS job queue, transcribes each recording and records
// the result, mirroring the teacher's conversation.Worker receive-process-
// delete loop generalized to a single job kind.
type Worker struct {
	queue       jobQueue
	jobs        jobRecorder
	transcriber Transcriber
	onDone      OnTranscribed
	logger      *logging.Logger
}

// NewWorker builds a Worker. onDone may be nil if nothing needs to react
// synchronously (e.g. in tests).
func NewWorker(queue *Queue, jobs *JobStore, transcriber Transcriber, onDone OnTranscribed, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{queue: queue, jobs: jobs, transcriber: transcriber, onDone: onDone, logger: logger}
}

// Run polls the queue until ctx is canceled, processing jobs as they
// arrive. waitSeconds controls the SQS long-poll duration.
func (w *Worker) Run(ctx context.Context, waitSeconds int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, 10, waitSeconds)
		if err != nil {
			w.logger.Warn("stt: receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range messages {
			w.processOne(ctx, msg)
		}
	}
}

func (w *Worker) processOne(ctx context.Context, msg Message) {
	var req JobRequest
	if err := json.Unmarshal([]byte(msg.Body), &req); err != nil {
		w.logger.Error("stt: malformed job message, dropping", "message_id", msg.ID, "error", err)
		_ = w.queue.Delete(ctx, msg.ReceiptHandle)
		return
	}

	transcript, err := w.transcriber.Transcribe(ctx, req.RecordingURL)
	if err != nil {
		w.logger.Warn("stt: transcription failed", "job_id", req.JobID, "error", err)
		if markErr := w.jobs.MarkFailed(ctx, req.JobID, err.Error()); markErr != nil {
			w.logger.Error("stt: failed to record job failure", "job_id", req.JobID, "error", markErr)
		}
		_ = w.queue.Delete(ctx, msg.ReceiptHandle)
		return
	}

	if err := w.jobs.MarkCompleted(ctx, req.JobID, transcript); err != nil {
		w.logger.Error("stt: failed to record job completion", "job_id", req.JobID, "error", err)
	}

	if w.onDone != nil {
		if err := w.onDone(ctx, req.EncodedPhone, transcript); err != nil {
			w.logger.Warn("stt: completion callback failed", "job_id", req.JobID, "error", err)
		}
	}

	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		w.logger.Warn("stt: failed to delete processed message", "message_id", msg.ID, "error", err)
	}
}

// Enqueue submits a new transcription job.
func (w *Worker) Enqueue(ctx context.Context, req JobRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("stt: marshal job request: %w", err)
	}
	if err := w.queue.Send(ctx, string(body)); err != nil {
		return err
	}
	return w.jobs.PutPending(ctx, &JobRecord{JobID: req.JobID, EncodedPhone: req.EncodedPhone})
}
