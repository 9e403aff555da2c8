// Package stt implements the background speech-to-text job pipeline
// spec.md §4.1 relies on for the process-address → address-processed FSM
// transition: an SQS-backed job queue plus a DynamoDB job-status table,
// directly grounded on the teacher's internal/conversation.SQSQueue and
// internal/conversation.JobStore (PutPending/MarkCompleted/MarkFailed/
// GetJob against a narrow dynamoAPI interface), generalized from chat-
// conversation jobs to recording-transcription jobs.
package stt

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// Message is one received job queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Queue is the subset of SQS operations the job pipeline needs.
type Queue struct {
	client   *sqs.Client
	queueURL string
}

// NewQueue wraps an SQS client bound to a single queue URL.
func NewQueue(client *sqs.Client, queueURL string) *Queue {
	if client == nil {
		panic("stt: sqs client cannot be nil")
	}
	if queueURL == "" {
		panic("stt: queue url cannot be empty")
	}
	return &Queue{client: client, queueURL: queueURL}
}

// Send enqueues a job payload (a JSON-encoded JobRequest).
func (q *Queue) Send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("stt: send sqs message: %w", err)
	}
	return nil
}

// Receive long-polls for up to maxMessages jobs.
func (q *Queue) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]Message, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	})
	if err != nil {
		return nil, fmt.Errorf("stt: receive sqs messages: %w", err)
	}
	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// Delete removes a processed message so it isn't redelivered.
func (q *Queue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("stt: delete sqs message: %w", err)
	}
	return nil
}
