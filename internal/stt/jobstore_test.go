package stt

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/dispatch-voice-agent/pkg/logging"
)

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	putErr       error
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	getOutput    *dynamodb.GetItemOutput
	getErr       error
}

func (m *mockDynamo) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = input
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, input)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}

func TestPutPendingPersistsDefaults(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "stt_jobs", logging.Default())

	job := &JobRecord{JobID: "job-123", EncodedPhone: "0049176"}
	if err := store.PutPending(context.Background(), job); err != nil {
		t.Fatalf("PutPending: %v", err)
	}
	if mock.putInput == nil {
		t.Fatalf("expected PutItem to be called")
	}

	var stored JobRecord
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("unmarshal stored job: %v", err)
	}
	if stored.Status != StatusPending {
		t.Fatalf("status = %q, want pending", stored.Status)
	}
	if stored.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expected TTL in the future")
	}
	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(jobId)" {
		t.Fatalf("expected condition expression, got %v", expr)
	}
}

func TestPutPendingRejectsNilJob(t *testing.T) {
	store := NewJobStore(&mockDynamo{}, "stt_jobs", logging.Default())
	if err := store.PutPending(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil job")
	}
}

func TestMarkCompletedSetsTranscript(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "stt_jobs", logging.Default())

	if err := store.MarkCompleted(context.Background(), "job-123", "Hauptstraße 5"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if len(mock.updateInputs) != 1 {
		t.Fatalf("update calls = %d, want 1", len(mock.updateInputs))
	}
	values := mock.updateInputs[0].ExpressionAttributeValues
	transcript, ok := values[":transcript"].(*types.AttributeValueMemberS)
	if !ok || transcript.Value != "Hauptstraße 5" {
		t.Fatalf("unexpected transcript value: %+v", values[":transcript"])
	}
}

func TestMarkFailedSetsErrorMessage(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "stt_jobs", logging.Default())

	if err := store.MarkFailed(context.Background(), "job-123", "vendor timeout"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	values := mock.updateInputs[0].ExpressionAttributeValues
	status, ok := values[":status"].(*types.AttributeValueMemberS)
	if !ok || status.Value != string(StatusFailed) {
		t.Fatalf("unexpected status value: %+v", values[":status"])
	}
}

func TestGetJobNotFoundReturnsErrJobNotFound(t *testing.T) {
	store := NewJobStore(&mockDynamo{}, "stt_jobs", logging.Default())
	_, err := store.GetJob(context.Background(), "missing")
	if err != ErrJobNotFound {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
}

func TestGetJobRequiresJobID(t *testing.T) {
	store := NewJobStore(&mockDynamo{}, "stt_jobs", logging.Default())
	if _, err := store.GetJob(context.Background(), ""); err == nil {
		t.Fatalf("expected error for empty jobID")
	}
}
