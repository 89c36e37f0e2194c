// Package queue carries work items and completion signals over SQS.
//
// Delivery is at-least-once: consumers tolerate duplicates (result writes
// are full overwrites) and messages are deleted individually only after
// their item has been handled.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

const (
	// MaxReceiveBatch is the largest batch one receive call returns.
	MaxReceiveBatch = 10

	// DefaultWaitSeconds enables long polling on receive.
	DefaultWaitSeconds = 20
)

// SQSAPI is the subset of the SQS client used by both queues.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// WorkMessage is the work-queue body: one usage type to evaluate for a job.
type WorkMessage struct {
	JobID     string `json:"job_id"`
	UsageType string `json:"category"`
}

// Delivery is one received message plus the handle needed to delete it.
type Delivery struct {
	Body          string
	ReceiptHandle string
}

// queueClient holds the shared send/receive/delete plumbing.
type queueClient struct {
	client SQSAPI
	url    string
	logger *zap.Logger
}

func (q *queueClient) send(ctx context.Context, body string) error {
	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.url),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", q.url, err)
	}
	return nil
}

func (q *queueClient) receive(ctx context.Context, max int32) ([]Delivery, error) {
	if max <= 0 || max > MaxReceiveBatch {
		max = MaxReceiveBatch
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.url),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     DefaultWaitSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", q.url, err)
	}

	deliveries := make([]Delivery, 0, len(out.Messages))
	for _, m := range out.Messages {
		deliveries = append(deliveries, Delivery{
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return deliveries, nil
}

func (q *queueClient) delete(ctx context.Context, receiptHandle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.url),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", q.url, err)
	}
	return nil
}

// WorkQueue carries one message per work item from dispatcher to processors.
type WorkQueue struct {
	queueClient
}

// NewWorkQueue creates a WorkQueue on the given queue URL.
func NewWorkQueue(client SQSAPI, url string, logger *zap.Logger) *WorkQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkQueue{queueClient{client: client, url: url, logger: logger}}
}

// PublishWorkItem enqueues one usage type for processing.
func (q *WorkQueue) PublishWorkItem(ctx context.Context, jobID, usageType string) error {
	body, err := json.Marshal(WorkMessage{JobID: jobID, UsageType: usageType})
	if err != nil {
		return fmt.Errorf("marshal work message: %w", err)
	}
	q.logger.Debug("Publishing work item",
		zap.String("job_id", jobID),
		zap.String("usage_type", usageType))
	return q.send(ctx, string(body))
}

// Receive long-polls for up to max work deliveries.
func (q *WorkQueue) Receive(ctx context.Context, max int32) ([]Delivery, error) {
	return q.receive(ctx, max)
}

// Delete acknowledges one handled delivery.
func (q *WorkQueue) Delete(ctx context.Context, receiptHandle string) error {
	return q.delete(ctx, receiptHandle)
}

// DecodeWork parses a work-queue body.
func DecodeWork(body string) (WorkMessage, error) {
	var msg WorkMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return WorkMessage{}, fmt.Errorf("decode work message: %w", err)
	}
	if msg.JobID == "" || msg.UsageType == "" {
		return WorkMessage{}, fmt.Errorf("work message missing job_id or category: %q", body)
	}
	return msg, nil
}

// CompletionQueue carries bare job-id completion signals to the finalizer.
type CompletionQueue struct {
	queueClient
}

// NewCompletionQueue creates a CompletionQueue on the given queue URL.
func NewCompletionQueue(client SQSAPI, url string, logger *zap.Logger) *CompletionQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionQueue{queueClient{client: client, url: url, logger: logger}}
}

// PublishCompletion signals that work for the job has progressed. The body
// is the bare job id, no envelope.
func (q *CompletionQueue) PublishCompletion(ctx context.Context, jobID string) error {
	q.logger.Debug("Publishing completion signal", zap.String("job_id", jobID))
	return q.send(ctx, jobID)
}

// Receive long-polls for up to max completion deliveries.
func (q *CompletionQueue) Receive(ctx context.Context, max int32) ([]Delivery, error) {
	return q.receive(ctx, max)
}

// Delete acknowledges one handled delivery.
func (q *CompletionQueue) Delete(ctx context.Context, receiptHandle string) error {
	return q.delete(ctx, receiptHandle)
}
