// Package notify publishes consolidated anomaly reports.
package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"
)

// Subject is the fixed subject line of every report.
const Subject = "AWS Billing Anomaly Tracker"

// Notifier is a fire-and-forget report sink.
type Notifier interface {
	Publish(ctx context.Context, topicARN, message string) error
}

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier implements Notifier on SNS.
type SNSNotifier struct {
	client SNSAPI
	logger *zap.Logger
}

var _ Notifier = (*SNSNotifier)(nil)

// NewSNSNotifier creates an SNSNotifier.
func NewSNSNotifier(client SNSAPI, logger *zap.Logger) *SNSNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SNSNotifier{client: client, logger: logger}
}

// Publish sends the report to the topic.
func (n *SNSNotifier) Publish(ctx context.Context, topicARN, message string) error {
	_, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Subject:  aws.String(Subject),
		Message:  aws.String(message),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topicARN, err)
	}
	n.logger.Info("Published anomaly report", zap.String("topic_arn", topicARN))
	return nil
}
