// Package sqs enqueues alerts on an Amazon SQS queue.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

type sender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Notifier sends JSON-encoded alerts to a queue.
type Notifier struct {
	client   sender
	queueURL string
}

// New loads the default AWS configuration and returns a notifier for
// queueURL. An empty region falls back to the environment.
func New(ctx context.Context, queueURL, region string) (*Notifier, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load aws config: %w", err)
	}
	return NewWithClient(sqs.NewFromConfig(awsCfg), queueURL), nil
}

// NewWithClient wraps an existing SQS client.
func NewWithClient(client *sqs.Client, queueURL string) *Notifier {
	return &Notifier{client: client, queueURL: queueURL}
}

// Notify implements watch.Notifier.
func (n *Notifier) Notify(ctx context.Context, alert watch.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"target_id": {DataType: aws.String("String"), StringValue: aws.String(targetOrDefault(alert.TargetID))},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to send alert: %w", err)
	}
	return nil
}

// SQS rejects empty attribute values.
func targetOrDefault(id string) string {
	if id == "" {
		return watch.DefaultTarget
	}
	return id
}
