// Package queue provides SQS-based message producers. Its single producer
// publishes operator alerts: conditions the system can survive but a human
// must investigate, such as a billing confirmation for a contract the ledger
// does not know about.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"contracthub/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Alert kinds published by the reconciliation and batch paths.
const (
	AlertContractNotFound  = "contract_not_found"
	AlertLedgerWriteFailed = "ledger_write_failed"
	AlertAmountDivergence  = "amount_divergence"
)

// OperatorAlertPublisher sends OperatorAlert messages to the operator queue.
// When no queue URL is configured the publisher degrades to structured
// logging, so local development does not need SQS at all.
type OperatorAlertPublisher struct {
	client   SQSSender
	queueURL string
	clock    types.Clock
	logger   *slog.Logger
}

// NewOperatorAlertPublisher creates a publisher for the given queue URL.
// An empty queueURL or nil client selects log-only mode.
func NewOperatorAlertPublisher(client SQSSender, queueURL string, logger *slog.Logger) *OperatorAlertPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperatorAlertPublisher{
		client:   client,
		queueURL: queueURL,
		clock:    types.RealClock{},
		logger:   logger,
	}
}

// Publish sends an operator alert. Publishing never fails the caller's
// operation: a webhook must still be acknowledged even when the alert queue
// is down, so errors here are logged and swallowed.
func (p *OperatorAlertPublisher) Publish(ctx context.Context, kind string, message string, details map[string]any) {
	alert := types.OperatorAlert{
		ID:         uuid.New().String(),
		Kind:       kind,
		Message:    message,
		Details:    details,
		OccurredAt: p.clock.Now(),
	}

	if p.client == nil || p.queueURL == "" {
		p.logger.WarnContext(ctx, "operator alert (log-only mode)",
			"kind", kind,
			"message", message,
			"details", details,
		)
		return
	}

	body, err := json.Marshal(alert)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal operator alert",
			"kind", kind,
			"error", err,
		)
		return
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(kind),
			},
		},
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish operator alert",
			"kind", kind,
			"queue_url", p.queueURL,
			"error", fmt.Sprintf("%v", err),
		)
		return
	}

	p.logger.InfoContext(ctx, "operator alert published",
		"alert_id", alert.ID,
		"kind", kind,
	)
}
