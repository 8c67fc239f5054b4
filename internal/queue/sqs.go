package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

// Compile-time check that SQSClient implements Client.
var _ Client = (*SQSClient)(nil)

// maxBatch is the SQS limit on messages per receive call.
const maxBatch = 10

// ErrQueueURLRequired is returned when the queue URL is empty.
var ErrQueueURLRequired = errors.New("queue: SQS queue URL is required")

// sqsAPI is the subset of the SQS client used here.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, in *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, in *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSClient implements Client on Amazon SQS.
type SQSClient struct {
	api      sqsAPI
	queueURL string
	waitTime int32
	logger   *slog.Logger
}

// SQSOption configures an SQSClient.
type SQSOption func(*SQSClient)

// WithWaitTime sets the receive long-poll wait in seconds (0..20).
// Zero makes Receive return immediately on an empty queue.
func WithWaitTime(seconds int) SQSOption {
	return func(c *SQSClient) {
		if seconds >= 0 && seconds <= 20 {
			c.waitTime = int32(seconds)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SQSOption {
	return func(c *SQSClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// withAPI replaces the SQS API, used by tests.
func withAPI(api sqsAPI) SQSOption {
	return func(c *SQSClient) {
		c.api = api
	}
}

// NewSQSClient creates a queue client for queueURL.
func NewSQSClient(awsCfg aws.Config, queueURL string, opts ...SQSOption) (*SQSClient, error) {
	if queueURL == "" {
		return nil, ErrQueueURLRequired
	}

	c := &SQSClient{
		queueURL: queueURL,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.api == nil {
		c.api = sqs.NewFromConfig(awsCfg)
	}

	c.logger.Info("SQS client initialized", slog.String("queue_url", queueURL))
	return c, nil
}

// Receive returns up to maxCount parsed messages.
func (c *SQSClient) Receive(ctx context.Context, maxCount int) ([]Message, error) {
	if maxCount <= 0 {
		return nil, nil
	}
	if maxCount > maxBatch {
		maxCount = maxBatch
	}

	out, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: int32(maxCount),
		WaitTimeSeconds:     c.waitTime,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		c.logger.Error("failed to receive messages from SQS", slog.String("error", err.Error()))
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgID := aws.ToString(m.MessageId)
		if m.Body == nil || m.ReceiptHandle == nil || m.MessageId == nil {
			c.logger.Warn("invalid SQS message received", slog.String("message_id", msgID))
			continue
		}

		body, err := ParseJobMessage([]byte(*m.Body))
		if err != nil {
			c.logger.Error("failed to parse SQS message",
				slog.String("message_id", msgID),
				slog.String("error", err.Error()),
			)
			continue
		}

		messages = append(messages, Message{
			ID:            msgID,
			ReceiptHandle: *m.ReceiptHandle,
			ReceiveCount:  receiveCount(m.Attributes),
			Body:          body,
		})
		c.logger.Debug("received SQS message",
			slog.String("message_id", msgID),
			slog.String("job_id", body.JobID),
		)
	}

	if len(messages) > 0 {
		c.logger.Info("received messages from SQS", slog.Int("count", len(messages)))
	}
	return messages, nil
}

// Acknowledge deletes the message. An invalid or expired receipt handle
// means the message is already gone and is not reported.
func (c *SQSClient) Acknowledge(ctx context.Context, receiptHandle string) error {
	_, err := c.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		if isGoneReceipt(err) {
			c.logger.Debug("message already deleted", slog.String("receipt_handle", shortHandle(receiptHandle)))
			return nil
		}
		c.logger.Error("failed to delete message from SQS",
			slog.String("receipt_handle", shortHandle(receiptHandle)),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("delete message: %w", err)
	}

	c.logger.Debug("deleted message from SQS", slog.String("receipt_handle", shortHandle(receiptHandle)))
	return nil
}

// ExtendVisibility changes the message's visibility timeout.
func (c *SQSClient) ExtendVisibility(ctx context.Context, receiptHandle string, seconds int) error {
	_, err := c.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(seconds),
	})
	if err != nil {
		return fmt.Errorf("change message visibility: %w", err)
	}

	c.logger.Debug("changed message visibility",
		slog.String("receipt_handle", shortHandle(receiptHandle)),
		slog.Int("visibility_timeout", seconds),
	)
	return nil
}

// Stats returns the approximate number of visible and in-flight messages.
func (c *SQSClient) Stats(ctx context.Context) (Stats, error) {
	out, err := c.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(c.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("get queue attributes: %w", err)
	}

	visible, _ := strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)])
	inFlight, _ := strconv.Atoi(out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)])
	return Stats{Visible: visible, InFlight: inFlight}, nil
}

func receiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func isGoneReceipt(err error) bool {
	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ReceiptHandleIsInvalid"
	}
	return false
}

func shortHandle(h string) string {
	if len(h) > 20 {
		return h[:20]
	}
	return h
}
