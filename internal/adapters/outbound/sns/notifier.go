// Package sns publishes snapshot, emergency and action notifications to an
// AWS SNS topic as JSON messages.
//
// Message attributes allow subscribers to filter:
//   - eventType: "snapshot", "emergency" or "action"
//   - chainId: the chain ID as a number
//   - account: the lowercase hex account, absent for global events
//
// FIFO topics (ARN ending in ".fifo") are grouped by chain and account so
// each account's notifications are delivered in order.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/archon-research/chainguard/internal/pkg/retry"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

var _ outbound.EventSink = (*Notifier)(nil)

// SNSPublisher is the subset of the SNS client used by Notifier.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS notifier.
type Config struct {
	TopicARN string

	// Retry bounds publish retries on transient failures.
	Retry retry.Config

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		Retry: retry.Config{
			MaxRetries:     3,
			InitialBackoff: 100 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			BackoffFactor:  2.0,
		},
		Logger: slog.Default(),
	}
}

// Notifier implements outbound.EventSink over SNS.
type Notifier struct {
	client    SNSPublisher
	config    Config
	fifo      bool
	logger    *slog.Logger
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewNotifier creates a new SNS notifier.
func NewNotifier(client SNSPublisher, config Config) (*Notifier, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.Retry == (retry.Config{}) {
		config.Retry = defaults.Retry
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Notifier{
		client: client,
		config: config,
		fifo:   strings.HasSuffix(config.TopicARN, ".fifo"),
		logger: config.Logger.With("component", "sns-notifier"),
	}, nil
}

// Publish sends the event, retrying transient failures.
func (n *Notifier) Publish(ctx context.Context, event outbound.Event) error {
	n.mu.RLock()
	closed := n.closed
	n.mu.RUnlock()
	if closed {
		return errors.New("notifier is closed")
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(n.config.TopicARN),
		Message:           aws.String(string(body)),
		MessageAttributes: attributes(event),
	}
	if n.fifo {
		input.MessageGroupId = aws.String(groupID(event))
		input.MessageDeduplicationId = aws.String(uuid.NewString())
	}

	onRetry := func(attempt int, err error, backoff time.Duration) {
		n.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"eventType", event.EventType(),
			"error", err)
	}
	err = retry.DoVoid(ctx, n.config.Retry, isRetryableError, onRetry, func() error {
		_, err := n.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish to SNS: %w", err)
	}
	return nil
}

func attributes(event outbound.Event) map[string]types.MessageAttributeValue {
	attrs := map[string]types.MessageAttributeValue{
		"eventType": {
			DataType:    aws.String("String"),
			StringValue: aws.String(string(event.EventType())),
		},
		"chainId": {
			DataType:    aws.String("Number"),
			StringValue: aws.String(strconv.FormatInt(event.GetChainID(), 10)),
		},
	}
	if account := event.GetAccount(); account != "" {
		attrs["account"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(account),
		}
	}
	return attrs
}

func groupID(event outbound.Event) string {
	id := strconv.FormatInt(event.GetChainID(), 10)
	if account := event.GetAccount(); account != "" {
		id += ":" + account
	}
	return id
}

// isRetryableError treats everything except cancellation and client-side
// request errors as transient.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var invalidParam *types.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return false
	}
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return false
	}
	var authErr *types.AuthorizationErrorException
	if errors.As(err, &authErr) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return throttlingCodes[apiErr.ErrorCode()]
	}
	return true
}

var throttlingCodes = map[string]bool{
	"Throttling":           true,
	"ThrottlingException":  true,
	"ThrottledException":   true,
	"RequestLimitExceeded": true,
}

// Close stops further publishing.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()
		n.logger.Info("SNS notifier closed")
	})
	return nil
}
