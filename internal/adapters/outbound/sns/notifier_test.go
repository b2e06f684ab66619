package sns

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"

	"github.com/archon-research/chainguard/internal/domain/entity"
	"github.com/archon-research/chainguard/internal/pkg/retry"
	"github.com/archon-research/chainguard/internal/ports/outbound"
)

type mockSNSClient struct {
	publishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	calls       []*sns.PublishInput
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{MessageId: aws.String("test-message-id")}, nil
}

const (
	testTopicARN = "arn:aws:sns:us-east-1:123456789:chainguard"
	fifoTopicARN = "arn:aws:sns:us-east-1:123456789:chainguard.fifo"
	testAccount  = "0xa11ce00000000000000000000000000000000001"
)

func fastRetry() retry.Config {
	return retry.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestNewNotifier_Validation(t *testing.T) {
	tests := []struct {
		name    string
		client  SNSPublisher
		config  Config
		wantErr string
	}{
		{"nil client", nil, Config{TopicARN: testTopicARN}, "sns client is required"},
		{"missing topic", &mockSNSClient{}, Config{}, "topic ARN is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewNotifier(tt.client, tt.config)
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("expected error %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewNotifier_AppliesDefaults(t *testing.T) {
	n, err := NewNotifier(&mockSNSClient{}, Config{TopicARN: testTopicARN})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.config.Retry.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", n.config.Retry.MaxRetries)
	}
	if n.fifo {
		t.Error("expected standard topic")
	}
}

func TestPublish_SnapshotEvent(t *testing.T) {
	client := &mockSNSClient{}
	n, err := NewNotifier(client, Config{TopicARN: testTopicARN})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	event := outbound.SnapshotEvent{
		ChainID:            11155111,
		Account:            testAccount,
		Generation:         7,
		CollateralRatioBps: 17500,
		RiskLevel:          entity.RiskModerate,
	}
	if err := n.Publish(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(client.calls))
	}
	call := client.calls[0]
	if *call.TopicArn != testTopicARN {
		t.Errorf("expected topic %s, got %s", testTopicARN, *call.TopicArn)
	}
	if call.MessageGroupId != nil {
		t.Errorf("expected no MessageGroupId on a standard topic, got %s", *call.MessageGroupId)
	}

	var decoded outbound.SnapshotEvent
	if err := json.Unmarshal([]byte(*call.Message), &decoded); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	if decoded.Generation != 7 || decoded.RiskLevel != entity.RiskModerate {
		t.Errorf("unexpected message: %+v", decoded)
	}

	checks := map[string]string{
		"eventType": "snapshot",
		"chainId":   "11155111",
		"account":   testAccount,
	}
	for name, want := range checks {
		attr, ok := call.MessageAttributes[name]
		if !ok {
			t.Errorf("expected attribute %s", name)
			continue
		}
		if *attr.StringValue != want {
			t.Errorf("expected %s=%s, got %s", name, want, *attr.StringValue)
		}
	}
}

func TestPublish_GlobalEventHasNoAccount(t *testing.T) {
	client := &mockSNSClient{}
	n, _ := NewNotifier(client, Config{TopicARN: fifoTopicARN})

	event := outbound.EmergencyEvent{ChainID: 1, Active: true, UnhealthyFeeds: []string{"ETH"}}
	if err := n.Publish(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	call := client.calls[0]
	if _, ok := call.MessageAttributes["account"]; ok {
		t.Error("expected no account attribute for a global event")
	}
	if call.MessageGroupId == nil || *call.MessageGroupId != "1" {
		t.Errorf("expected MessageGroupId=1, got %v", call.MessageGroupId)
	}
	if call.MessageDeduplicationId == nil || *call.MessageDeduplicationId == "" {
		t.Error("expected a deduplication ID on a FIFO topic")
	}
}

func TestPublish_FIFOGroupsByAccount(t *testing.T) {
	client := &mockSNSClient{}
	n, _ := NewNotifier(client, Config{TopicARN: fifoTopicARN})

	event := outbound.ActionEvent{ChainID: 1, Account: testAccount, Kind: entity.ActionDeposit, Outcome: entity.OutcomeConfirmed}
	if err := n.Publish(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "1:" + testAccount
	if got := *client.calls[0].MessageGroupId; got != want {
		t.Errorf("expected MessageGroupId=%s, got %s", want, got)
	}
}

func TestPublish_RetriesTransientErrors(t *testing.T) {
	attempts := 0
	client := &mockSNSClient{
		publishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			attempts++
			if attempts < 3 {
				return nil, &types.ThrottledException{Message: aws.String("slow down")}
			}
			return &sns.PublishOutput{}, nil
		},
	}
	n, _ := NewNotifier(client, Config{TopicARN: testTopicARN, Retry: fastRetry()})

	if err := n.Publish(context.Background(), outbound.EmergencyEvent{ChainID: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestPublish_NonRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"invalid parameter", &types.InvalidParameterException{Message: aws.String("bad")}},
		{"not found", &types.NotFoundException{Message: aws.String("no topic")}},
		{"authorization", &types.AuthorizationErrorException{Message: aws.String("denied")}},
		{"canceled", context.Canceled},
		{"client fault", &smithy.GenericAPIError{Code: "ValidationError", Fault: smithy.FaultClient}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockSNSClient{
				publishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
					return nil, tt.err
				},
			}
			n, _ := NewNotifier(client, Config{TopicARN: testTopicARN, Retry: fastRetry()})

			err := n.Publish(context.Background(), outbound.EmergencyEvent{ChainID: 1})
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected wrapped %v, got %v", tt.err, err)
			}
			if len(client.calls) != 1 {
				t.Errorf("expected 1 call, got %d", len(client.calls))
			}
		})
	}
}

func TestPublish_AfterClose(t *testing.T) {
	client := &mockSNSClient{}
	n, _ := NewNotifier(client, Config{TopicARN: testTopicARN})
	if err := n.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := n.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := n.Publish(context.Background(), outbound.EmergencyEvent{ChainID: 1}); err == nil {
		t.Fatal("expected error after close")
	}
	if len(client.calls) != 0 {
		t.Errorf("expected no calls, got %d", len(client.calls))
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, false},
		{"plain transport error", errors.New("connection reset"), true},
		{"server fault", &smithy.GenericAPIError{Code: "InternalError", Fault: smithy.FaultServer}, true},
		{"client throttled", &smithy.GenericAPIError{Code: "Throttling", Fault: smithy.FaultClient}, true},
		{"client invalid", &smithy.GenericAPIError{Code: "InvalidParameter", Fault: smithy.FaultClient}, false},
		{"not found", &types.NotFoundException{Message: aws.String("no topic")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
