package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

// eventSource tags entries published by the harness.
const eventSource = "nedlia.perf-test"

// EventBridgeConfig configures an EventBridge sink.
type EventBridgeConfig struct {
	BusName  string `yaml:"bus_name"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // custom endpoint for localstack, empty for AWS
}

// Validate checks configuration.
func (c *EventBridgeConfig) Validate() error {
	if c.BusName == "" {
		return fmt.Errorf("sink: eventbridge bus name is required")
	}
	return nil
}

// ApplyDefaults fills in default values.
func (c *EventBridgeConfig) ApplyDefaults() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
}

// putEventsAPI is the slice of the EventBridge client the sink uses.
type putEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridge publishes events to an EventBridge bus, one entry per
// event, with the full event JSON as the detail document.
type EventBridge struct {
	cfg    EventBridgeConfig
	api    putEventsAPI
	logger *zap.Logger
}

// NewEventBridge creates an EventBridge sink. When a custom endpoint
// is configured (localstack), static dummy credentials are used so
// the SDK does not reach for instance metadata.
func NewEventBridge(ctx context.Context, cfg EventBridgeConfig, logger *zap.Logger) (*EventBridge, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("test", "test", "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sink: load aws config: %w", err)
	}

	api := eventbridge.NewFromConfig(awsCfg, func(o *eventbridge.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &EventBridge{cfg: cfg, api: api, logger: logger}, nil
}

// Publish puts one entry on the bus.
func (e *EventBridge) Publish(ctx context.Context, event *Event) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return &PublishError{Sink: "eventbridge", Err: err}
	}

	out, err := e.api.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{{
			Source:       aws.String(eventSource),
			DetailType:   aws.String(event.Type),
			Detail:       aws.String(string(detail)),
			EventBusName: aws.String(e.cfg.BusName),
		}},
	})
	if err != nil {
		return &PublishError{Sink: "eventbridge", Err: err}
	}
	if out.FailedEntryCount > 0 {
		return &PublishError{Sink: "eventbridge",
			Err: fmt.Errorf("%d entries rejected", out.FailedEntryCount)}
	}
	return nil
}
