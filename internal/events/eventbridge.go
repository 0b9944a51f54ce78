package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/linnemanlabs/aegis/internal/fault"
)

// eventBridgeAPI is the slice of the EventBridge client the bus uses.
type eventBridgeAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, opts ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeBus publishes to a named EventBridge bus.
type EventBridgeBus struct {
	client  eventBridgeAPI
	busName string
}

// NewEventBridgeBus builds the AWS client from the default config chain.
func NewEventBridgeBus(ctx context.Context, busName, region string) (*EventBridgeBus, error) {
	if busName == "" {
		return nil, fault.New(fault.KindValidation, "event bus name required")
	}
	var loadOpts []func(*awscfg.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awscfg.WithRegion(region))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &EventBridgeBus{client: eventbridge.NewFromConfig(cfg), busName: busName}, nil
}

// PutEvents submits one transport call and maps per-entry failures.
func (b *EventBridgeBus) PutEvents(ctx context.Context, entries []Event) ([]EntryResult, error) {
	in := &eventbridge.PutEventsInput{}
	for _, ev := range entries {
		detail, err := json.Marshal(ev.Detail)
		if err != nil {
			return nil, fault.Wrap(fault.KindValidation, err, "marshal event detail")
		}
		in.Entries = append(in.Entries, types.PutEventsRequestEntry{
			Source:       aws.String(ev.Source),
			DetailType:   aws.String(ev.DetailType),
			Detail:       aws.String(string(detail)),
			EventBusName: aws.String(b.busName),
			Time:         aws.Time(ev.Time),
		})
	}

	out, err := b.client.PutEvents(ctx, in)
	if err != nil {
		return nil, fault.Wrap(fault.KindExternal, err, "eventbridge put events")
	}

	results := make([]EntryResult, len(entries))
	for i, entry := range out.Entries {
		if i >= len(results) {
			break
		}
		if entry.ErrorCode != nil {
			results[i].Err = fault.Newf(fault.KindExternal, "entry rejected: %s: %s",
				aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			continue
		}
		results[i].EventID = aws.ToString(entry.EventId)
	}
	return results, nil
}
