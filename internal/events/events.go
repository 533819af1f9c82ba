// Package events publishes stage outcomes to Amazon EventBridge.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// Source is the EventBridge source of every stylist event.
const Source = "ai-virtual-stylist"

// Detail types.
const (
	DetailStageCompleted = "StageCompleted"
	DetailStageFailed    = "StageFailed"
)

// Putter is the part of *eventbridge.Client used by Emitter.
type Putter interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// StageEvent is the event detail for a resolved stage.
type StageEvent struct {
	SessionID   string `json:"sessionId"`
	Stage       string `json:"stage"`
	Phase       string `json:"phase"`
	Persona     string `json:"persona,omitempty"`
	ArtifactKey string `json:"artifactKey,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"durationMs"`
	Timestamp   string `json:"timestamp"`
}

// Emitter publishes stage events to one bus.
type Emitter struct {
	client Putter
	bus    string
}

// NewEmitter returns an Emitter for bus. An empty bus means the account's
// default event bus.
func NewEmitter(client Putter, bus string) *Emitter {
	return &Emitter{client: client, bus: bus}
}

// StageResolved publishes StageCompleted, or StageFailed when ev.Error is set.
func (e *Emitter) StageResolved(ctx context.Context, ev StageEvent) error {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	detailType := DetailStageCompleted
	if ev.Error != "" {
		detailType = DetailStageFailed
	}

	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", detailType, err)
	}

	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(detailType),
		Detail:     aws.String(string(detail)),
	}
	if e.bus != "" {
		entry.EventBusName = aws.String(e.bus)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", ev.SessionID).Str("detailType", detailType).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("sessionId", ev.SessionID).
					Str("detailType", detailType).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("sessionId", ev.SessionID).Str("detailType", detailType).Msg("Stage event emitted to EventBridge")
	return nil
}
