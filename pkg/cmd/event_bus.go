package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/tideflow-io/tideflow/pkg/channels/gochannel"
	"github.com/tideflow-io/tideflow/pkg/channels/kafka"
	"github.com/tideflow-io/tideflow/pkg/eventbus"
)

// NewEventBus creates the lifecycle event bus. "kafka" uses the brokers from
// KAFKA_BROKERS; everything else falls back to an in-process channel.
func NewEventBus(provider string, logger *slog.Logger) eventbus.EventBus {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, "tideflow")
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-process pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	}
}
