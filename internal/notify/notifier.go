package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"security-monitor/internal/client"
	"security-monitor/internal/model"
	"security-monitor/internal/util"
)

// Notifier delivers generated alerts to the operations team. Delivery is
// fire-and-forget from the monitor's point of view: a failing sink must
// never block or fail event ingestion.
type Notifier interface {
	Notify(ctx context.Context, alert *model.Alert) error
}

// KafkaNotifier publishes alerts as JSON to the alert topic, keyed by alert
// type so consumers can partition by detection kind.
type KafkaNotifier struct {
	producer *client.KafkaProducer
	topic    string
	logger   *zap.Logger
}

func NewKafkaNotifier(producer *client.KafkaProducer, topic string, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, alert *model.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if err := n.producer.ProduceMessage(ctx, n.topic, []byte(alert.Type), payload); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	util.Debug("alert published",
		zap.String("alert_id", alert.AlertID),
		zap.String("type", string(alert.Type)),
		zap.String("topic", n.topic))
	return nil
}

// NopNotifier is used when Kafka is disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, *model.Alert) error { return nil }
