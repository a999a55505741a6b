package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/NikhilSetiya/servermon/pkg/config"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaHandler
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// AlertNotification is the message consumed by the notification service
// from the alert_notification topic.
type AlertNotification struct {
	AlertID    string `json:"alert_id"`
	AlertName  string `json:"alert_name"`
	Severity   int    `json:"severity"`
	Status     string `json:"status"`
	UserID     int    `json:"user_id"`
	Message    string `json:"message"`
	MetricName string `json:"metric_name"`
	Value      int    `json:"value"`
	Threshold  int    `json:"threshold"`
}

// NewKafkaWriter creates a writer for the configured brokers and topic
func NewKafkaWriter(cfg *config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: true,
	}
}

// KafkaHandler forwards alert lifecycle events. Sample events are ignored.
type KafkaHandler struct {
	writer MessageWriter
	userID int
}

// NewKafkaHandler creates a handler addressing notifications to userID
func NewKafkaHandler(writer MessageWriter, userID int) *KafkaHandler {
	if userID < 1 {
		userID = 1
	}
	return &KafkaHandler{writer: writer, userID: userID}
}

func (h *KafkaHandler) Handle(ctx context.Context, event Event) error {
	if event.Alert == nil {
		return nil
	}

	a := event.Alert
	msg := AlertNotification{
		AlertID:    strconv.FormatInt(a.ID, 10),
		AlertName:  a.Title,
		Severity:   int(a.Severity),
		Status:     alertStatus(event.Type),
		UserID:     h.userID,
		Message:    a.Message,
		MetricName: a.Kind.String(),
		Value:      int(math.Round(a.ActualValue)),
		Threshold:  int(math.Round(a.ThresholdValue)),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert notification: %w", err)
	}

	err = h.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(TargetGroup(a.TargetID)),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("write alert notification: %w", err)
	}
	return nil
}

func (h *KafkaHandler) Name() string {
	return "kafka"
}

func alertStatus(t EventType) string {
	switch t {
	case EventAlertAcknowledged:
		return "acknowledged"
	case EventAlertResolved:
		return "resolved"
	default:
		return "firing"
	}
}
