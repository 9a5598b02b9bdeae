package messaging

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

// OutboxNotifier доставляет операционные уведомления через transactional
// outbox: запись фиксируется вместе с бизнес-операцией, а воркер публикует
// её в Kafka. Потеря алерта при падении процесса исключена.
type OutboxNotifier struct {
	outbox domain.OutboxRepository
	logger *log.Entry
}

// NewOutboxNotifier создаёт notifier поверх outbox.
func NewOutboxNotifier(outbox domain.OutboxRepository, logger *log.Entry) *OutboxNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "notifier")
	}
	return &OutboxNotifier{outbox: outbox, logger: logger}
}

// NotifyAdmin ставит в очередь алерт о низком остатке для администратора.
func (n *OutboxNotifier) NotifyAdmin(ctx context.Context, message string) error {
	return n.enqueue(string(kafka.EventTypeStockLow), "admin", message)
}

// NotifyPurchasing ставит в очередь запрос на дозаказ для отдела закупок.
func (n *OutboxNotifier) NotifyPurchasing(ctx context.Context, message string) error {
	return n.enqueue(string(kafka.EventTypeStockReorder), "purchasing", message)
}

func (n *OutboxNotifier) enqueue(eventType, audience, message string) error {
	payload, err := json.Marshal(map[string]string{
		"audience": audience,
		"message":  message,
		"ts":       time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}

	msg := domain.OutboxMessage{
		AggregateType: "stock",
		EventType:     eventType,
		Payload:       payload,
	}
	if _, err := n.outbox.Enqueue(msg); err != nil {
		n.logger.WithError(err).WithField("event", eventType).Error("enqueue notification failed")
		return err
	}
	return nil
}

var _ domain.Notifier = (*OutboxNotifier)(nil)

// LogNotifier пишет уведомления только в лог. Используется в локальной
// разработке, когда брокер не поднят.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier без внешней доставки.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.New().WithField("component", "notifier")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyAdmin(ctx context.Context, message string) error {
	n.logger.WithField("audience", "admin").Warn(message)
	return nil
}

func (n *LogNotifier) NotifyPurchasing(ctx context.Context, message string) error {
	n.logger.WithField("audience", "purchasing").Info(message)
	return nil
}

var _ domain.Notifier = (*LogNotifier)(nil)
