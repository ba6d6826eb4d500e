package app

import (
	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ofs/internal/service/broadcast"
	"github.com/vladislavdragonenkov/ofs/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/ofs/internal/service/outbox"
)

// buildMachine создаёт конечный автомат заказа с или без прямой публикации
// в Kafka в зависимости от наличия kafka producer.
func buildMachine(deps *Dependencies, hub *broadcast.Hub, kafkaProducer *kafka.Producer) *lifecycle.Machine {
	options := []lifecycle.Option{
		lifecycle.WithBroadcaster(hub),
	}
	if kafkaProducer != nil {
		options = append(options, lifecycle.WithKafkaProducer(kafkaProducer))
	}

	return lifecycle.NewMachine(
		deps.Orders,
		deps.Ledger,
		deps.Outbox,
		deps.Logger.WithField("component", "lifecycle"),
		options...,
	)
}

// buildOutboxWorker создаёт воркер публикации outbox. С Kafka события идут
// в брокер с DLQ-фолбэком, без Kafka — в лог.
func buildOutboxWorker(cfg Config, deps *Dependencies, kafkaProducer *kafka.Producer) *outbox.Worker {
	options := []outbox.Option{
		outbox.WithLogger(deps.Logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	}

	var publisher domain.OutboxPublisher
	if kafkaProducer != nil {
		publisher = kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents)
		options = append(options, outbox.WithDLQPublisher(
			kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue),
		))
	} else {
		publisher = &logOutboxPublisher{logger: deps.Logger.WithField("component", "outbox-log-publisher")}
	}

	return outbox.NewWorker(deps.Outbox, publisher, options...)
}
