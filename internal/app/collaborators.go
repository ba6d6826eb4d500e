package app

import (
	"context"
	"encoding/json"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
)

// NOTE: Реализации в этом файле — стенды для разработки и demo. В production
// их заменяют клиенты реальных внешних систем: SMTP/почтовый шлюз, блобовое
// хранилище чеков, push-транспорт подключений и Kafka-паблишер outbox.

// logMailer пишет письма в лог вместо отправки.
type logMailer struct {
	logger *log.Entry
}

func (m *logMailer) Send(_ context.Context, to, subject, _ string) error {
	m.logger.WithFields(log.Fields{
		"to":      to,
		"subject": subject,
	}).Info("email sent (dev mailer)")
	return nil
}

// logReceiptStore пишет чек в лог и возвращает псевдо-адрес.
type logReceiptStore struct {
	logger *log.Entry
}

func (s *logReceiptStore) Put(_ context.Context, key string, body []byte) (string, error) {
	s.logger.WithFields(log.Fields{
		"key":   key,
		"bytes": len(body),
	}).Info("receipt stored (dev store)")
	return "log://" + key, nil
}

// logPushChannel пишет push-доставки в лог.
type logPushChannel struct {
	logger *log.Entry
}

func (c *logPushChannel) Push(_ context.Context, connectionID string, payload []byte) error {
	c.logger.WithFields(log.Fields{
		"connection_id": connectionID,
		"payload":       json.RawMessage(payload),
	}).Info("order pushed (dev channel)")
	return nil
}

// logOutboxPublisher публикует outbox-события в лог, когда Kafka не настроен.
type logOutboxPublisher struct {
	logger *log.Entry
}

func (p *logOutboxPublisher) Publish(event domain.OutboxMessage) error {
	p.logger.WithFields(log.Fields{
		"event_type":   event.EventType,
		"aggregate_id": event.AggregateID,
		"payload":      json.RawMessage(event.Payload),
	}).Info("outbox event published (log publisher)")
	return nil
}

var (
	_ domain.Mailer          = (*logMailer)(nil)
	_ domain.ReceiptStore    = (*logReceiptStore)(nil)
	_ domain.PushChannel     = (*logPushChannel)(nil)
	_ domain.OutboxPublisher = (*logOutboxPublisher)(nil)
)
