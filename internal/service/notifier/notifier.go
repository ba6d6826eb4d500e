package notifier

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ofs/internal/domain"
	"github.com/vladislavdragonenkov/ofs/internal/messaging/kafka"
)

// processedTTL — срок хранения отметки об обработанном событии. Доставка
// at-least-once: после истечения TTL повторная доставка обработается заново.
const processedTTL = 7 * 24 * time.Hour

// decodePaymentEvent разворачивает сообщение из topic платёжных событий.
// Outbox worker публикует события в конверте, прямые публикации — без него.
func decodePaymentEvent(value []byte) (*kafka.PaymentEvent, error) {
	if envelope, err := kafka.ParseOutboxEnvelope(value); err == nil && len(envelope.Payload) > 0 {
		value = envelope.Payload
	}

	var event kafka.PaymentEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment event: %w", err)
	}
	return &event, nil
}

// beginOnce регистрирует начало обработки события по ключу. Возвращает
// skip=true, если событие уже обработано другим потребителем того же типа.
func beginOnce(repo domain.IdempotencyRepository, logger *log.Entry, key string) (bool, error) {
	if repo == nil {
		return false, nil
	}

	sum := sha256.Sum256([]byte(key))
	hash := hex.EncodeToString(sum[:])

	record, err := repo.CreateProcessing(key, hash, time.Now().UTC().Add(processedTTL))
	if err == nil {
		return false, nil
	}

	if errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		switch record.Status {
		case domain.IdempotencyStatusDone:
			logger.WithField("idempotency_key", key).Debug("event already processed, skipping")
			return true, nil
		case domain.IdempotencyStatusProcessing:
			return false, fmt.Errorf("event %s is already being processed", key)
		case domain.IdempotencyStatusFailed:
			// Прошлая попытка упала: событие можно обработать заново.
			logger.WithField("idempotency_key", key).Info("retrying previously failed event")
			return false, nil
		}
	}

	return false, fmt.Errorf("create idempotency record: %w", err)
}

func markDone(repo domain.IdempotencyRepository, logger *log.Entry, key string, body []byte) {
	if repo == nil {
		return
	}
	if err := repo.MarkDone(key, body, 200); err != nil {
		logger.WithError(err).WithField("idempotency_key", key).Warn("failed to mark event as processed")
	}
}

func markFailed(repo domain.IdempotencyRepository, logger *log.Entry, key string) {
	if repo == nil {
		return
	}
	if err := repo.MarkFailed(key, nil, 500); err != nil {
		logger.WithError(err).WithField("idempotency_key", key).Warn("failed to mark event as failed")
	}
}

// formatAmount отображает сумму в minor units в человекочитаемом виде.
func formatAmount(currency string, amountMinor int64) string {
	value := float64(amountMinor) / 100
	if currency == "PEN" {
		return fmt.Sprintf("S/. %.2f", value)
	}
	return fmt.Sprintf("%s %.2f", currency, value)
}
