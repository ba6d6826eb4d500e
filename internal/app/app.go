package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/ofs/internal/health"
	"github.com/vladislavdragonenkov/ofs/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ofs/internal/service/broadcast"
	"github.com/vladislavdragonenkov/ofs/internal/service/coordinator"
	"github.com/vladislavdragonenkov/ofs/internal/service/httpapi"
	"github.com/vladislavdragonenkov/ofs/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ofs/internal/service/notifier"
	"github.com/vladislavdragonenkov/ofs/internal/service/payment"
	"github.com/vladislavdragonenkov/ofs/internal/service/workflow"
	"github.com/vladislavdragonenkov/ofs/internal/version"
)

// Run собирает и запускает сервис: хранилище, Kafka, фоновые воркеры,
// HTTP API и сервер метрик. Блокируется до отмены ctx или фатальной ошибки.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Kafka опционален: без брокеров события идут только в лог.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	hub := broadcast.NewHub(deps.Registry, deps.Channel, logger.WithField("component", "broadcast"))
	machine := buildMachine(deps, hub, kafkaProducer)

	services := httpapi.Services{
		Checkout:    payment.NewCheckoutService(deps.Orders, deps.Provider, logger.WithField("component", "checkout")),
		Webhook:     payment.NewWebhookService(deps.Provider, machine, deps.Outbox, logger.WithField("component", "payment-webhook")),
		Machine:     machine,
		Coordinator: coordinator.NewCoordinator(deps.Orders, deps.Ledger, deps.Engine, logger.WithField("component", "coordinator")),
		Starter:     workflow.NewStarter(deps.Engine, logger.WithField("component", "workflow-starter")),
		Hub:         hub,
		Orders:      deps.Orders,
		Ledger:      deps.Ledger,
	}
	apiServer := httpapi.NewServer(services, logger.WithField("component", "http-api"))

	outboxWorker := buildOutboxWorker(cfg, deps, kafkaProducer)
	go outboxWorker.Run(ctx)

	cleanupWorker := idempotency.NewCleanupWorker(
		deps.Idempotency,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	go cleanupWorker.Run(ctx)

	consumers, err := startNotifierConsumers(ctx, cfg, deps, kafkaProducer)
	if err != nil {
		return err
	}
	defer stopConsumers(consumers, logger)

	healthHandler := healthcheck.NewHandler(version.String())
	if deps.storage != nil && deps.storage.store != nil {
		store := deps.storage.store
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		}))
	}

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	apiSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- apiSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// startNotifierConsumers запускает consumer'ы побочных эффектов оплаты:
// письмо-подтверждение и генерацию чека. Без Kafka возвращает nil — события
// остаются в outbox-логе.
func startNotifierConsumers(ctx context.Context, cfg Config, deps *Dependencies, producer *kafka.Producer) ([]*kafka.Consumer, error) {
	if producer == nil || cfg.KafkaBrokers == "" {
		return nil, nil
	}
	brokers := strings.Split(cfg.KafkaBrokers, ",")

	email := notifier.NewEmailNotifier(
		deps.Orders,
		deps.Mailer,
		deps.Idempotency,
		deps.Logger.WithField("component", "email-notifier"),
	)
	receipts := notifier.NewReceiptGenerator(
		deps.Orders,
		deps.Receipts,
		deps.Idempotency,
		deps.Logger.WithField("component", "receipt-generator"),
	)

	groups := []struct {
		groupID string
		handler kafka.MessageHandler
	}{
		{"ofs-email-notifier", email.HandleMessage},
		{"ofs-receipt-generator", receipts.HandleMessage},
	}

	var consumers []*kafka.Consumer
	for _, g := range groups {
		consumer, err := kafka.NewConsumerWithDLQ(
			brokers,
			g.groupID,
			[]string{kafka.TopicPaymentEvents},
			g.handler,
			producer,
			3,
		)
		if err != nil {
			stopConsumers(consumers, deps.Logger)
			return nil, err
		}
		if err := consumer.Start(ctx); err != nil {
			stopConsumers(consumers, deps.Logger)
			return nil, err
		}
		consumers = append(consumers, consumer)
	}
	return consumers, nil
}

// stopConsumers останавливает запущенные consumer'ы.
func stopConsumers(consumers []*kafka.Consumer, logger *log.Entry) {
	for _, consumer := range consumers {
		if err := consumer.Stop(); err != nil {
			logger.WithError(err).Warn("failed to stop kafka consumer")
		}
	}
}

// startMetricsServer запускает HTTP-обработчик /metrics для Prometheus
// и health-эндпоинты.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
