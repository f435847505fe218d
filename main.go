package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/dispatch"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/monitor"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/registration"
	infraobs "github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/render"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/pkg/clock"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/pkg/config"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/courtesy-dispatch/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/courtesy-dispatch/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	baseLogger, err := logging.NewLogger(logging.Options{
		Service: cfg.Service.Name,
		Env:     cfg.Service.Env,
		Level:   cfg.Service.LogLevel,
		File:    cfg.Service.LogFile,
	})
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	oteltrace.InstallPropagator()
	logger := zaplogger.Wrap(logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID))
	tel := infraobs.New(
		oteltrace.New(cfg.Service.Name),
		logger,
		prometrics.New("", "", nil),
	)
	clk := clock.NewSystem()

	bus, err := newBus(cfg, logger)
	if err != nil {
		return err
	}
	gateway, err := newTicketGateway(cfg, logger)
	if err != nil {
		return err
	}
	mailer, err := newMailer(cfg, logger)
	if err != nil {
		return err
	}

	publisher := dispatch.NewPublisher(bus.producer, dispatch.PublisherConfig{
		SuccessTopic: cfg.Kafka.SuccessTopic,
		FailureTopic: cfg.Kafka.FailureTopic,
		SendTimeout:  cfg.Publisher.SendTimeout,
		RetryDelay:   cfg.Publisher.RetryDelay,
	}, tel, dispatch.WithPublisherClock(clk))

	process := dispatch.NewProcessUseCase(
		gateway,
		render.New(logger),
		mailer,
		dispatch.ProcessConfig{IssuerUserID: cfg.Inventory.IssuerUserID},
		clk,
		tel,
	)
	worker := dispatch.NewWorker(
		bus.consumer(cfg.Kafka.RequestTopic, cfg.Kafka.GroupID),
		process,
		publisher,
		dispatch.AckPolicy(cfg.Consumer.AckPolicy),
		clk,
		tel,
	)
	worker.Use(workerpresentation.EventContext(logger, "request_consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})

	if cfg.Consumer.MonitorEnabled {
		mon := monitor.New(bus.consumer(cfg.Kafka.SuccessTopic, cfg.Kafka.GroupID+"-monitor"), tel)
		mon.Use(workerpresentation.EventContext(logger, "outcome_monitor"))
		g.Go(func() error {
			return mon.Run(gctx)
		})
	}

	if cfg.Registration.Enabled {
		source, err := newRegistrationSource(cfg, logger)
		if err != nil {
			return err
		}
		poll := registration.NewPollUseCase(source, bus.producer, registration.PollConfig{
			Topic:         cfg.Kafka.RequestTopic,
			PageSize:      cfg.Registration.PageSize,
			MaxRounds:     cfg.Registration.MaxPages,
			Quantity:      cfg.Registration.Quantity,
			Place:         cfg.Registration.Place,
			Destination:   cfg.Registration.Destination,
			PrintValidity: printValidity(cfg.Registration.PrintValidity),
			Format:        cfg.Registration.Format,
			SendTimeout:   cfg.Publisher.SendTimeout,
		}, tel)
		scheduler := registration.NewScheduler(poll, cfg.Registration.Interval, tel)
		g.Go(func() error {
			return scheduler.Run(gctx)
		})
	}

	ops := httppresentation.NewHandler(map[string]httppresentation.Check{
		"producer":  bus.producer.Healthy,
		"publisher": publisher.Healthy,
	}, promhttp.Handler(), tel)
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      ops.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	g.Go(func() error {
		logger.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http_server_shutdown_error", observability.F("error", err))
			return nil
		}
		logger.Info("http_server_stopped")
		return nil
	})

	logger.Info("service_started",
		observability.F("messaging_driver", cfg.Kafka.Driver),
		observability.F("inventory_driver", cfg.Inventory.Driver),
		observability.F("mail_driver", cfg.Mail.Driver),
		observability.F("ack_policy", cfg.Consumer.AckPolicy),
	)
	runErr := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Publisher.FlushTimeout)
	defer cancel()
	if err := publisher.Flush(flushCtx); err != nil {
		logger.Warn("publisher_flush_incomplete", observability.F("error", err))
	}
	if err := bus.producer.Close(); err != nil {
		logger.Warn("producer_close_failed", observability.F("error", err))
	}
	logger.Info("service_stopped")
	return runErr
}
