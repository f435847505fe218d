package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/dispatch"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/application/registration"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/courtesy"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/messaging"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/domain/ticket"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/mail"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/membus"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/partition"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/infrastructure/rest"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/observability"
	"github.com/Zhima-Mochi/courtesy-dispatch/internal/pkg/config"
)

const memoryTicketLifetime = 90 * 24 * time.Hour

type producer interface {
	messaging.Producer
	Healthy() bool
}

// broker is the selected messaging driver: one shared producer plus a
// factory for group consumers.
type broker struct {
	producer producer
	consumer func(topic, group string) messaging.Consumer
}

func newBus(cfg config.Config, logger observability.Logger) (broker, error) {
	pcfg := partition.Config{
		QueueSize:         cfg.Consumer.PartitionQueue,
		RedeliveryInitial: cfg.Consumer.RedeliveryInitial,
		RedeliveryMax:     cfg.Consumer.RedeliveryMax,
	}
	switch cfg.Kafka.Driver {
	case config.DriverKafka:
		p := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.Kafka.Brokers,
			ClientID:     cfg.Kafka.ClientID,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		}, logger)
		return broker{
			producer: p,
			consumer: func(topic, group string) messaging.Consumer {
				return kafka.NewConsumer(kafka.ConsumerConfig{
					Brokers:       cfg.Kafka.Brokers,
					ClientID:      cfg.Kafka.ClientID,
					GroupID:       group,
					Topic:         topic,
					Partition:     pcfg,
					ShutdownGrace: cfg.Consumer.ShutdownGrace,
				}, logger)
			},
		}, nil
	case config.DriverMemory:
		bus := membus.New(logger)
		return broker{
			producer: bus,
			consumer: func(topic, group string) messaging.Consumer {
				return bus.Consumer(topic, group, pcfg, cfg.Consumer.ShutdownGrace)
			},
		}, nil
	default:
		return broker{}, fmt.Errorf("unknown messaging driver %q", cfg.Kafka.Driver)
	}
}

func restClient(baseURL string, cfg config.InventoryConfig, logger observability.Logger) *rest.Client {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	var tokens *rest.TokenSource
	if cfg.AuthURL != "" {
		tokens = rest.NewTokenSource(cfg.AuthURL, rest.Credentials{
			Username: cfg.Username,
			Password: cfg.Password,
		}, httpClient, logger)
	}
	return rest.NewClient(baseURL, httpClient, tokens, logger)
}

func newTicketGateway(cfg config.Config, logger observability.Logger) (ticket.Gateway, error) {
	switch cfg.Inventory.Driver {
	case config.DriverREST:
		return rest.NewTicketGateway(restClient(cfg.Inventory.BaseURL, cfg.Inventory, logger)), nil
	case config.DriverMemory:
		store := memory.NewTicketStore()
		expires := time.Now().Add(memoryTicketLifetime)
		for _, place := range cfg.Inventory.SeedPlaces {
			store.Seed(place, cfg.Inventory.SeedPerPlace, expires)
		}
		logger.Info("memory_inventory_seeded",
			observability.F("places", len(cfg.Inventory.SeedPlaces)),
			observability.F("per_place", cfg.Inventory.SeedPerPlace),
		)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown inventory driver %q", cfg.Inventory.Driver)
	}
}

func newRegistrationSource(cfg config.Config, logger observability.Logger) (registration.Source, error) {
	switch cfg.Inventory.Driver {
	case config.DriverREST:
		return rest.NewRegistrationSource(restClient(cfg.Registration.BaseURL, cfg.Inventory, logger)), nil
	case config.DriverMemory:
		store := memory.NewRegistrationStore()
		store.Seed(cfg.Registration.SeedEmails...)
		logger.Info("memory_registrations_seeded", observability.F("pending", len(cfg.Registration.SeedEmails)))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown inventory driver %q", cfg.Inventory.Driver)
	}
}

func newMailer(cfg config.Config, logger observability.Logger) (dispatch.Mailer, error) {
	switch cfg.Mail.Driver {
	case config.DriverSMTP:
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:      cfg.Mail.Host,
			Port:      cfg.Mail.Port,
			Username:  cfg.Mail.Username,
			Password:  cfg.Mail.Password,
			From:      cfg.Mail.From,
			TLSPolicy: cfg.Mail.TLSPolicy,
			Timeout:   cfg.Mail.Timeout,
		}, logger)
	case config.DriverLog:
		return mail.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail driver %q", cfg.Mail.Driver)
	}
}

func printValidity(t time.Time) courtesy.Date {
	if t.IsZero() {
		return courtesy.Date{}
	}
	return courtesy.NewDate(t.Year(), t.Month(), t.Day())
}
