package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultEnvFile            = ".env"
	defaultServiceName        = "courtesy-dispatch"
	defaultEnv                = "dev"
	defaultLogLevel           = "info"
	defaultHTTPAddr           = ":8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultBroker             = "localhost:9092"
	defaultGroupID            = "courtesy-dispatch"
	defaultRequestTopic       = "cortesia-para-emitir"
	defaultSuccessTopic       = "cortesia-processada"
	defaultFailureTopic       = "cortesia-erro"
	defaultShutdownGrace      = 10 * time.Second
	defaultRedeliveryInitial  = 500 * time.Millisecond
	defaultRedeliveryMax      = 30 * time.Second
	defaultPartitionQueue     = 64
	defaultSendTimeout        = 30 * time.Second
	defaultRetryDelay         = time.Second
	defaultFlushTimeout       = 10 * time.Second
	defaultBatchTimeout       = 10 * time.Millisecond
	defaultInventoryTimeout   = 15 * time.Second
	defaultInventoryUser      = "admin"
	defaultIssuerUserID       = 1
	defaultSMTPPort           = 587
	defaultSMTPTimeout        = 30 * time.Second
	defaultSMTPTLSPolicy      = "opportunistic"
	defaultSMTPFrom           = "cortesias@cinex.com.br"
	defaultPollInterval       = time.Minute
	defaultPollPageSize       = 100
	defaultPollMaxPages       = 50
	defaultPollQuantity       = 1
	defaultPollPlace          = "Online"
	defaultPollDestination    = "Promoção de férias Cinex"
	defaultPollFormat         = "pdf"
	defaultMemorySeedPerPlace = 0
)

// Messaging and collaborator drivers.
const (
	DriverKafka  = "kafka"
	DriverMemory = "memory"
	DriverREST   = "rest"
	DriverSMTP   = "smtp"
	DriverLog    = "log"
)

// Ack policies for the request consumer.
const (
	AckForwardProgress  = "forward-progress"
	AckStrictRedelivery = "strict-redelivery"
)

// Config captures all runtime configuration organised by concern. It is
// loaded once and passed by value; nothing mutates it after Load returns.
type Config struct {
	Service      ServiceConfig
	HTTP         HTTPConfig
	Kafka        KafkaConfig
	Consumer     ConsumerConfig
	Publisher    PublisherConfig
	Inventory    InventoryConfig
	Mail         MailConfig
	Registration RegistrationConfig
}

// ServiceConfig identifies the process and its logging.
type ServiceConfig struct {
	Name     string
	Env      string
	LogLevel string
	LogFile  string
}

// HTTPConfig configures the health and metrics server.
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig selects the messaging driver and topics.
type KafkaConfig struct {
	Driver       string
	Brokers      []string
	ClientID     string
	GroupID      string
	RequestTopic string
	SuccessTopic string
	FailureTopic string
	BatchTimeout time.Duration
}

// ConsumerConfig controls request consumption and acknowledgment.
type ConsumerConfig struct {
	AckPolicy         string
	ShutdownGrace     time.Duration
	RedeliveryInitial time.Duration
	RedeliveryMax     time.Duration
	PartitionQueue    int
	MonitorEnabled    bool
}

// PublisherConfig controls outcome publication.
type PublisherConfig struct {
	SendTimeout  time.Duration
	RetryDelay   time.Duration
	FlushTimeout time.Duration
}

// InventoryConfig points at the ticket store.
type InventoryConfig struct {
	Driver       string
	BaseURL      string
	AuthURL      string
	Username     string
	Password     string
	Timeout      time.Duration
	IssuerUserID int64
	SeedPerPlace int
	SeedPlaces   []string
}

// MailConfig configures artifact delivery.
type MailConfig struct {
	Driver    string
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	TLSPolicy string
	Timeout   time.Duration
}

// RegistrationConfig drives the periodic registration poller.
type RegistrationConfig struct {
	Enabled       bool
	BaseURL       string
	Interval      time.Duration
	PageSize      int
	MaxPages      int
	Quantity      int
	Place         string
	Destination   string
	Format        string
	PrintValidity time.Time
	// SeedEmails are pending sign-ups loaded into the memory source at startup.
	SeedEmails []string
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	configFile   string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithConfigFile reads a flat YAML document of KEY: value pairs. Its values
// sit between the .env file and the process environment.
func WithConfigFile(path string) Option {
	return func(o *loaderOptions) {
		o.configFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.LookupEnv, relying only on provided maps and files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration from defaults, the .env file, an optional
// YAML file, environment variables and explicit overrides, in that order of
// increasing precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	_ = ctx
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	var fileValues map[string]string
	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := fileValues[key]; ok {
			return value, true
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	configFile := options.configFile
	if configFile == "" {
		configFile = stringWithDefault(lookup, "CONFIG_FILE", "")
	}
	if fileValues, err = loadYAML(configFile); err != nil {
		return Config{}, err
	}

	var invalid []string
	cfg := Config{
		Service: ServiceConfig{
			Name:     stringWithDefault(lookup, "SERVICE_NAME", defaultServiceName),
			Env:      stringWithDefault(lookup, "ENV", defaultEnv),
			LogLevel: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
			LogFile:  stringWithDefault(lookup, "LOG_FILE", ""),
		},
		HTTP: HTTPConfig{
			Addr:         stringWithDefault(lookup, "HTTP_ADDR", defaultHTTPAddr),
			ReadTimeout:  durationWithDefault(lookup, "HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
		},
		Kafka: KafkaConfig{
			Driver:       strings.ToLower(stringWithDefault(lookup, "MESSAGING_DRIVER", DriverKafka)),
			Brokers:      csvWithDefault(lookup, "KAFKA_BROKERS", []string{defaultBroker}),
			ClientID:     stringWithDefault(lookup, "KAFKA_CLIENT_ID", defaultServiceName),
			GroupID:      stringWithDefault(lookup, "KAFKA_GROUP_ID", defaultGroupID),
			RequestTopic: stringWithDefault(lookup, "KAFKA_REQUEST_TOPIC", defaultRequestTopic),
			SuccessTopic: stringWithDefault(lookup, "KAFKA_SUCCESS_TOPIC", defaultSuccessTopic),
			FailureTopic: stringWithDefault(lookup, "KAFKA_FAILURE_TOPIC", defaultFailureTopic),
			BatchTimeout: durationWithDefault(lookup, "KAFKA_BATCH_TIMEOUT", defaultBatchTimeout),
		},
		Consumer: ConsumerConfig{
			AckPolicy:         strings.ToLower(stringWithDefault(lookup, "CONSUMER_ACK_POLICY", AckForwardProgress)),
			ShutdownGrace:     durationWithDefault(lookup, "CONSUMER_SHUTDOWN_GRACE", defaultShutdownGrace),
			RedeliveryInitial: durationWithDefault(lookup, "CONSUMER_REDELIVERY_INITIAL", defaultRedeliveryInitial),
			RedeliveryMax:     durationWithDefault(lookup, "CONSUMER_REDELIVERY_MAX", defaultRedeliveryMax),
			PartitionQueue:    intWithDefault(lookup, "CONSUMER_PARTITION_QUEUE", defaultPartitionQueue),
			MonitorEnabled:    boolWithDefault(lookup, "CONSUMER_MONITOR_ENABLED", true),
		},
		Publisher: PublisherConfig{
			SendTimeout:  durationWithDefault(lookup, "PUBLISHER_SEND_TIMEOUT", defaultSendTimeout),
			RetryDelay:   durationWithDefault(lookup, "PUBLISHER_RETRY_DELAY", defaultRetryDelay),
			FlushTimeout: durationWithDefault(lookup, "PUBLISHER_FLUSH_TIMEOUT", defaultFlushTimeout),
		},
		Inventory: InventoryConfig{
			Driver:       strings.ToLower(stringWithDefault(lookup, "INVENTORY_DRIVER", DriverREST)),
			BaseURL:      strings.TrimRight(stringWithDefault(lookup, "INVENTORY_BASE_URL", ""), "/"),
			AuthURL:      stringWithDefault(lookup, "INVENTORY_AUTH_URL", ""),
			Username:     stringWithDefault(lookup, "INVENTORY_USERNAME", defaultInventoryUser),
			Password:     stringWithDefault(lookup, "INVENTORY_PASSWORD", defaultInventoryUser),
			Timeout:      durationWithDefault(lookup, "INVENTORY_TIMEOUT", defaultInventoryTimeout),
			IssuerUserID: int64(intWithDefault(lookup, "INVENTORY_ISSUER_USER_ID", defaultIssuerUserID)),
			SeedPerPlace: intWithDefault(lookup, "INVENTORY_MEMORY_SEED", defaultMemorySeedPerPlace),
			SeedPlaces:   csvWithDefault(lookup, "INVENTORY_MEMORY_PLACES", []string{defaultPollPlace}),
		},
		Mail: MailConfig{
			Driver:    strings.ToLower(stringWithDefault(lookup, "MAIL_DRIVER", DriverSMTP)),
			Host:      stringWithDefault(lookup, "SMTP_HOST", ""),
			Port:      intWithDefault(lookup, "SMTP_PORT", defaultSMTPPort),
			Username:  stringWithDefault(lookup, "SMTP_USERNAME", ""),
			Password:  stringWithDefault(lookup, "SMTP_PASSWORD", ""),
			From:      stringWithDefault(lookup, "SMTP_FROM", defaultSMTPFrom),
			TLSPolicy: strings.ToLower(stringWithDefault(lookup, "SMTP_TLS_POLICY", defaultSMTPTLSPolicy)),
			Timeout:   durationWithDefault(lookup, "SMTP_TIMEOUT", defaultSMTPTimeout),
		},
		Registration: RegistrationConfig{
			Enabled:     boolWithDefault(lookup, "REGISTRATION_ENABLED", false),
			BaseURL:     strings.TrimRight(stringWithDefault(lookup, "REGISTRATION_BASE_URL", ""), "/"),
			Interval:    durationWithDefault(lookup, "REGISTRATION_INTERVAL", defaultPollInterval),
			PageSize:    intWithDefault(lookup, "REGISTRATION_PAGE_SIZE", defaultPollPageSize),
			MaxPages:    intWithDefault(lookup, "REGISTRATION_MAX_PAGES", defaultPollMaxPages),
			Quantity:    intWithDefault(lookup, "REGISTRATION_QUANTITY", defaultPollQuantity),
			Place:       stringWithDefault(lookup, "REGISTRATION_PLACE", defaultPollPlace),
			Destination: stringWithDefault(lookup, "REGISTRATION_DESTINATION", defaultPollDestination),
			Format:      strings.ToLower(stringWithDefault(lookup, "REGISTRATION_FORMAT", defaultPollFormat)),
			SeedEmails:  csvWithDefault(lookup, "REGISTRATION_MEMORY_SEED", nil),
		},
	}

	if raw := stringWithDefault(lookup, "REGISTRATION_PRINT_VALIDITY", ""); raw != "" {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			invalid = append(invalid, "Registration.PrintValidity")
		} else {
			cfg.Registration.PrintValidity = d
		}
	}
	if cfg.Registration.BaseURL == "" {
		cfg.Registration.BaseURL = cfg.Inventory.BaseURL
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)
	if cfg.Service.Name == "" {
		missing = append(missing, "Service.Name")
	}
	if cfg.HTTP.Addr == "" {
		missing = append(missing, "HTTP.Addr")
	}
	switch cfg.Kafka.Driver {
	case DriverKafka:
		if len(cfg.Kafka.Brokers) == 0 {
			missing = append(missing, "Kafka.Brokers")
		}
		if cfg.Kafka.GroupID == "" {
			missing = append(missing, "Kafka.GroupID")
		}
	case DriverMemory:
	default:
		missing = append(missing, "Kafka.Driver")
	}
	if cfg.Kafka.RequestTopic == "" {
		missing = append(missing, "Kafka.RequestTopic")
	}
	if cfg.Kafka.SuccessTopic == "" || cfg.Kafka.FailureTopic == "" || cfg.Kafka.SuccessTopic == cfg.Kafka.FailureTopic {
		missing = append(missing, "Kafka.SuccessTopic/FailureTopic")
	}
	if cfg.Consumer.AckPolicy != AckForwardProgress && cfg.Consumer.AckPolicy != AckStrictRedelivery {
		missing = append(missing, "Consumer.AckPolicy")
	}
	if cfg.Consumer.PartitionQueue <= 0 {
		missing = append(missing, "Consumer.PartitionQueue")
	}
	if cfg.Consumer.RedeliveryInitial <= 0 || cfg.Consumer.RedeliveryMax < cfg.Consumer.RedeliveryInitial {
		missing = append(missing, "Consumer.RedeliveryInitial/RedeliveryMax")
	}
	if cfg.Publisher.SendTimeout <= 0 {
		missing = append(missing, "Publisher.SendTimeout")
	}
	if cfg.Publisher.RetryDelay < 0 {
		missing = append(missing, "Publisher.RetryDelay")
	}
	switch cfg.Inventory.Driver {
	case DriverREST:
		if cfg.Inventory.BaseURL == "" {
			missing = append(missing, "Inventory.BaseURL")
		}
		if cfg.Inventory.AuthURL == "" {
			missing = append(missing, "Inventory.AuthURL")
		}
	case DriverMemory:
	default:
		missing = append(missing, "Inventory.Driver")
	}
	switch cfg.Mail.Driver {
	case DriverSMTP:
		if cfg.Mail.Host == "" {
			missing = append(missing, "Mail.Host")
		}
		if cfg.Mail.Port <= 0 {
			missing = append(missing, "Mail.Port")
		}
		switch cfg.Mail.TLSPolicy {
		case "mandatory", "opportunistic", "none":
		default:
			missing = append(missing, "Mail.TLSPolicy")
		}
	case DriverLog:
	default:
		missing = append(missing, "Mail.Driver")
	}
	if cfg.Registration.Enabled {
		if cfg.Inventory.Driver == DriverREST && cfg.Registration.BaseURL == "" {
			missing = append(missing, "Registration.BaseURL")
		}
		if cfg.Registration.Interval <= 0 {
			missing = append(missing, "Registration.Interval")
		}
		if cfg.Registration.PageSize <= 0 {
			missing = append(missing, "Registration.PageSize")
		}
		if cfg.Registration.Quantity <= 0 {
			missing = append(missing, "Registration.Quantity")
		}
		if cfg.Registration.PrintValidity.IsZero() {
			missing = append(missing, "Registration.PrintValidity")
		}
	}
	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadYAML(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	values := make(map[string]string, len(doc))
	for key, value := range doc {
		switch v := value.(type) {
		case nil:
			continue
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				parts = append(parts, fmt.Sprint(item))
			}
			values[key] = strings.Join(parts, ",")
		default:
			values[key] = fmt.Sprint(v)
		}
	}
	return values, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return n
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return append([]string(nil), fallback...)
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
