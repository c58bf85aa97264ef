// v1
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

// Inbound transports.
const (
	InboundKafka = "kafka"
	InboundMQTT  = "mqtt"
)

// Sink names accepted in SINKS.
const (
	SinkKafka  = "kafka"
	SinkMongo  = "mongo"
	SinkSQLite = "sqlite"
)

// Config captures all runtime settings of the telemetry processor. Values
// come from defaults, then an optional properties file, then environment
// variables.
type Config struct {
	// ListenAddress is the TCP address of the health and metrics server.
	ListenAddress string
	// LogFilePath is the append-only operational log.
	LogFilePath string
	// LogLevel is one of debug, info, warn, error.
	LogLevel string
	// HTTPReadTimeout bounds the time to read incoming requests.
	HTTPReadTimeout time.Duration
	// HTTPWriteTimeout bounds the time to write responses.
	HTTPWriteTimeout time.Duration
	// ShutdownTimeout limits graceful shutdown attempts.
	ShutdownTimeout time.Duration
	// PropertiesPath records the path used to load property values.
	PropertiesPath string

	// Inbound selects the transport deliveries are pulled from.
	Inbound string
	// KafkaBrokers lists the bootstrap brokers.
	KafkaBrokers []string
	// SourceTopics are consumed as one consumer group.
	SourceTopics []string
	// ConsumerGroupID is the consumer group used for offset commits.
	ConsumerGroupID string
	// PollTimeout bounds one fetch so the loop can observe shutdown.
	PollTimeout time.Duration
	// ValidateTopics checks that every configured topic exists at startup.
	ValidateTopics bool

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
	MQTTQoS      byte

	// Sinks lists the record destinations, written in order.
	Sinks []string
	// DestinationTopic is the fallback topic for the Kafka sink.
	DestinationTopic string
	// DestinationTopics overrides DestinationTopic per variant.
	DestinationTopics map[telemetry.Variant]string
	// DocDBURI is the document store connection string.
	DocDBURI string
	// TLSCAPath is an optional PEM bundle for the document store.
	TLSCAPath string
	// SQLitePath is the local sample store.
	SQLitePath string

	// DiagDir receives per-variant error logs for malformed payloads.
	DiagDir string
	// ArchiveDir receives raw payload archives; empty disables archiving.
	ArchiveDir string
	// Timezone derives storage dates of LTE-family batches.
	Timezone string
	// BatchChunkSize bounds the records per sink call.
	BatchChunkSize int
	// FlushTimeout bounds the emission of one in-flight batch.
	FlushTimeout time.Duration
	// RetryBackoff is the first wait after a sink outage; it doubles up to
	// RetryBackoffMax.
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

const (
	defaultListenAddress   = ":8090"
	defaultLogFile         = "logs/processor.log"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdown        = 5 * time.Second
	defaultPropsPath       = "processor.properties"
	defaultKafkaBrokers    = "kafka:9092"
	defaultSourceTopics    = "rider.ble.raw,rider.ltev1.raw,rider.ltev2.raw,rider.nonesub.raw"
	defaultGroupID         = "telemetry-processor"
	defaultPollTimeout     = 5 * time.Second
	defaultDestination     = "rider.records"
	defaultMQTTBroker      = "tcp://mosquitto:1883"
	defaultMQTTTopic       = "rider/+/raw"
	defaultMQTTClientID    = "telemetry-processor"
	defaultSQLitePath      = "data/telemetry.db"
	defaultDiagDir         = "logs/errors"
	defaultChunkSize       = 25
	defaultFlushTimeout    = 30 * time.Second
	defaultRetryBackoff    = 500 * time.Millisecond
	defaultRetryBackoffMax = 30 * time.Second
)

// Load resolves configuration by layering defaults, an optional properties
// file and finally environment variables. The properties file location can be
// overridden with PROCESSOR_PROPERTIES_PATH.
func Load() (Config, error) {
	cfg := Defaults()

	propsPath := strings.TrimSpace(os.Getenv("PROCESSOR_PROPERTIES_PATH"))
	if propsPath == "" {
		propsPath = defaultPropsPath
	}
	cfg.PropertiesPath = propsPath

	if err := applyProperties(&cfg, propsPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddress:     defaultListenAddress,
		LogFilePath:       filepath.Clean(defaultLogFile),
		LogLevel:          "info",
		HTTPReadTimeout:   defaultReadTimeout,
		HTTPWriteTimeout:  defaultWriteTimeout,
		ShutdownTimeout:   defaultShutdown,
		Inbound:           InboundKafka,
		KafkaBrokers:      splitAndTrim(defaultKafkaBrokers),
		SourceTopics:      splitAndTrim(defaultSourceTopics),
		ConsumerGroupID:   defaultGroupID,
		PollTimeout:       defaultPollTimeout,
		MQTTBroker:        defaultMQTTBroker,
		MQTTTopic:         defaultMQTTTopic,
		MQTTClientID:      defaultMQTTClientID,
		MQTTQoS:           1,
		Sinks:             []string{SinkKafka},
		DestinationTopic:  defaultDestination,
		DestinationTopics: map[telemetry.Variant]string{},
		SQLitePath:        filepath.Clean(defaultSQLitePath),
		DiagDir:           filepath.Clean(defaultDiagDir),
		Timezone:          telemetry.DefaultTimezone,
		BatchChunkSize:    defaultChunkSize,
		FlushTimeout:      defaultFlushTimeout,
		RetryBackoff:      defaultRetryBackoff,
		RetryBackoffMax:   defaultRetryBackoffMax,
	}
}

// keys lists every setting in its upper-case environment spelling. The
// properties file uses the lower-case form.
var keys = []string{
	"LISTEN_ADDRESS", "LOG_PATH", "LOG_LEVEL", "HTTP_READ_TIMEOUT_MS", "HTTP_WRITE_TIMEOUT_MS", "SHUTDOWN_TIMEOUT_MS",
	"INBOUND", "KAFKA_BROKERS", "SOURCE_TOPICS", "CONSUMER_GROUP_ID", "POLL_TIMEOUT_MS", "VALIDATE_TOPICS",
	"MQTT_BROKER", "MQTT_TOPIC", "MQTT_CLIENT_ID", "MQTT_QOS",
	"SINKS", "DESTINATION_TOPIC",
	"DESTINATION_TOPIC_BLE", "DESTINATION_TOPIC_LTE", "DESTINATION_TOPIC_LTE_V2", "DESTINATION_TOPIC_NONESUB",
	"DOCDB_URI", "TLSCA_PATH", "SQLITE_PATH",
	"DIAG_DIR", "ARCHIVE_DIR", "TIMEZONE", "BATCH_CHUNK_SIZE", "FLUSH_TIMEOUT_MS",
	"RETRY_BACKOFF_MS", "RETRY_BACKOFF_MAX_MS",
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.ToUpper(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if err := set(cfg, key, value); err != nil {
			return fmt.Errorf("property %s: %w", strings.ToLower(key), err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

// applyEnv prefers PROCESSOR_<KEY> and falls back to the bare <KEY>.
func applyEnv(cfg *Config) error {
	for _, key := range keys {
		name := "PROCESSOR_" + key
		v, ok := lookupEnvTrimmed(name)
		if !ok {
			name = key
			v, ok = lookupEnvTrimmed(name)
		}
		if !ok {
			continue
		}
		if err := set(cfg, key, v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func set(cfg *Config, key, value string) error {
	switch key {
	case "LISTEN_ADDRESS":
		return nonEmpty(value, &cfg.ListenAddress)
	case "LOG_PATH":
		if value == "" {
			return errors.New("cannot be empty")
		}
		cfg.LogFilePath = filepath.Clean(value)
	case "LOG_LEVEL":
		return nonEmpty(strings.ToLower(value), &cfg.LogLevel)
	case "HTTP_READ_TIMEOUT_MS":
		return millis(value, &cfg.HTTPReadTimeout)
	case "HTTP_WRITE_TIMEOUT_MS":
		return millis(value, &cfg.HTTPWriteTimeout)
	case "SHUTDOWN_TIMEOUT_MS":
		return millis(value, &cfg.ShutdownTimeout)
	case "INBOUND":
		cfg.Inbound = strings.ToLower(value)
	case "KAFKA_BROKERS":
		return list(value, &cfg.KafkaBrokers)
	case "SOURCE_TOPICS":
		return list(value, &cfg.SourceTopics)
	case "CONSUMER_GROUP_ID":
		return nonEmpty(value, &cfg.ConsumerGroupID)
	case "POLL_TIMEOUT_MS":
		return millis(value, &cfg.PollTimeout)
	case "VALIDATE_TOPICS":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		cfg.ValidateTopics = b
	case "MQTT_BROKER":
		return nonEmpty(value, &cfg.MQTTBroker)
	case "MQTT_TOPIC":
		return nonEmpty(value, &cfg.MQTTTopic)
	case "MQTT_CLIENT_ID":
		return nonEmpty(value, &cfg.MQTTClientID)
	case "MQTT_QOS":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 2 {
			return errors.New("must be 0, 1 or 2")
		}
		cfg.MQTTQoS = byte(n)
	case "SINKS":
		var sinks []string
		if err := list(strings.ToLower(value), &sinks); err != nil {
			return err
		}
		cfg.Sinks = sinks
	case "DESTINATION_TOPIC":
		return nonEmpty(value, &cfg.DestinationTopic)
	case "DESTINATION_TOPIC_BLE", "DESTINATION_TOPIC_LTE", "DESTINATION_TOPIC_LTE_V2", "DESTINATION_TOPIC_NONESUB":
		v, _ := telemetry.ParseVariant(strings.TrimPrefix(key, "DESTINATION_TOPIC_"))
		if cfg.DestinationTopics == nil {
			cfg.DestinationTopics = map[telemetry.Variant]string{}
		}
		if value == "" {
			delete(cfg.DestinationTopics, v)
			return nil
		}
		cfg.DestinationTopics[v] = value
	case "DOCDB_URI":
		cfg.DocDBURI = value
	case "TLSCA_PATH":
		cfg.TLSCAPath = value
	case "SQLITE_PATH":
		if value == "" {
			return errors.New("cannot be empty")
		}
		cfg.SQLitePath = filepath.Clean(value)
	case "DIAG_DIR":
		if value == "" {
			return errors.New("cannot be empty")
		}
		cfg.DiagDir = filepath.Clean(value)
	case "ARCHIVE_DIR":
		cfg.ArchiveDir = value
	case "TIMEZONE":
		return nonEmpty(value, &cfg.Timezone)
	case "BATCH_CHUNK_SIZE":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		if n <= 0 {
			return errors.New("must be positive")
		}
		cfg.BatchChunkSize = n
	case "FLUSH_TIMEOUT_MS":
		return millis(value, &cfg.FlushTimeout)
	case "RETRY_BACKOFF_MS":
		return millis(value, &cfg.RetryBackoff)
	case "RETRY_BACKOFF_MAX_MS":
		return millis(value, &cfg.RetryBackoffMax)
	default:
		// Unknown keys are ignored to keep the loader forward-compatible.
	}
	return nil
}

// Validate checks the settings the core depends on before it starts.
func (c Config) Validate() error {
	var errs []error
	switch c.Inbound {
	case InboundKafka:
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("kafka inbound requires KAFKA_BROKERS"))
		}
		if len(c.SourceTopics) == 0 {
			errs = append(errs, errors.New("kafka inbound requires SOURCE_TOPICS"))
		}
		if c.ConsumerGroupID == "" {
			errs = append(errs, errors.New("kafka inbound requires CONSUMER_GROUP_ID"))
		}
	case InboundMQTT:
		if c.MQTTBroker == "" || c.MQTTTopic == "" {
			errs = append(errs, errors.New("mqtt inbound requires MQTT_BROKER and MQTT_TOPIC"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown INBOUND %q", c.Inbound))
	}

	if len(c.Sinks) == 0 {
		errs = append(errs, errors.New("SINKS cannot be empty"))
	}
	seen := map[string]bool{}
	for _, s := range c.Sinks {
		if seen[s] {
			errs = append(errs, fmt.Errorf("sink %q listed twice", s))
		}
		seen[s] = true
		switch s {
		case SinkKafka:
			if len(c.KafkaBrokers) == 0 {
				errs = append(errs, errors.New("kafka sink requires KAFKA_BROKERS"))
			}
			if c.DestinationTopic == "" {
				errs = append(errs, errors.New("kafka sink requires DESTINATION_TOPIC"))
			}
		case SinkMongo:
			if c.DocDBURI == "" {
				errs = append(errs, errors.New("mongo sink requires DOCDB_URI"))
			}
		case SinkSQLite:
			if c.SQLitePath == "" {
				errs = append(errs, errors.New("sqlite sink requires SQLITE_PATH"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown sink %q", s))
		}
	}
	if c.TLSCAPath != "" {
		if _, err := os.Stat(c.TLSCAPath); err != nil {
			errs = append(errs, fmt.Errorf("TLSCA_PATH: %w", err))
		}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if c.BatchChunkSize <= 0 {
		errs = append(errs, errors.New("BATCH_CHUNK_SIZE must be positive"))
	}
	if c.RetryBackoffMax < c.RetryBackoff {
		errs = append(errs, errors.New("RETRY_BACKOFF_MAX_MS must not be below RETRY_BACKOFF_MS"))
	}
	return errors.Join(errs...)
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasSink reports whether name is one of the configured sinks.
func (c Config) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if s == name {
			return true
		}
	}
	return false
}

// TopicFor returns the destination topic of variant v.
func (c Config) TopicFor(v telemetry.Variant) string {
	if t, ok := c.DestinationTopics[v]; ok && t != "" {
		return t
	}
	return c.DestinationTopic
}

// Topics lists every Kafka topic the configuration touches.
func (c Config) Topics() []string {
	var out []string
	seen := map[string]bool{}
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	if c.Inbound == InboundKafka {
		for _, t := range c.SourceTopics {
			add(t)
		}
	}
	if c.HasSink(SinkKafka) {
		for _, v := range telemetry.Variants() {
			add(c.TopicFor(v))
		}
	}
	return out
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func nonEmpty(value string, dst *string) error {
	if value == "" {
		return errors.New("cannot be empty")
	}
	*dst = value
	return nil
}

func list(value string, dst *[]string) error {
	items := splitAndTrim(value)
	if len(items) == 0 {
		return errors.New("cannot be empty")
	}
	*dst = items
	return nil
}

func millis(value string, dst *time.Duration) error {
	d, err := parsePositiveMillis(value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return time.Duration(ms) * time.Millisecond, nil
}
