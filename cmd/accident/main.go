// v0
// cmd/accident/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/ddaddaradda/message-consumer/internal/accident"
	"github.com/ddaddaradda/message-consumer/internal/circuitbreaker"
	"github.com/ddaddaradda/message-consumer/internal/logging"
	"github.com/ddaddaradda/message-consumer/internal/store"
	"github.com/ddaddaradda/message-consumer/internal/telemetry"
)

type options struct {
	day      string
	source   string
	sqlite   string
	docdb    string
	tlsCA    string
	window   time.Duration
	brokers  []string
	topic    string
	logPath  string
	logLevel string
}

type recordStore interface {
	accident.RecordSource
	Close() error
}

func main() {
	if err := run(loadOptions(), os.Stdout); err != nil {
		os.Exit(1)
	}
}

// run scans one day and prints every incident to out as a JSON line.
// Failures are logged before they are returned.
func run(opts options, out io.Writer) error {
	logger, logFile, err := logging.Open(opts.logPath, logging.ParseLevel(opts.logLevel))
	if err != nil {
		logging.Bootstrap().Error("log_open_failed", slog.Any("err", err))
		return err
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := openSource(ctx, opts, logger)
	if err != nil {
		logger.Error("source_open_failed", slog.String("source", opts.source), slog.Any("err", err))
		return err
	}
	defer src.Close()

	notifiers := accident.Notifiers{accident.LogNotifier{Log: logger}}
	if opts.topic != "" {
		policy, err := circuitbreaker.NewPolicyFromEnv("accident-writer", "kafka", logger, nil)
		if err != nil {
			logger.Error("breaker_init_failed", slog.Any("err", err))
			return err
		}
		kn, err := accident.NewKafkaNotifier(opts.brokers, opts.topic, policy)
		if err != nil {
			logger.Error("notifier_init_failed", slog.Any("err", err))
			return err
		}
		defer kn.Close()
		notifiers = append(notifiers, kn)
	}

	scanner := accident.NewScanner(src, opts.window, notifiers, logger.With(slog.String("component", "scanner")))
	found, err := scanner.Scan(ctx, opts.day)
	enc := json.NewEncoder(out)
	for _, s := range found {
		_ = enc.Encode(s)
	}
	if err != nil {
		logger.Error("scan_failed", slog.Any("err", err))
		return err
	}
	return nil
}

func openSource(ctx context.Context, opts options, log *slog.Logger) (recordStore, error) {
	switch opts.source {
	case "mongo":
		return store.OpenMongo(ctx, store.MongoConfig{URI: opts.docdb, TLSCAPath: opts.tlsCA}, log)
	case "sqlite":
		return store.OpenSQLite(opts.sqlite, log)
	}
	return nil, fmt.Errorf("unknown source %q", opts.source)
}

func loadOptions() options {
	tz := getenv("TIMEZONE", telemetry.DefaultTimezone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		fmt.Println("TIMEZONE:", err)
		os.Exit(2)
	}
	yesterday := time.Now().In(loc).AddDate(0, 0, -1).Format(telemetry.DateLayout)

	dayFlag := flag.String("day", yesterday, "Storage date to scan (YYYYMMDD)")
	sourceFlag := flag.String("source", getenv("ACCIDENT_SOURCE", "sqlite"), "Record store: sqlite or mongo")
	sqliteFlag := flag.String("sqlite", getenv("SQLITE_PATH", "data/telemetry.db"), "SQLite database path")
	docdbFlag := flag.String("docdb", getenv("DOCDB_URI", ""), "Document store URI")
	tlsFlag := flag.String("tls-ca", getenv("TLSCA_PATH", ""), "PEM bundle for the document store")
	windowFlag := flag.Duration("window", time.Minute, "Detection window; 0 scans each sensor day as one window")
	brokersFlag := flag.String("brokers", getenv("KAFKA_BROKERS", ""), "Comma-separated list of Kafka brokers")
	topicFlag := flag.String("topic", getenv("ACCIDENT_TOPIC", ""), "Kafka topic for incident summaries; empty logs only")
	logFlag := flag.String("log", getenv("ACCIDENT_LOG", "logs/accident.log"), "Path for log output")
	levelFlag := flag.String("log-level", getenv("LOG_LEVEL", "info"), "debug, info, warn or error")
	flag.Parse()

	opts := options{
		day:      strings.TrimSpace(*dayFlag),
		source:   strings.ToLower(strings.TrimSpace(*sourceFlag)),
		sqlite:   *sqliteFlag,
		docdb:    *docdbFlag,
		tlsCA:    *tlsFlag,
		window:   *windowFlag,
		brokers:  splitAndTrim(*brokersFlag),
		topic:    strings.TrimSpace(*topicFlag),
		logPath:  *logFlag,
		logLevel: *levelFlag,
	}
	if _, err := time.Parse(telemetry.DateLayout, opts.day); err != nil {
		fmt.Println("--day must be YYYYMMDD")
		os.Exit(2)
	}
	if opts.source == "mongo" && opts.docdb == "" {
		fmt.Println("DOCDB_URI or --docdb must be provided for the mongo source")
		os.Exit(2)
	}
	if opts.topic != "" && len(opts.brokers) == 0 {
		fmt.Println("KAFKA_BROKERS or --brokers must be provided with --topic")
		os.Exit(2)
	}
	return opts
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitAndTrim(input string) []string {
	var out []string
	for _, p := range strings.Split(input, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
