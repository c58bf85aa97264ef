// v0
// cmd/topic-init/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ddaddaradda/message-consumer/internal/config"
	"github.com/ddaddaradda/message-consumer/internal/ingest"
	"github.com/ddaddaradda/message-consumer/internal/logging"
)

const defaultLogPath = "logs/topic-init.log"

type options struct {
	brokers     []string
	topics      []string
	partitions  int
	replication int
	logPath     string
}

func main() {
	opts := loadOptions()
	logger, logFile, err := logging.Open(opts.logPath, slog.LevelInfo)
	if err != nil {
		logging.Bootstrap().Error("log_open_failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if cerr := logFile.Close(); cerr != nil {
			logger.Warn("logfile_close", slog.Any("err", cerr))
		}
	}()
	logger.Info("topic_init_start",
		slog.String("brokers", strings.Join(opts.brokers, ",")),
		slog.String("topics", strings.Join(opts.topics, ",")),
		slog.Int("partitions", opts.partitions),
		slog.Int("replication", opts.replication),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	specs := make([]ingest.TopicSpec, 0, len(opts.topics))
	for _, t := range opts.topics {
		specs = append(specs, ingest.TopicSpec{Name: t, Partitions: opts.partitions, ReplicationFactor: opts.replication})
	}
	if err := ingest.EnsureTopics(ctx, logger, opts.brokers, specs); err != nil {
		logger.Error("topic_init_failed", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Info("topic_init_complete", slog.Int("topics", len(specs)))
}

// loadOptions defaults to the topics of the processor configuration so both
// binaries agree on names.
func loadOptions() options {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("config:", err)
		os.Exit(2)
	}
	brokersFlag := flag.String("brokers", strings.Join(cfg.KafkaBrokers, ","), "Comma-separated list of Kafka brokers")
	topicsFlag := flag.String("topics", getenv("TOPIC_INIT_TOPICS", strings.Join(cfg.Topics(), ",")), "Comma-separated list of topics to create")
	partitionsFlag := flag.Int("partitions", geti("TOPIC_INIT_PARTITIONS", 3), "Partition count for every topic")
	replFlag := flag.Int("replication", geti("TOPIC_INIT_REPLICATION", 1), "Replication factor for every topic")
	logPathFlag := flag.String("log", getenv("TOPIC_INIT_LOG", defaultLogPath), "Path for log output")
	flag.Parse()

	opts := options{
		brokers:     splitAndTrim(*brokersFlag),
		topics:      splitAndTrim(*topicsFlag),
		partitions:  *partitionsFlag,
		replication: *replFlag,
		logPath:     *logPathFlag,
	}
	if len(opts.brokers) == 0 {
		fmt.Println("KAFKA_BROKERS or --brokers must be provided")
		os.Exit(2)
	}
	if len(opts.topics) == 0 {
		fmt.Println("TOPIC_INIT_TOPICS or --topics must include at least one topic")
		os.Exit(2)
	}
	if opts.partitions <= 0 || opts.replication <= 0 {
		fmt.Println("partitions and replication must be positive")
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

func geti(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
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
