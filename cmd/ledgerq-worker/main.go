// Command ledgerq-worker consumes transaction events from a MySQL
// message queue and applies them to account balances.
//
// It wires the queue, store, processor, and worker together, serves
// Prometheus metrics, and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finvolt/ledgerq"
	"github.com/finvolt/ledgerq/mysql"
)

const (
	exitUsage           = 2
	metricsReadTimeout  = 5 * time.Second
	metricsShutdownWait = 5 * time.Second
)

var errInvalidBackoff = errors.New("ledgerq-worker: invalid backoff schedule")

type stdLogger struct {
	logger  *log.Logger
	verbose bool
}

func (l stdLogger) Debug(msg string, args ...any) {
	if !l.verbose {
		return
	}
	l.logger.Printf("DEBUG %s %s", msg, formatArgs(args))
}

func (l stdLogger) Info(msg string, args ...any) {
	l.logger.Printf("INFO %s %s", msg, formatArgs(args))
}

func (l stdLogger) Warn(msg string, args ...any) {
	l.logger.Printf("WARN %s %s", msg, formatArgs(args))
}

func (l stdLogger) Error(msg string, args ...any) {
	l.logger.Printf("ERROR %s %s", msg, formatArgs(args))
}

func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	pairs := make([]string, 0, len(args))
	for i := 0; i < len(args); i += 2 {
		key := args[i]
		val := any("<missing>")
		if i+1 < len(args) {
			val = args[i+1]
		}
		pairs = append(pairs, fmt.Sprintf("%v=%v", key, val))
	}

	return strings.Join(pairs, " ")
}

type promMetrics struct {
	processDuration   prometheus.Histogram
	processed         prometheus.Counter
	duplicates        prometheus.Counter
	permanentFailures prometheus.Counter
	transientFailures prometheus.Counter
	retries           prometheus.Counter
	deadLettered      prometheus.Counter
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	m := &promMetrics{
		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ledgerq",
			Name:      "process_duration_seconds",
			Help:      "Time to process one message.",
			Buckets:   prometheus.DefBuckets,
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerq",
			Name:      "messages_processed_total",
			Help:      "Messages applied successfully, duplicates included.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerq",
			Name:      "messages_duplicate_total",
			Help:      "Idempotent replays skipped.",
		}),
		permanentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerq",
			Name:      "failures_permanent_total",
			Help:      "Messages rejected as permanently invalid.",
		}),
		transientFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerq",
			Name:      "failures_transient_total",
			Help:      "Transient processing failures.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerq",
			Name:      "messages_retried_total",
			Help:      "Messages rescheduled for a later retry.",
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgerq",
			Name:      "messages_dead_lettered_total",
			Help:      "Messages moved to the dead-letter channel.",
		}),
	}
	reg.MustRegister(
		m.processDuration,
		m.processed,
		m.duplicates,
		m.permanentFailures,
		m.transientFailures,
		m.retries,
		m.deadLettered,
	)

	return m
}

func (m *promMetrics) ObserveProcessDuration(d time.Duration) {
	m.processDuration.Observe(d.Seconds())
}

func (m *promMetrics) AddProcessed(n int)         { m.processed.Add(float64(n)) }
func (m *promMetrics) AddDuplicates(n int)        { m.duplicates.Add(float64(n)) }
func (m *promMetrics) AddPermanentFailures(n int) { m.permanentFailures.Add(float64(n)) }
func (m *promMetrics) AddTransientFailures(n int) { m.transientFailures.Add(float64(n)) }
func (m *promMetrics) AddRetries(n int)           { m.retries.Add(float64(n)) }
func (m *promMetrics) AddDeadLettered(n int)      { m.deadLettered.Add(float64(n)) }

func main() {
	var (
		dsn          string
		table        string
		pollInterval time.Duration
		lease        time.Duration
		backoff      string
		metricsAddr  string
		migrate      bool
		verbose      bool
	)

	flag.StringVar(&dsn, "dsn", "", "MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true")
	flag.StringVar(&table, "table", "messages", "Message queue table name")
	flag.DurationVar(&pollInterval, "poll-interval", 10*time.Second, "Delay between empty queue polls")
	flag.DurationVar(&lease, "lease", 5*time.Minute, "Message visibility lease")
	flag.StringVar(&backoff, "backoff", "", "Comma-separated retry delays, e.g. 5s,25s,125s")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "Listen address for /metrics (empty disables)")
	flag.BoolVar(&migrate, "migrate", false, "Create tables before starting")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	if err := run(dsn, table, pollInterval, lease, backoff, metricsAddr, migrate, verbose); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}

func run(
	dsn, table string,
	pollInterval, lease time.Duration,
	backoff, metricsAddr string,
	migrate, verbose bool,
) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	logger := stdLogger{logger: log.New(os.Stdout, "", log.LstdFlags), verbose: verbose}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if migrate {
		if err := runMigrations(ctx, db); err != nil {
			return err
		}
	}

	schedule, err := parseBackoff(backoff)
	if err != nil {
		return err
	}

	queue, err := mysql.NewQueue(db, mysql.WithMessagesTable(table), mysql.WithLease(lease))
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	store, err := mysql.NewStore(db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	metrics := ledgerq.Metrics(ledgerq.NopMetrics{})
	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		metrics = newPromMetrics(registry)
		go serveMetrics(ctx, metricsAddr, registry, logger)
	}

	processor := ledgerq.NewProcessor(store, ledgerq.WithProcessorLogger(logger))
	worker := ledgerq.NewWorker(queue, processor,
		ledgerq.WithPollInterval(pollInterval),
		ledgerq.WithRetryPolicy(ledgerq.NewRetryPolicy(schedule)),
		ledgerq.WithLogger(logger),
		ledgerq.WithMetrics(metrics),
	)

	logger.Info("worker starting",
		"table", table, "poll_interval", pollInterval, "lease", lease)

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run worker: %w", err)
	}
	logger.Info("worker stopped")

	return nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	statements, err := mysql.Schema()
	if err != nil {
		return fmt.Errorf("build schema: %w", err)
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}

func parseBackoff(value string) ([]time.Duration, error) {
	if value == "" {
		return nil, nil
	}

	parts := strings.Split(value, ",")
	schedule := make([]time.Duration, 0, len(parts))
	for _, part := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: %q", errInvalidBackoff, part)
		}
		schedule = append(schedule, d)
	}

	return schedule, nil
}

func serveMetrics(ctx context.Context, addr string, registry *prometheus.Registry, logger stdLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownWait)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "err", err)
	}
}
