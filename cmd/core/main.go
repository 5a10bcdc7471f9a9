// Command core is the integration platform's single deployable binary: it
// wires the gateway ingress, the Unified API, the pipeline engine's
// consumer loop, the stream processor's two topic consumers, and the
// watchdog (plus its grooming goroutines) against a shared Postgres store
// and Redis instance, and runs them concurrently until signalled to stop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/integration-core/core/internal/callerclient"
	"github.com/integration-core/core/internal/config"
	"github.com/integration-core/core/internal/controlapi"
	"github.com/integration-core/core/internal/domain/accesskey"
	coreContext "github.com/integration-core/core/internal/domain/context"
	"github.com/integration-core/core/internal/domain/connection"
	"github.com/integration-core/core/internal/domain/event"
	"github.com/integration-core/core/internal/dispatcher"
	"github.com/integration-core/core/internal/gateway"
	"github.com/integration-core/core/internal/logging"
	"github.com/integration-core/core/internal/metrics"
	"github.com/integration-core/core/internal/pipeline"
	"github.com/integration-core/core/internal/pipelineconfig"
	"github.com/integration-core/core/internal/queue"
	"github.com/integration-core/core/internal/ratelimit"
	"github.com/integration-core/core/internal/scripthost"
	"github.com/integration-core/core/internal/store/memory"
	"github.com/integration-core/core/internal/store/postgres"
	"github.com/integration-core/core/internal/stream"
	"github.com/integration-core/core/internal/unifiedapi"
	"github.com/integration-core/core/internal/watchdog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "core: failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "core: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logging.NewFromEnv("core")

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Error("core: failed to connect to postgres")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.DBMaxConnections)
	db.SetConnMaxIdleTime(cfg.DBIdleTimeout)

	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		log.WithError(err).Error("core: failed to apply migrations")
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer rdb.Close()

	contexts := postgres.NewContextStore(db)
	transactions := postgres.NewTransactionStore(db)
	dedup := postgres.NewDedupStore(db)
	events := postgres.NewEventStore(db)

	workQueue := &queue.RedisQueue{Client: rdb, Name: cfg.WorkQueueName}

	catalog := memory.NewCatalog()
	scripts := scripthost.New(4)
	caller := callerclient.New(30*time.Second, noopRefresher{})

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "core"
	}

	disp := &dispatcher.Dispatcher{
		CMDs:        catalog,
		CMSs:        catalog,
		Secrets:     catalog.Secrets(),
		Connections: catalog.Connections(),
		Scripts:     scripts,
		Caller:      caller,
		Limiter:     ratelimit.New(rdb, cfg.APIThroughputKey),
		Host:        hostname,
	}

	accessKeySecret := accesskey.DeriveSecret(cfg.AccessKeySecret)
	resolver := pipelineconfig.NewStaticResolver(accessKeySecret, map[string][]pipelineconfig.PipelineSpec{}, 30*time.Second)

	pipelineDriver := &pipeline.PipelineDriver{
		Contexts:     contexts,
		Transactions: transactions,
		Scripts:      scripts,
		Extractor:    &pipeline.ExtractorDriver{Contexts: contexts, Transactions: transactions},
	}
	rootDriver := &pipeline.RootDriver{
		Contexts:     contexts,
		Transactions: transactions,
		Access:       resolver,
		Resolver:     resolver,
		Pipeline:     pipelineDriver,
	}
	pipelineConsumer := &pipeline.ConsumerLoop{
		Queue:  workQueue,
		Driver: rootDriver,
		Log:    zerolog.New(os.Stderr).With().Timestamp().Str("component", "pipeline-consumer").Logger(),
	}

	gw := gateway.New(gateway.Config{
		AccessKeySecret: accessKeySecret,
		CORSOrigins:     cfg.CORSOrigins,
	}, workQueue, log)

	unified := unifiedapi.New(unifiedapi.Config{TenantSecret: cfg.UnifiedTenantSecret}, catalog.Connections(), disp, log)

	control := controlapi.New([]byte(cfg.ControlAPISecret), events, workQueue, log)

	producer := &stream.RedisProducer{Client: rdb}
	targetConsumer := &stream.RedisConsumer{
		Client:       rdb,
		Topic:        stream.TopicTarget,
		Group:        cfg.StreamConsumerGroup,
		Consumer:     cfg.StreamConsumerName,
		BlockTimeout: time.Second,
	}
	dlqConsumer := &stream.RedisConsumer{
		Client:       rdb,
		Topic:        stream.TopicDLQ,
		Group:        stream.DLQGroup(cfg.StreamConsumerGroup),
		Consumer:     cfg.StreamConsumerName,
		BlockTimeout: time.Second,
	}

	processor := &stream.Processor{
		Producer:   producer,
		Events:     events,
		Dedup:      dedup,
		Effect:     &requeueSideEffect{queue: workQueue},
		MaxRetries: cfg.EventMaxRetries,
	}

	streamLog := zerolog.New(os.Stderr).With().Timestamp().Str("component", "stream-consumer").Logger()
	targetLoop := &stream.ConsumerLoop{
		Consumer:  targetConsumer,
		Processor: processor,
		Config: stream.LoopConfig{
			Topic:      stream.TopicTarget,
			BatchSize:  cfg.ConsumerBatchSize,
			LingerTime: cfg.ConsumerLingerTime,
		},
		Log: streamLog,
	}
	dlqLoop := &stream.ConsumerLoop{
		Consumer:  dlqConsumer,
		Processor: processor,
		Config: stream.LoopConfig{
			Topic:      stream.TopicDLQ,
			BatchSize:  cfg.ConsumerBatchSize,
			LingerTime: cfg.ConsumerLingerTime,
		},
		Log: streamLog,
	}

	wd := &watchdog.Watchdog{
		Finder:   contexts,
		Contexts: contexts,
		Events:   events,
		Queue:    workQueue,
		Config: watchdog.Config{
			PollInterval: time.Duration(cfg.WatchdogPollSeconds) * time.Second,
			EventTimeout: time.Duration(cfg.EventTimeoutSeconds) * time.Second,
			QueueName:    cfg.WorkQueueName,
		},
		Log: zerolog.New(os.Stderr).With().Timestamp().Str("component", "watchdog").Logger(),
	}
	groomer := &watchdog.Groomer{
		Client: rdb,
		Keys: watchdog.ThroughputKeys{
			EventThroughputKey: cfg.EventThroughputKey,
			APIThroughputKey:   cfg.APIThroughputKey,
		},
		Log: zerolog.New(os.Stderr).With().Timestamp().Str("component", "watchdog-groomer").Logger(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := targetConsumer.EnsureGroup(ctx, "$"); err != nil {
		log.WithError(err).Error("core: failed to ensure target consumer group")
		os.Exit(1)
	}
	if err := dlqConsumer.EnsureGroup(ctx, "$"); err != nil {
		log.WithError(err).Error("core: failed to ensure dlq consumer group")
		os.Exit(1)
	}

	gatewaySrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.GatewayPort), Handler: gw.Router()}
	unifiedSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.UnifiedPort), Handler: unified.Router()}
	controlSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.AdminPort), Handler: control.Router()}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return runServer(gctx, gatewaySrv, log, "gateway") })
	g.Go(func() error { return runServer(gctx, unifiedSrv, log, "unifiedapi") })
	g.Go(func() error { return runServer(gctx, controlSrv, log, "controlapi") })
	if cfg.MetricsEnabled {
		metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metrics.Handler()}
		g.Go(func() error { return runServer(gctx, metricsSrv, log, "metrics") })
	}

	g.Go(func() error { return pipelineConsumer.Run(gctx) })
	g.Go(func() error { return targetLoop.Run(gctx) })
	g.Go(func() error { return dlqLoop.Run(gctx) })
	g.Go(func() error { return wd.Run(gctx) })
	g.Go(func() error { groomer.Run(gctx); return nil })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.WithError(err).Error("core: a component exited unexpectedly")
		os.Exit(1)
	}
	log.Info("core: shutdown complete")
}

// runServer starts srv and blocks until ctx is cancelled, at which point it
// shuts srv down gracefully.
func runServer(ctx context.Context, srv *http.Server, log *logging.Logger, name string) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(map[string]interface{}{"addr": srv.Addr, "component": name}).Info("core: starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("%s: %w", name, err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: shutdown: %w", name, err)
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

// requeueSideEffect is the stream processor's SideEffect: it re-enqueues
// the event onto the pipeline engine's work queue starting from
// RootStageNew, treating a target-topic entity's processing as "hand it to
// the pipeline engine" (§4.6 "Processing" step 3, §6 work queue boundary).
type requeueSideEffect struct {
	queue queue.WorkQueue
}

func (s *requeueSideEffect) Execute(ctx context.Context, ev event.Event) error {
	ewc := coreContext.EventWithContext{
		Event: ev,
		Context: coreContext.RootContext{
			EventKey:  ev.ID.String(),
			Stage:     coreContext.RootStageNew{},
			Status:    coreContext.Succeeded{},
			Timestamp: time.Now(),
		},
	}
	payload, err := json.Marshal(ewc)
	if err != nil {
		return fmt.Errorf("requeueSideEffect: encode event: %w", err)
	}
	return s.queue.Push(ctx, payload)
}

// noopRefresher refuses OAuth refresh; no connections in the static
// catalog are configured with AuthMethodOAuth, so callerclient never
// actually calls this.
type noopRefresher struct{}

func (noopRefresher) Refresh(_ context.Context, _ connection.Connection) (string, error) {
	return "", fmt.Errorf("core: no OAuth token refresher configured")
}
