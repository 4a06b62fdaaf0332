/**
 * @description
 * The serve command runs the HTTP API together with its background workers: the
 * outbox dispatcher, the reporting projection consumer and the dashboard snapshot
 * scheduler. Redis and RabbitMQ are optional; without them claims are not rate
 * limited and ledger events are applied to the projection in-process.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: claim rate limiting.
 * - pkg/rabbitmq: outbox publishing and the projection consumer.
 * - internal/api, internal/app, internal/reporting: the service itself.
 */

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Aayu095/Job4Meal/internal/api"
	"github.com/Aayu095/Job4Meal/internal/app"
	"github.com/Aayu095/Job4Meal/internal/config"
	"github.com/Aayu095/Job4Meal/internal/reporting"
	rmrabbit "github.com/Aayu095/Job4Meal/pkg/rabbitmq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout   = 10 * time.Second
	consumerPrefetch  = 20
	redisPingTimeout  = 5 * time.Second
	claimLimitWindow  = time.Minute
	readHeaderTimeout = 10 * time.Second
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "serve",
		Short:         "Run the HTTP API and background workers",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, err := config.LoadConfig(opts.ConfigDir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return &ExitError{Code: ExitCommandError, Message: "JWT_SECRET must be configured"}
	}

	var extra []app.Option
	if redisClient := connectRedis(ctx, cfg); redisClient != nil {
		defer redisClient.Close()
		limiter := app.NewRedisClaimLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.ClaimRateLimitPerMinute, claimLimitWindow)
		extra = append(extra, app.WithClaimLimiter(limiter))
	}

	l, err := openLedger(ctx, cfg, extra...)
	if err != nil {
		return err
	}
	defer l.Close()
	log.Printf("level=info component=bootstrap msg=\"ledger store opened\" backend=%s", cfg.LedgerStore)

	reporter := reporting.NewReporter(l.store)
	initial, err := reporter.Snapshot(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute initial dashboard", err)
	}
	projection := reporting.NewProjection(initial)

	// Without a broker the dispatcher delivers straight into the projection.
	connect := app.PublisherFactory(func() (rmrabbit.Publisher, error) {
		return newLoopbackPublisher(projection.Handlers()), nil
	})
	var announcer rmrabbit.Publisher = &rmrabbit.EventProducerFallback{}
	if cfg.RabbitMQURL != "" {
		consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL, consumerPrefetch)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; applying events in-process\" err=%v", err)
		} else {
			defer consumer.Close()
			if err := consumer.ConsumeWithBindings(cfg.LedgerEventsExchange, cfg.ReportingEventQueue, projection.Handlers()); err != nil {
				return WrapExitError(ExitCommandError, "failed to start reporting consumer", err)
			}
			connect = app.RabbitPublisherFactory(cfg.RabbitMQURL)
			if producer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL); err != nil {
				log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; refresh announcements disabled\" err=%v", err)
			} else {
				defer producer.Close()
				announcer = producer
			}
			log.Println("level=info component=bootstrap msg=\"rabbitmq connected\"")
		}
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	dispatcher := app.NewOutboxDispatcher(l.store, connect, cfg.OutboxBatchSize, cfg.OutboxPollInterval())
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Run(workerCtx)
	}()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "reporting_scheduler")
	scheduler := reporting.NewScheduler(reporter, projection, announcer, cfg.LedgerEventsExchange, cfg.ReportSnapshotSchedule, logger)
	if err := scheduler.Start(); err != nil {
		return WrapExitError(ExitCommandError, "failed to start snapshot scheduler", err)
	}
	defer func() { <-scheduler.Stop().Done() }()

	handlers := api.NewHandlers(l.engine, reporter, projection)
	authCfg := api.AuthConfig{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           api.NewRouter(handlers, authCfg, cfg.AllowedOrigins()),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return WrapExitError(ExitCommandError, "server stopped unexpectedly", err)
		}
	}
	log.Println("level=info component=http msg=\"shutdown started\"")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	cancelWorkers()
	<-dispatcherDone

	log.Println("level=info component=http msg=\"shutdown complete\"")
	return nil
}

// connectRedis returns nil when rate limiting is disabled or Redis is unreachable.
func connectRedis(ctx context.Context, cfg config.Config) *redis.Client {
	if cfg.ClaimRateLimitPerMinute <= 0 {
		return nil
	}
	if cfg.RedisURL == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; claim rate limiting disabled\" env=REDIS_URL")
		return nil
	}
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; claim rate limiting disabled\" err=%v", err)
		return nil
	}
	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; claim rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}

// loopbackPublisher hands outbox messages directly to consumer handlers by routing key.
type loopbackPublisher struct {
	handlers map[string]rmrabbit.Handler
}

func newLoopbackPublisher(handlers map[string]rmrabbit.Handler) *loopbackPublisher {
	return &loopbackPublisher{handlers: handlers}
}

func (p *loopbackPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *loopbackPublisher) PublishRaw(ctx context.Context, exchange, routingKey, messageID string, body []byte) error {
	handler, ok := p.handlers[routingKey]
	if !ok {
		return nil
	}
	if !handler(body) {
		return fmt.Errorf("handler for %s rejected message %s", routingKey, messageID)
	}
	return nil
}

func (p *loopbackPublisher) Close() {}
