// Package app wires the reminder service from configuration. Both the
// long-running worker and the Lambda handler build the same Runtime so the
// two trigger paths always run an identically configured cycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"leadflow/internal/config"
	"leadflow/internal/core"
	"leadflow/internal/db"
	"leadflow/internal/external"
	"leadflow/internal/ledger"
	"leadflow/internal/metrics"
	"leadflow/internal/notifications/email"
	"leadflow/internal/queue"
	"leadflow/internal/scheduler"
	"leadflow/internal/timezone"
	"leadflow/internal/types"
)

// Runtime is a fully wired reminder service.
type Runtime struct {
	Config  *config.Config
	Logger  *slog.Logger
	Cycle   *scheduler.Cycle
	Trigger *queue.RunTrigger

	// HealthChecks back GET /health.
	HealthChecks []core.HealthCheck
	// MetricsHandler is non-nil only for the prometheus backend.
	MetricsHandler http.Handler

	closers []func()
}

// Close releases pools and clients in reverse construction order.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// NewLogger returns the JSON stdout logger used by every binary.
func NewLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})).With("service", cfg.Service, "env", cfg.Environment)
}

// Build connects to the database, resolves claim support from the schema
// version and assembles the cycle with its sender, ledger and metrics
// backends. On error every resource opened so far is released.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg, Logger: logger}
	ready := false
	defer func() {
		if !ready {
			rt.Close()
		}
	}()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	rt.closers = append(rt.closers, pool.Close)
	rt.HealthChecks = append(rt.HealthChecks, core.NewPingCheck("database", pool))

	claiming, err := db.ResolveClaimSupport(cfg.Reminder.ClaimMode, func() (uint, bool, error) {
		return db.SchemaVersion(cfg.Database.URL.Unmask())
	})
	if err != nil {
		return nil, fmt.Errorf("resolving claim support: %w", err)
	}
	if !claiming {
		logger.WarnContext(ctx, "notification claiming unavailable, running in legacy mode",
			"claim_mode", cfg.Reminder.ClaimMode,
		)
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	recorder, err := rt.buildMetrics(loadAWS)
	if err != nil {
		return nil, err
	}

	digestLedger, err := rt.buildLedger(pool)
	if err != nil {
		return nil, err
	}

	renderer, err := email.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("parsing email templates: %w", err)
	}

	if cfg.AWS.TriggerQueueURL != "" {
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		rt.Trigger = queue.NewRunTrigger(sqs.NewFromConfig(c, func(o *sqs.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		}), cfg.AWS.TriggerQueueURL, logger)
	}

	rt.Cycle = scheduler.NewCycle(scheduler.Deps{
		Tasks:    db.NewFollowUpRepository(pool, claiming),
		Profiles: db.NewProfileRepository(pool, cfg.Reminder.DefaultLeadMinutes),
		Leads:    db.NewLeadRepository(pool),
		Sender:   rt.buildSender(),
		Renderer: renderer,
		Ledger:   digestLedger,
		History:  db.NewJobHistoryRepository(pool),
		Metrics:  recorder,
		Zones:    timezone.NewResolver(cfg.Reminder.DefaultTimezone),
		Logger:   logger,
	}, scheduler.Options{
		HorizonDays:      cfg.Reminder.HorizonDays,
		ClaimTTL:         cfg.Reminder.ClaimTTL,
		SupportsClaiming: claiming,
		Concurrency:      cfg.Reminder.Concurrency,
		Notifier: scheduler.NotifierConfig{
			From:        types.SenderIdentity{Name: cfg.Email.FromName, Address: cfg.Email.FromAddress},
			SendTimeout: cfg.Email.SendTimeout,
		},
		DigestWindow: &scheduler.DigestWindow{
			Hour:    cfg.Digest.Hour,
			Minutes: cfg.Digest.WindowMinutes,
		},
	})

	logger.InfoContext(ctx, "reminder runtime ready",
		"legacy_mode", !claiming,
		"digest_ledger", cfg.Digest.Ledger,
		"email_provider", cfg.Email.Provider,
		"metrics_backend", cfg.Observability.MetricsBackend,
		"async_trigger", rt.Trigger.Enabled(),
	)
	ready = true
	return rt, nil
}

func (rt *Runtime) buildMetrics(loadAWS func() (aws.Config, error)) (metrics.Recorder, error) {
	switch rt.Config.Observability.MetricsBackend {
	case "cloudwatch":
		c, err := loadAWS()
		if err != nil {
			return nil, err
		}
		client := cloudwatch.NewFromConfig(c, func(o *cloudwatch.Options) {
			if rt.Config.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(rt.Config.AWS.EndpointURL)
			}
		})
		return metrics.NewCloudWatchRecorder(client, rt.Config.Observability.MetricNamespace, rt.Logger), nil
	case "prometheus":
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rt.MetricsHandler = metrics.Handler(reg)
		return metrics.NewCollector(reg), nil
	default:
		return metrics.Nop{}, nil
	}
}

func (rt *Runtime) buildLedger(pool *pgxpool.Pool) (scheduler.DigestLedger, error) {
	switch rt.Config.Digest.Ledger {
	case config.LedgerPostgres:
		return db.NewDigestDeliveryRepository(pool), nil
	case config.LedgerRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     rt.Config.Redis.Addr,
			Password: rt.Config.Redis.Password.Unmask(),
			DB:       rt.Config.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = client.Close() })
		l := ledger.NewRedis(client, ledger.WithLogger(rt.Logger))
		rt.HealthChecks = append(rt.HealthChecks, core.NewPingCheck("digest_ledger", l))
		return l, nil
	case config.LedgerMemory, "":
		return ledger.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown digest ledger %q", rt.Config.Digest.Ledger)
	}
}

func (rt *Runtime) buildSender() external.EmailProvider {
	var provider external.EmailProvider
	if rt.Config.Email.Provider == "stub" {
		provider = external.NewStubEmailProvider(rt.Logger)
	} else {
		provider = external.NewSendGridClient(&http.Client{Timeout: rt.Config.Email.SendTimeout}, external.SendGridClientConfig{
			APIKey:  rt.Config.Email.SendGridAPIKey,
			BaseURL: rt.Config.Email.SendGridURL,
			Logger:  rt.Logger,
		})
	}
	return external.NewRateLimitedSender(provider, rt.Config.Email.RatePerSecond, rt.Config.Email.Burst)
}
