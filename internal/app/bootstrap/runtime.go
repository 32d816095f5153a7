// Package bootstrap assembles the long-lived components of one agent
// process from configuration. Builders degrade instead of failing where
// a collaborator is optional: missing Redis disables session resume,
// missing Postgres disables persistence-backed components, and the
// controller reports unconfigured surfaces as 503 at the API.
package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/itf-gmbh/phone-agent/internal/audit"
	"github.com/itf-gmbh/phone-agent/internal/campaign"
	"github.com/itf-gmbh/phone-agent/internal/clock"
	appconfig "github.com/itf-gmbh/phone-agent/internal/config"
	"github.com/itf-gmbh/phone-agent/internal/consent"
	"github.com/itf-gmbh/phone-agent/internal/control"
	"github.com/itf-gmbh/phone-agent/internal/conversation"
	"github.com/itf-gmbh/phone-agent/internal/dialer"
	"github.com/itf-gmbh/phone-agent/internal/emailintake"
	"github.com/itf-gmbh/phone-agent/internal/messaging"
	"github.com/itf-gmbh/phone-agent/internal/notify"
	"github.com/itf-gmbh/phone-agent/internal/observability/metrics"
	"github.com/itf-gmbh/phone-agent/internal/routing"
	"github.com/itf-gmbh/phone-agent/internal/scheduling"
	"github.com/itf-gmbh/phone-agent/internal/telephony"
	"github.com/itf-gmbh/phone-agent/internal/tenancy"
	retryworker "github.com/itf-gmbh/phone-agent/internal/worker/retry"
	"github.com/itf-gmbh/phone-agent/pkg/logging"
)

// Runtime is the assembled container the server binary runs.
type Runtime struct {
	Config   *appconfig.Config
	Logger   *logging.Logger
	TenantID uuid.UUID

	Pool  *pgxpool.Pool
	Redis *redis.Client
	Hours clock.BusinessHours

	Tenants      *tenancy.Store
	Appointments *scheduling.Store
	Consents     *consent.Store
	AuditLog     *audit.Logger

	SMSStore      *messaging.Store
	SMSSender     *messaging.Sender
	SMSWebhooks   *messaging.WebhookProcessor
	SMSProvider   string
	EmailStore    *notify.Store
	EmailSender   notify.EmailSender
	EmailQueue    *notify.Dispatcher
	EmailWebhooks *notify.SendGridWebhookProcessor
	EmailProvider string

	SIP    telephony.SIPClient
	Bridge *telephony.AudioBridge
	Dialer *dialer.Dialer
	Runner *conversation.Runner

	Reminders *campaign.ReminderWorkflow
	Recalls   *campaign.RecallWorkflow
	NoShows   *campaign.NoShowWorkflow

	Routing    *routing.Engine
	Intake     *emailintake.Service
	Controller *control.Controller
	Sweeper    *retryworker.Sweeper

	MetricsRegistry *prometheus.Registry
	CallMetrics     *metrics.CallMetrics
	DeliveryMetrics *metrics.DeliveryMetrics
	TaskMetrics     *metrics.TaskMetrics
}

// New builds the full runtime. Degradations are logged; only broken
// configuration (bad tenant id, bad business hours, unreachable database
// URL) is an error.
func New(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	clk := clock.System{}

	tenantID, err := parseTenantID(cfg.TenantID)
	if err != nil {
		return nil, err
	}

	hours, err := BuildBusinessHours(cfg)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		Config:          cfg,
		Logger:          logger,
		TenantID:        tenantID,
		Hours:           hours,
		MetricsRegistry: prometheus.NewRegistry(),
	}
	rt.CallMetrics = metrics.NewCallMetrics(rt.MetricsRegistry)
	rt.DeliveryMetrics = metrics.NewDeliveryMetrics(rt.MetricsRegistry)
	rt.TaskMetrics = metrics.NewTaskMetrics(rt.MetricsRegistry)

	rt.Pool, err = BuildPgxPool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt.Redis = BuildRedisClient(ctx, cfg, logger, true)

	if rt.Pool != nil {
		rt.Tenants = tenancy.NewStore(rt.Pool)
		rt.Appointments = scheduling.NewStore(rt.Pool, tenantID, clk)
		rt.Consents = consent.NewStore(rt.Pool, clk)
		rt.AuditLog = audit.NewLogger(rt.Pool, clk)
	} else {
		logger.Warn("no database configured; persistence-backed components disabled")
	}

	buildSMSPipeline(rt, cfg, clk, logger)
	if err := buildEmailPipeline(ctx, rt, cfg, clk, logger); err != nil {
		return nil, err
	}

	rt.Bridge = telephony.NewAudioBridge(logger)
	rt.SIP = telephony.NewSimulatedClient(nil, clk, logger)
	rt.Runner = buildConversationRunner(rt, cfg, clk, logger)

	rt.Dialer = dialer.New(dialer.Config{
		CallsPerMinute:     cfg.DialerCallsPerMinute,
		MaxConcurrentCalls: cfg.DialerMaxConcurrentCalls,
		RingTimeout:        cfg.DialerRingTimeout,
		DrainTimeout:       cfg.DialerDrainTimeout,
	}, rt.SIP, hours, clk, logger).
		WithRunner(rt.Runner).
		WithMetrics(rt.CallMetrics)
	if rt.Consents != nil {
		rt.Dialer = rt.Dialer.WithConsentGate(rt.Consents)
	}

	buildCampaigns(rt, cfg, clk, logger)

	if rt.Tenants != nil {
		rt.Routing = routing.NewEngine(rt.Tenants, clk, logger).
			WithAuditLog(rt.AuditLog).
			WithMetrics(rt.TaskMetrics)
		if notifier := buildWorkerNotifier(rt, cfg, logger); notifier != nil {
			rt.Routing = rt.Routing.WithNotifier(notifier)
		}
	}

	if err := buildEmailIntake(ctx, rt, cfg, clk, logger); err != nil {
		return nil, err
	}

	rt.Controller = buildController(rt, clk, logger)
	rt.Sweeper = buildSweeper(rt, cfg, logger)

	return rt, nil
}

// Close releases the runtime's external connections.
func (rt *Runtime) Close() {
	if rt.Pool != nil {
		rt.Pool.Close()
	}
	if rt.Redis != nil {
		_ = rt.Redis.Close()
	}
}

func parseTenantID(raw string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, fmt.Errorf("bootstrap: TENANT_ID is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("bootstrap: parse tenant id: %w", err)
	}
	return id, nil
}

// BuildBusinessHours parses the calling window from config.
func BuildBusinessHours(cfg *appconfig.Config) (clock.BusinessHours, error) {
	hours, err := clock.ParseBusinessHours(cfg.BusinessHoursStart, cfg.BusinessHoursEnd, cfg.BusinessTimezone, cfg.BusinessWeekdays)
	if err != nil {
		return clock.BusinessHours{}, fmt.Errorf("bootstrap: business hours: %w", err)
	}
	return hours, nil
}

// BuildPgxPool opens the Postgres pool, or returns nil when no database
// is configured.
func BuildPgxPool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Warn("postgres not reachable at startup", "error", err)
	}
	return pool, nil
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; call session resume disabled", "error", err)
		return nil
	}
	return client
}

func buildController(rt *Runtime, clk clock.Clock, logger *logging.Logger) *control.Controller {
	c := control.NewController(clk, logger).WithDialer(rt.Dialer)
	if rt.Reminders != nil {
		c = c.WithReminders(rt.Reminders)
	}
	if rt.Recalls != nil {
		c = c.WithRecalls(rt.Recalls)
	}
	if rt.NoShows != nil {
		c = c.WithNoShows(rt.NoShows)
	}
	if rt.SMSWebhooks != nil {
		c = c.WithSMSWebhooks(rt.SMSWebhooks)
	}
	if rt.EmailWebhooks != nil {
		c = c.WithEmailWebhooks(rt.EmailWebhooks)
	}
	return c
}

func buildSweeper(rt *Runtime, cfg *appconfig.Config, logger *logging.Logger) *retryworker.Sweeper {
	var smsQueue, emailQueue retryworker.Queue
	if rt.SMSSender != nil {
		smsQueue = rt.SMSSender
	}
	if rt.EmailQueue != nil {
		emailQueue = rt.EmailQueue
	}
	if smsQueue == nil && emailQueue == nil {
		return nil
	}
	return retryworker.NewSweeper(smsQueue, emailQueue, logger).
		WithInterval(cfg.RetrySweeperInterval).
		WithBatchSize(cfg.RetrySweeperBatch)
}
