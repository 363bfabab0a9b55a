package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/acme/campaign-orchestrator/internal/admin"
	"github.com/acme/campaign-orchestrator/internal/budget"
	"github.com/acme/campaign-orchestrator/internal/callinit"
	"github.com/acme/campaign-orchestrator/internal/config"
	"github.com/acme/campaign-orchestrator/internal/infra/db"
	"github.com/acme/campaign-orchestrator/internal/infra/redis"
	"github.com/acme/campaign-orchestrator/internal/queue"
	"github.com/acme/campaign-orchestrator/internal/reaper"
	"github.com/acme/campaign-orchestrator/internal/repository"
	pgrepo "github.com/acme/campaign-orchestrator/internal/repository/postgres"
	scyllarepo "github.com/acme/campaign-orchestrator/internal/repository/scylla"
	"github.com/acme/campaign-orchestrator/internal/scheduler"
	campaignsvc "github.com/acme/campaign-orchestrator/internal/service/campaign"
	"github.com/acme/campaign-orchestrator/internal/telephony"
	telephonyMock "github.com/acme/campaign-orchestrator/internal/telephony/mock"
	telephonyTwilio "github.com/acme/campaign-orchestrator/internal/telephony/twilio"
	telephonyVonage "github.com/acme/campaign-orchestrator/internal/telephony/vonage"
	"github.com/acme/campaign-orchestrator/internal/voiceengine"
	"github.com/acme/campaign-orchestrator/internal/webhook"
	"github.com/acme/campaign-orchestrator/internal/worker/statusapplier"
	"github.com/acme/campaign-orchestrator/internal/worker/wakeup"
	"github.com/acme/campaign-orchestrator/pkg/logger"
)

// Container wires together shared infrastructure dependencies.
type Container struct {
	Config *config.Config
	Logger *logger.Logger

	Postgres *db.Postgres
	Scylla   *db.Scylla
	Redis    *redis.Client
	Kafka    *queue.Kafka

	// lazily initialised components
	components struct {
		once       sync.Once
		repos      *repositories
		budget     *budget.Store
		providers  telephony.Registry
		engine     voiceengine.Client
		initiator  *callinit.Initiator
		reducer    *webhook.Reducer
		reaper     *reaper.Reaper
		loop       *scheduler.Loop
		admin      *admin.Service
		campaigns  *campaignsvc.Service
		publishers *publishers
		workers    *workers
	}
}

type repositories struct {
	Campaigns     repository.CampaignStore
	UserSettings  repository.UserSettingsStore
	CallHistory   repository.CallHistoryStore
}

type publishers struct {
	WebhookEvents *queue.WebhookEventPublisher
	Wakeups       *queue.WakeupPublisher
}

type workers struct {
	StatusApplier *statusapplier.Worker
	Wakeup        *wakeup.Worker
}

// Build constructs a container for the given configuration path.
func Build(ctx context.Context, configPath string) (*Container, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, err
	}

	pg, err := db.NewPostgres(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("bootstrap postgres: %w", err)
	}

	scylla, err := db.NewScylla(cfg.Scylla)
	if err != nil {
		return nil, fmt.Errorf("bootstrap scylla: %w", err)
	}

	redisClient, err := redis.NewClient(cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}

	kafka, err := queue.NewKafka(cfg.Kafka)
	if err != nil {
		return nil, fmt.Errorf("bootstrap kafka: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   lg,
		Postgres: pg,
		Scylla:   scylla,
		Redis:    redisClient,
		Kafka:    kafka,
	}

	return container, nil
}

func (c *Container) initComponents() {
	c.components.once.Do(func() {
		repos := &repositories{
			Campaigns:    pgrepo.NewCampaignStore(c.Postgres.DB()),
			UserSettings: pgrepo.NewUserSettingsStore(c.Postgres.DB()),
			CallHistory:  scyllarepo.NewCallHistoryStore(c.Scylla.Session()),
		}

		budgetStore := budget.NewStore(
			c.Redis.Inner(),
			repos.Campaigns,
			repos.UserSettings,
			c.Config.Budget.DefaultMaxConcurrentCalls,
			c.Config.Budget.LatchTTL,
		)

		providers := telephony.Registry{
			"twilio": telephonyTwilio.New(c.Config.Webhook.BaseURL, c.Config.CallBridge.RequestTimeout),
			"vonage": telephonyVonage.New(c.Config.Webhook.BaseURL, c.Config.CallBridge.RequestTimeout),
			"mock":   telephonyMock.New(),
		}

		engine := voiceengine.New(c.Config.VoiceEngine)

		initiator := callinit.New(
			repos.Campaigns,
			repos.UserSettings,
			repos.CallHistory,
			budgetStore,
			engine,
			providers,
			callinit.Config{
				MaxDuration:      c.Config.CallBridge.DefaultMaxDuration,
				RecordingEnabled: c.Config.CallBridge.RecordingEnabled,
				DefaultProvider:  c.Config.CallBridge.DefaultProvider,
			},
			c.Logger,
		)

		pubs := &publishers{
			WebhookEvents: queue.NewWebhookEventPublisher(c.Kafka, c.Config.Kafka.WebhookEventTopic),
			Wakeups:       queue.NewWakeupPublisher(c.Kafka, c.Config.Kafka.WakeupTopic),
		}

		reducer := webhook.New(
			repos.Campaigns,
			repos.CallHistory,
			budgetStore,
			pubs.Wakeups,
			c.Config.Scheduler.ProcessingWakeDelay,
			c.Config.Webhook.EngineSigningSecret,
			c.Logger,
		)

		reap := reaper.New(
			repos.Campaigns,
			budgetStore,
			pubs.Wakeups,
			c.Config.Scheduler.StaleCallThreshold,
			c.Config.Scheduler.ProcessingWakeDelay,
			c.Logger,
		)

		loop := scheduler.New(
			repos.Campaigns,
			budgetStore,
			reap,
			initiator,
			c.Config.Scheduler.TickInterval,
			c.Config.Scheduler.CampaignFetchLimit,
			c.Config.Scheduler.StartGracePeriod,
			c.Logger,
		)

		adminSvc := admin.New(repos.Campaigns, budgetStore, loop, initiator)
		campaignSvc := campaignsvc.NewService(repos.Campaigns)

		wrk := &workers{
			StatusApplier: statusapplier.New(c.Kafka, c.Config.Kafka.WebhookEventTopic, c.Config.Kafka.ConsumerGroupID, reducer, c.Logger),
			Wakeup:        wakeup.New(c.Kafka, c.Config.Kafka.WakeupTopic, c.Config.Kafka.ConsumerGroupID, loop, c.Logger),
		}

		c.components.repos = repos
		c.components.budget = budgetStore
		c.components.providers = providers
		c.components.engine = engine
		c.components.initiator = initiator
		c.components.reducer = reducer
		c.components.reaper = reap
		c.components.loop = loop
		c.components.admin = adminSvc
		c.components.campaigns = campaignSvc
		c.components.publishers = pubs
		c.components.workers = wrk
	})
}

// Repositories exposes initialized repositories.
func (c *Container) Repositories() *repositories {
	c.initComponents()
	return c.components.repos
}

// Budget exposes the per-user concurrency budget store.
func (c *Container) Budget() *budget.Store {
	c.initComponents()
	return c.components.budget
}

// WebhookReducer exposes the webhook normalization/apply pipeline.
func (c *Container) WebhookReducer() *webhook.Reducer {
	c.initComponents()
	return c.components.reducer
}

// WebhookPublisher exposes the publisher handlers use to hand normalized
// events off to the StatusApplier worker.
func (c *Container) WebhookPublisher() *queue.WebhookEventPublisher {
	c.initComponents()
	return c.components.publishers.WebhookEvents
}

// Admin exposes the administrative operations service.
func (c *Container) Admin() *admin.Service {
	c.initComponents()
	return c.components.admin
}

// Campaigns exposes the campaign creation/update service.
func (c *Container) Campaigns() *campaignsvc.Service {
	c.initComponents()
	return c.components.campaigns
}

// SchedulerLoop exposes the periodic tick loop.
func (c *Container) SchedulerLoop() *scheduler.Loop {
	c.initComponents()
	return c.components.loop
}

// StatusApplierWorker exposes the webhook-event consumer.
func (c *Container) StatusApplierWorker() *statusapplier.Worker {
	c.initComponents()
	return c.components.workers.StatusApplier
}

// WakeupWorker exposes the delayed processUserCalls consumer.
func (c *Container) WakeupWorker() *wakeup.Worker {
	c.initComponents()
	return c.components.workers.Wakeup
}

// Close releases all held resources.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	if c.components.publishers != nil {
		if c.components.publishers.WebhookEvents != nil {
			if err := c.components.publishers.WebhookEvents.Close(); err != nil {
				errs = append(errs, fmt.Errorf("webhook publisher close: %w", err))
			}
		}
		if c.components.publishers.Wakeups != nil {
			if err := c.components.publishers.Wakeups.Close(); err != nil {
				errs = append(errs, fmt.Errorf("wakeup publisher close: %w", err))
			}
		}
	}
	if c.Kafka != nil {
		if err := c.Kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka close: %w", err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}
	if c.Scylla != nil {
		if err := c.Scylla.Close(); err != nil {
			errs = append(errs, fmt.Errorf("scylla close: %w", err))
		}
	}
	if c.Postgres != nil {
		if err := c.Postgres.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres close: %w", err))
		}
	}
	if c.Logger != nil {
		c.Logger.Sync()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}

// EnsureTopics ensures required Kafka topics exist.
func (c *Container) EnsureTopics(ctx context.Context) error {
	topics := []string{c.Config.Kafka.WebhookEventTopic, c.Config.Kafka.WakeupTopic}
	if err := c.Kafka.EnsureTopics(ctx, topics, 12, 1); err != nil {
		return err
	}

	if c.Config.Kafka.DeadLetterTopic != "" {
		if err := c.Kafka.EnsureTopics(ctx, []string{c.Config.Kafka.DeadLetterTopic}, 4, 1); err != nil {
			return err
		}
	}

	return nil
}
