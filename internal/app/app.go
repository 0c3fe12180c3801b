// Package app 프로세스 부트스트랩: 설정으로부터 모든 의존성을 조립한다.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/channels"
	"github.com/afformationceo-debug/csflow-sub002/internal/config"
	"github.com/afformationceo-debug/csflow-sub002/internal/handlers"
	"github.com/afformationceo-debug/csflow-sub002/internal/lock"
	"github.com/afformationceo-debug/csflow-sub002/internal/models"
	"github.com/afformationceo-debug/csflow-sub002/internal/observability"
	"github.com/afformationceo-debug/csflow-sub002/internal/scheduler"
	"github.com/afformationceo-debug/csflow-sub002/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// Version 빌드 시 ldflags 로 주입
var Version = "dev"

// App 조립 완료된 애플리케이션
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	Logger      *logrus.Logger
	Registry    *channels.Registry
	Locks       lock.Provider
	Inbound     *services.InboundService
	Escalations *services.EscalationService
	SLA         *services.SLAService
	Sweeper     *services.SweeperService
	Scheduler   *scheduler.Scheduler

	shutdownTracing func(context.Context) error
}

// New 설정에서 전체 의존성 그래프 조립
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logrus.StandardLogger()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port,
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormtracing.NewPlugin(gormtracing.WithoutMetrics())); err != nil {
			logger.Warnf("Failed to enable gorm tracing: %v", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.AutoMigrate(
		&models.Tenant{}, &models.ChannelAccount{}, &models.Customer{}, &models.CustomerChannel{},
		&models.Conversation{}, &models.Message{}, &models.Escalation{}, &models.Agent{},
		&models.SLAConfig{}, &models.SLABreach{},
	); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warnf("Redis unreachable at startup, lock/queue paths will degrade: %v", err)
	}

	registry := &channels.Registry{
		Line:   channels.NewLineAdapter(cfg.Channels.Line, logger),
		Meta:   channels.NewMetaAdapter(cfg.Channels.Meta, logger),
		Kakao:  channels.NewKakaoAdapter(cfg.Channels.Kakao, logger),
		WeChat: channels.NewWeChatAdapter(cfg.Channels.WeChat, logger),
	}

	locks := lock.NewRedisProvider(rdb, logger)
	dispatcher := services.NewRedisDispatcher(rdb, logger)
	notifier := services.NewNotificationService(dispatcher, logger)

	identity := services.NewIdentityService(db, cfg.Pipeline.ReopenResolved, logger)
	language := services.NewLanguageService(
		db,
		services.NewHTTPLanguageAPI(cfg.Translation),
		services.NewRedisTranslationCache(rdb, logger),
		cfg.Translation,
		logger,
	)
	escalations := services.NewEscalationService(db, notifier, logger)
	sla := services.NewSLAService(db, escalations, notifier, logger)
	sweeper := services.NewSweeperService(db, escalations, notifier, nil, cfg.Scheduler.SweepBatchSize, logger)

	inbound := services.NewInboundService(services.InboundServiceDeps{
		DB:          db,
		Identity:    identity,
		Language:    language,
		Escalations: escalations,
		Pipeline:    services.NewHTTPPipelineClient(cfg.AI, logger),
		Dispatcher:  dispatcher,
		Locks:       locks,
		LockTTL:     cfg.Lock.TTL,
		Logger:      logger,
	})

	sched := scheduler.New(sla, sweeper, locks, cfg.Scheduler, logger)

	return &App{
		Config:          cfg,
		DB:              db,
		Redis:           rdb,
		Logger:          logger,
		Registry:        registry,
		Locks:           locks,
		Inbound:         inbound,
		Escalations:     escalations,
		SLA:             sla,
		Sweeper:         sweeper,
		Scheduler:       sched,
		shutdownTracing: shutdownTracing,
	}, nil
}

// Router HTTP 라우터 구성
func (a *App) Router() *gin.Engine {
	return handlers.SetupRouter(handlers.RouterDeps{
		Health:     handlers.NewHealthHandler(a.DB, Version),
		Webhook:    handlers.NewWebhookHandler(a.Registry, a.Inbound, a.Config.Channels, a.Logger),
		Escalation: handlers.NewEscalationHandler(a.Escalations, a.Logger),
		SLA:        handlers.NewSLAHandler(a.SLA, a.Sweeper, a.Logger),
		Config:     a.Config,
	})
}

// Close 자원 정리
func (a *App) Close(ctx context.Context) {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warnf("Failed to close redis: %v", err)
		}
	}
	if a.shutdownTracing != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(shutdownCtx); err != nil {
			a.Logger.Warnf("Failed to shut down tracing: %v", err)
		}
	}
}
