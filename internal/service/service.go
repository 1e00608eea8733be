package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"upasthiti-notifier/internal/config"
	"upasthiti-notifier/internal/detector"
	"upasthiti-notifier/internal/gateway"
	"upasthiti-notifier/internal/httpapi"
	"upasthiti-notifier/internal/notifier"
	"upasthiti-notifier/internal/repository"
	"upasthiti-notifier/internal/scheduler"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// NotifierService 缺勤通知服务（整合各层）
type NotifierService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger

	// 各层组件
	tenantRepo   *repository.TenantRepository
	rosterRepo   *repository.RosterRepository
	attendRepo   *repository.AttendanceRepository
	holidayRepo  *repository.HolidayRepository
	logRepo      *repository.NotificationLogRepository
	dedupCache   *notifier.DedupCache
	dispatcher   *notifier.Dispatcher
	batchSender  *notifier.BatchSender
	absDetector  *detector.Detector
	runScheduler *scheduler.Scheduler
	httpServer   *Server
}

// NewNotifierService 创建缺勤通知服务
func NewNotifierService(cfg *config.Config, logger *zap.Logger) (*NotifierService, error) {
	// 1. 连接数据库
	db, err := sql.Open("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 加载调度时区（所有日期/整点判断都在该时区进行）
	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", cfg.Scheduler.Timezone, err)
	}

	// 4. 创建 Repository 层
	tenantRepo := repository.NewTenantRepository(db, logger)
	rosterRepo := repository.NewRosterRepository(db, logger)
	attendRepo := repository.NewAttendanceRepository(db, logger)
	holidayRepo := repository.NewHolidayRepository(db, logger)
	logRepo := repository.NewNotificationLogRepository(db, logger)

	// 5. 创建网关客户端
	sendTimeout := time.Duration(cfg.Gateway.SendTimeoutSec) * time.Second
	whatsappClient := gateway.NewWhatsAppClient(
		cfg.Gateway.WhatsApp.BaseURL,
		cfg.Gateway.WhatsApp.APIKey,
		sendTimeout,
		logger,
	)
	smsClient := gateway.NewSMSClient(
		cfg.Gateway.SMS.BaseURL,
		cfg.Gateway.SMS.APIKey,
		cfg.Gateway.SMSSenderID,
		sendTimeout,
		logger,
	)

	// 6. 创建通知分发层
	dedupCache := notifier.NewDedupCache(cfg, redisClient, logger)
	dispatcher := notifier.NewDispatcher(cfg, logRepo, dedupCache, whatsappClient, smsClient, loc, logger)
	batchSender := notifier.NewBatchSender(cfg, dispatcher, logger)

	// 7. 创建检测器与调度器
	absDetector := detector.NewDetector(cfg, rosterRepo, attendRepo, dispatcher, loc, logger)
	runScheduler := scheduler.New(cfg, tenantRepo, holidayRepo, absDetector, redisClient, loc, logger)

	// 8. 创建管理接口
	router := httpapi.NewRouter(logger)
	router.RegisterNotifierRoutes(httpapi.NewNotifierHandler(cfg, runScheduler, db, redisClient, logger))
	httpServer := NewServer(cfg.HTTP.Addr, router, logger)

	return &NotifierService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		logger:       logger,
		tenantRepo:   tenantRepo,
		rosterRepo:   rosterRepo,
		attendRepo:   attendRepo,
		holidayRepo:  holidayRepo,
		logRepo:      logRepo,
		dedupCache:   dedupCache,
		dispatcher:   dispatcher,
		batchSender:  batchSender,
		absDetector:  absDetector,
		runScheduler: runScheduler,
		httpServer:   httpServer,
	}, nil
}

// BatchSender 批量发送入口（供外部批量调用方使用）
func (s *NotifierService) BatchSender() *notifier.BatchSender {
	return s.batchSender
}

// Start 启动服务：调度循环 + 管理接口
func (s *NotifierService) Start(ctx context.Context) error {
	s.logger.Info("Starting notifier service")

	errChan := make(chan error, 2)

	go func() {
		if err := s.runScheduler.Start(ctx); err != nil {
			errChan <- fmt.Errorf("scheduler error: %w", err)
		}
	}()

	go func() {
		if err := s.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop 停止服务
func (s *NotifierService) Stop() error {
	s.logger.Info("Stopping notifier service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Stop(shutdownCtx); err != nil {
		s.logger.Error("Failed to stop http server", zap.Error(err))
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}
