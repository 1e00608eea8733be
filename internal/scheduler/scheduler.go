// Package scheduler 决定检测通道何时、为哪些租户运行：
// 固定间隔的定时器 + 全局单次运行守卫 + 休息日/假日/整点门控，
// 以及绕过日历门控（但绝不绕过守卫）的手动触发入口。
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"upasthiti-notifier/internal/config"
	"upasthiti-notifier/internal/detector"
	"upasthiti-notifier/internal/models"
	"upasthiti-notifier/internal/repository"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrAlreadyRunning 已有检测通道在运行（到达的触发被整个跳过，不排队）
var ErrAlreadyRunning = errors.New("detection pass already in progress")

// DetectorRunner 调度器依赖的检测接口（由 detector.Detector 实现）
type DetectorRunner interface {
	Run(ctx context.Context, tenant models.TenantPolicy, date time.Time) (detector.TenantSummary, error)
}

// RunResult 手动触发的返回
type RunResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// RunSummary 一次检测通道的运行摘要（发布到 Redis 供运维查询）
type RunSummary struct {
	StartedAt  time.Time                `json:"started_at"`
	FinishedAt time.Time                `json:"finished_at"`
	Date       string                   `json:"date"`
	Forced     bool                     `json:"forced"`
	SkipReason string                   `json:"skip_reason,omitempty"`
	Tenants    []detector.TenantSummary `json:"tenants"`
	Errors     int                      `json:"errors"`
}

// Scheduler 检测调度器
type Scheduler struct {
	config      *config.Config
	tenantRepo  *repository.TenantRepository
	holidayRepo *repository.HolidayRepository
	detector    DetectorRunner
	redisClient *redis.Client
	location    *time.Location
	logger      *zap.Logger

	// 全局单次运行守卫：0 空闲，1 运行中
	running int32

	now func() time.Time
}

// New 创建调度器
func New(
	cfg *config.Config,
	tenantRepo *repository.TenantRepository,
	holidayRepo *repository.HolidayRepository,
	det DetectorRunner,
	redisClient *redis.Client,
	loc *time.Location,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		config:      cfg,
		tenantRepo:  tenantRepo,
		holidayRepo: holidayRepo,
		detector:    det,
		redisClient: redisClient,
		location:    loc,
		logger:      logger,
		now:         time.Now,
	}
}

// Start 启动调度循环（阻塞直到 ctx 取消）
func (s *Scheduler) Start(ctx context.Context) error {
	interval := time.Duration(s.config.Scheduler.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	s.logger.Info("Scheduler started",
		zap.Duration("interval", interval),
		zap.String("timezone", s.location.String()),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 启动时立即执行一次
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick 处理一次定时触发：任何错误都被吞掉并记录，不影响下一次触发
func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.runPass(ctx, false); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Warn("Tick skipped: previous detection pass still running")
			return
		}
		s.logger.Error("Detection pass failed", zap.Error(err))
	}
}

// RunNow 手动触发：绕过休息日/假日/整点门控，但绝不绕过单次运行守卫
func (s *Scheduler) RunNow(ctx context.Context) RunResult {
	summary, err := s.runPass(ctx, true)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			return RunResult{Success: false, Message: "detection pass already in progress"}
		}
		return RunResult{Success: false, Message: fmt.Sprintf("detection pass failed: %v", err)}
	}

	return RunResult{
		Success: true,
		Message: fmt.Sprintf("processed %d tenants for %s (%d errors)",
			len(summary.Tenants), summary.Date, summary.Errors),
	}
}

// runPass 执行一次检测通道
// 守卫通过 defer 释放，通道内的 panic 不会让守卫永久卡住
func (s *Scheduler) runPass(ctx context.Context, forced bool) (summary *RunSummary, err error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil, ErrAlreadyRunning
	}
	defer atomic.StoreInt32(&s.running, 0)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Detection pass panicked", zap.Any("panic", r))
			summary, err = nil, fmt.Errorf("detection pass panicked: %v", r)
		}
	}()

	now := s.now().In(s.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location)
	summary = &RunSummary{
		StartedAt: now,
		Date:      today.Format("2006-01-02"),
		Forced:    forced,
	}

	if !forced {
		if now.Weekday().String() == s.config.Scheduler.WeeklyOffDay {
			summary.SkipReason = "weekly off-day"
			s.logger.Info("Detection pass skipped", zap.String("reason", summary.SkipReason))
			return summary, nil
		}

		holiday, err := s.holidayRepo.IsHoliday(ctx, "", today)
		if err != nil {
			return summary, fmt.Errorf("failed to check shared holiday calendar: %w", err)
		}
		if holiday {
			summary.SkipReason = "shared holiday"
			s.logger.Info("Detection pass skipped", zap.String("reason", summary.SkipReason))
			return summary, nil
		}
	}

	tenants, err := s.tenantRepo.GetEligibleTenants(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to load eligible tenants: %w", err)
	}

	hour := now.Hour()
	for _, tenant := range tenants {
		if !tenant.Enabled {
			continue
		}
		// 正常模式下只处理整点匹配的租户；强制模式处理所有启用租户
		if !forced && tenant.CheckHour() != hour {
			continue
		}
		if !forced {
			// 租户自有假日（在共享日历之上追加）
			holiday, err := s.holidayRepo.IsHoliday(ctx, tenant.TenantID, today)
			if err != nil {
				summary.Errors++
				s.logger.Error("Failed to check tenant holiday calendar",
					zap.String("tenant_id", tenant.TenantID),
					zap.Error(err),
				)
				continue
			}
			if holiday {
				s.logger.Info("Tenant skipped: holiday",
					zap.String("tenant_id", tenant.TenantID),
				)
				continue
			}
		}

		// 单个租户的失败不影响后续租户
		tenantSummary, err := s.detector.Run(ctx, tenant, today)
		summary.Tenants = append(summary.Tenants, tenantSummary)
		if err != nil {
			summary.Errors++
			s.logger.Error("Tenant detection pass failed",
				zap.String("tenant_id", tenant.TenantID),
				zap.Error(err),
			)
		}
	}

	summary.FinishedAt = s.now().In(s.location)
	s.publish(ctx, summary)

	s.logger.Info("Detection pass finished",
		zap.String("date", summary.Date),
		zap.Bool("forced", forced),
		zap.Int("tenants", len(summary.Tenants)),
		zap.Int("errors", summary.Errors),
	)

	return summary, nil
}

// publish 将运行摘要发布到 Redis（尽力而为，失败只记录日志）
func (s *Scheduler) publish(ctx context.Context, summary *RunSummary) {
	if s.redisClient == nil {
		return
	}

	data, err := json.Marshal(summary)
	if err != nil {
		s.logger.Error("Failed to marshal run summary", zap.Error(err))
		return
	}

	if err := s.redisClient.Set(ctx, s.config.Notifier.LastRunKey, data, 24*time.Hour).Err(); err != nil {
		s.logger.Error("Failed to publish run summary", zap.Error(err))
	}
}
