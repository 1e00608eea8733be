package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"upasthiti-notifier/internal/config"
	"upasthiti-notifier/internal/gateway"
	"upasthiti-notifier/internal/models"
	"upasthiti-notifier/internal/phone"
	"upasthiti-notifier/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Request 一条通知的发送请求
type Request struct {
	TenantID    string
	TenantName  string
	StudentID   string
	StudentName string
	Recipient   string                  // 原始联系号码（任意录入形式）
	Status      models.AttendanceStatus
	DisplayTime string                  // 消息中展示的时刻，如 "10:00"
	Date        time.Time               // 去重窗口所在日历日；零值表示今天
	Label       string                  // 批量发送时用于错误归属的标签；空时回落到学生姓名
}

// Result 一次分发的结果
// 预期内的失败（校验不通过、渠道失败）不以 error 形式抛出
type Result struct {
	Success   bool
	MessageID string
	Channel   string // primary / fallback
	Skipped   bool   // 去重短路（视为成功）
	Reason    string
	Err       string
}

// Dispatcher 通知分发器
// 状态机：VALIDATE → DEDUP_CHECK → SEND_PRIMARY → SEND_FALLBACK → LOG
// 每条通知：主渠道恰好一次尝试，失败后备用渠道至多一次尝试，不做其他重试
type Dispatcher struct {
	config   *config.Config
	logRepo  *repository.NotificationLogRepository
	cache    *DedupCache
	primary  gateway.Gateway
	fallback gateway.Gateway
	location *time.Location
	logger   *zap.Logger

	now func() time.Time
}

// NewDispatcher 创建通知分发器
func NewDispatcher(
	cfg *config.Config,
	logRepo *repository.NotificationLogRepository,
	cache *DedupCache,
	primary gateway.Gateway,
	fallback gateway.Gateway,
	loc *time.Location,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		config:   cfg,
		logRepo:  logRepo,
		cache:    cache,
		primary:  primary,
		fallback: fallback,
		location: loc,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch 分发一条通知
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	// ============================================
	// VALIDATE
	// ============================================
	if strings.TrimSpace(req.Recipient) == "" {
		return Result{Success: false, Reason: "recipient is required"}
	}
	if strings.TrimSpace(req.StudentName) == "" {
		return Result{Success: false, Reason: "student name is required"}
	}
	if strings.TrimSpace(req.StudentID) == "" {
		return Result{Success: false, Reason: "student id is required"}
	}
	if !req.Status.Valid() {
		return Result{Success: false, Reason: fmt.Sprintf("unsupported status %q", req.Status)}
	}

	cc := d.config.Notifier.DefaultCountryCode
	primaryAddr, err := phone.FormatWhatsApp(req.Recipient, cc)
	if err != nil {
		return Result{Success: false, Reason: "invalid phone", Err: err.Error()}
	}
	fallbackAddr, err := phone.FormatSMS(req.Recipient, cc)
	if err != nil {
		return Result{Success: false, Reason: "invalid phone", Err: err.Error()}
	}
	dedupKey := phone.DedupKey(req.Recipient)

	day := req.Date
	if day.IsZero() {
		day = d.now().In(d.location)
	}
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, d.location)

	// ============================================
	// DEDUP_CHECK（Redis 快路径 → 数据库）
	// ============================================
	cacheKey := d.cache.Key(dedupKey, req.StudentID, req.Status, day)
	if prevID, hit, err := d.cache.Lookup(ctx, cacheKey); err != nil {
		// 缓存故障只降级，不影响正确性
		d.logger.Warn("Dedup cache lookup failed, falling back to database",
			zap.String("student_id", req.StudentID),
			zap.Error(err),
		)
	} else if hit {
		return Result{Success: true, Skipped: true, MessageID: prevID}
	}

	existing, err := d.logRepo.FindExisting(ctx, dedupKey, req.StudentID, req.Status, day)
	if err != nil {
		// 去重查不到底就不发送，避免可能的重复打扰
		d.logger.Error("Dedup lookup failed",
			zap.String("student_id", req.StudentID),
			zap.Error(err),
		)
		return Result{Success: false, Reason: "dedup lookup failed", Err: err.Error()}
	}
	if existing != nil {
		if err := d.cache.Mark(ctx, cacheKey, existing.MessageID, d.dedupTTL(day)); err != nil {
			d.logger.Warn("Failed to backfill dedup cache", zap.Error(err))
		}
		return Result{Success: true, Skipped: true, MessageID: existing.MessageID}
	}

	// ============================================
	// COMPOSE
	// ============================================
	primaryBody, err := ComposeWhatsApp(req.Status, req.StudentName, req.DisplayTime, day, req.TenantName)
	if err != nil {
		return Result{Success: false, Reason: err.Error()}
	}
	fallbackBody, err := ComposeSMS(req.Status, req.StudentName, req.DisplayTime, day, req.TenantName)
	if err != nil {
		return Result{Success: false, Reason: err.Error()}
	}

	// ============================================
	// SEND_PRIMARY → SEND_FALLBACK
	// ============================================
	channel := models.ChannelPrimary
	messageID, primaryErr := d.send(ctx, d.primary, primaryAddr, primaryBody)

	var errDetail string
	if primaryErr != nil {
		d.logger.Warn("Primary channel failed, trying fallback",
			zap.String("student_id", req.StudentID),
			zap.String("channel", d.primary.Name()),
			zap.Error(primaryErr),
		)

		channel = models.ChannelFallback
		var fallbackErr error
		messageID, fallbackErr = d.send(ctx, d.fallback, fallbackAddr, fallbackBody)
		if fallbackErr != nil {
			// 两次失败的信息都保留到流水里
			errDetail = fmt.Sprintf("primary: %v; fallback: %v", primaryErr, fallbackErr)
		}
	}
	delivered := errDetail == ""

	// ============================================
	// LOG_SUCCESS / LOG_FAILURE
	// ============================================
	logRow := &models.NotificationLog{
		LogID:       uuid.New().String(),
		TenantID:    req.TenantID,
		DedupKey:    dedupKey,
		StudentID:   req.StudentID,
		StudentName: req.StudentName,
		Recipient:   fallbackAddr,
		Status:      req.Status,
		Channel:     channel,
		Delivered:   delivered,
		MessageID:   messageID,
		ErrorDetail: errDetail,
		SentDate:    day,
		SentAt:      d.now(),
	}
	if err := d.logRepo.Append(ctx, logRow); err != nil {
		// 流水写入失败单独记录，不改变已经得出的分发结果
		d.logger.Error("Failed to append notification log",
			zap.String("student_id", req.StudentID),
			zap.Bool("delivered", delivered),
			zap.Error(err),
		)
	}

	if !delivered {
		return Result{Success: false, Reason: "channel failure", Err: errDetail}
	}

	if err := d.cache.Mark(ctx, cacheKey, messageID, d.dedupTTL(day)); err != nil {
		d.logger.Warn("Failed to mark dedup cache", zap.Error(err))
	}

	d.logger.Info("Notification delivered",
		zap.String("tenant_id", req.TenantID),
		zap.String("student_id", req.StudentID),
		zap.String("status", string(req.Status)),
		zap.String("channel", channel),
		zap.String("message_id", messageID),
	)

	return Result{Success: true, MessageID: messageID, Channel: channel}
}

// send 执行单次渠道发送，带有界超时，保证单条挂起不会拖住整个分块
func (d *Dispatcher) send(ctx context.Context, gw gateway.Gateway, address, body string) (string, error) {
	timeout := time.Duration(d.config.Gateway.SendTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return gw.Send(sendCtx, address, body)
}

// dedupTTL 去重缓存键的存活时间：到当天结束
func (d *Dispatcher) dedupTTL(day time.Time) time.Duration {
	endOfDay := day.AddDate(0, 0, 1)
	return endOfDay.Sub(d.now().In(d.location))
}
