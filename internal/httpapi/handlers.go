package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"

	"upasthiti-notifier/internal/config"
	"upasthiti-notifier/internal/scheduler"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Runner 手动触发入口（由 scheduler.Scheduler 实现）
type Runner interface {
	RunNow(ctx context.Context) scheduler.RunResult
}

// NotifierHandler 通知管理接口
type NotifierHandler struct {
	config      *config.Config
	runner      Runner
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
}

// NewNotifierHandler 创建通知管理接口
func NewNotifierHandler(
	cfg *config.Config,
	runner Runner,
	db *sql.DB,
	redisClient *redis.Client,
	logger *zap.Logger,
) *NotifierHandler {
	return &NotifierHandler{
		config:      cfg,
		runner:      runner,
		db:          db,
		redisClient: redisClient,
		logger:      logger,
	}
}

// TriggerRun POST /notifier/api/v1/run
// 手动触发一次强制检测；已有检测在运行时返回 409
func (h *NotifierHandler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	result := h.runner.RunNow(r.Context())

	status := http.StatusOK
	if !result.Success {
		if result.Message == "detection pass already in progress" {
			status = http.StatusConflict
		} else {
			status = http.StatusInternalServerError
		}
	}

	h.logger.Info("Manual detection run requested",
		zap.Bool("success", result.Success),
		zap.String("message", result.Message),
	)
	writeJSON(w, status, result)
}

// GetLastRun GET /notifier/api/v1/run/last
// 返回最近一次检测通道的运行摘要；尚无记录时返回 404
func (h *NotifierHandler) GetLastRun(w http.ResponseWriter, r *http.Request) {
	raw, err := h.redisClient.Get(r.Context(), h.config.Notifier.LastRunKey).Bytes()
	if err == redis.Nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no detection run recorded yet"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to read last run summary", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read last run summary"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// Healthz GET /healthz
// 依次探测 Postgres 和 Redis
func (h *NotifierHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.Error("Health check failed: database", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "component": "database"})
		return
	}
	if err := h.redisClient.Ping(r.Context()).Err(); err != nil {
		h.logger.Error("Health check failed: redis", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "component": "redis"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
