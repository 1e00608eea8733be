package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"upasthiti-notifier/internal/models"

	"go.uber.org/zap"
)

// NotificationLogRepository 通知流水仓库（仅追加）
type NotificationLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationLogRepository 创建通知流水仓库
func NewNotificationLogRepository(db *sql.DB, logger *zap.Logger) *NotificationLogRepository {
	return &NotificationLogRepository{
		db:     db,
		logger: logger,
	}
}

// FindExisting 按去重窗口 (dedup_key, student_id, status, sent_date) 查找已送达的通知。
// 只匹配 delivered = TRUE 的行：失败记录不占用去重窗口，后续日子里的重试不受影响。
// 未找到时返回 (nil, nil)。
func (r *NotificationLogRepository) FindExisting(ctx context.Context, dedupKey, studentID string, status models.AttendanceStatus, date time.Time) (*models.NotificationLog, error) {
	if dedupKey == "" {
		return nil, fmt.Errorf("dedup_key is required")
	}
	if studentID == "" {
		return nil, fmt.Errorf("student_id is required")
	}

	query := `
		SELECT
			log_id,
			tenant_id,
			dedup_key,
			student_id,
			student_name,
			recipient,
			status,
			channel,
			delivered,
			message_id,
			error_detail,
			sent_date,
			sent_at
		FROM notification_logs
		WHERE dedup_key = $1
		  AND student_id = $2
		  AND status = $3
		  AND sent_date = $4
		  AND delivered = TRUE
		LIMIT 1
	`

	var log models.NotificationLog
	var statusStr string
	var messageID, errorDetail sql.NullString

	err := r.db.QueryRowContext(ctx, query,
		dedupKey,
		studentID,
		string(status),
		date.Format("2006-01-02"),
	).Scan(
		&log.LogID,
		&log.TenantID,
		&log.DedupKey,
		&log.StudentID,
		&log.StudentName,
		&log.Recipient,
		&statusStr,
		&log.Channel,
		&log.Delivered,
		&messageID,
		&errorDetail,
		&log.SentDate,
		&log.SentAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query notification log: %w", err)
	}

	log.Status = models.AttendanceStatus(statusStr)
	log.MessageID = messageID.String
	log.ErrorDetail = errorDetail.String

	return &log, nil
}

// Append 追加一条通知流水（成功与失败都记录）
func (r *NotificationLogRepository) Append(ctx context.Context, log *models.NotificationLog) error {
	if log == nil {
		return fmt.Errorf("log is required")
	}
	if log.LogID == "" {
		return fmt.Errorf("log_id is required")
	}
	if log.DedupKey == "" {
		return fmt.Errorf("dedup_key is required")
	}
	if log.StudentID == "" {
		return fmt.Errorf("student_id is required")
	}

	query := `
		INSERT INTO notification_logs (
			log_id,
			tenant_id,
			dedup_key,
			student_id,
			student_name,
			recipient,
			status,
			channel,
			delivered,
			message_id,
			error_detail,
			sent_date,
			sent_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		log.LogID,
		log.TenantID,
		log.DedupKey,
		log.StudentID,
		log.StudentName,
		log.Recipient,
		string(log.Status),
		log.Channel,
		log.Delivered,
		log.MessageID,
		log.ErrorDetail,
		log.SentDate.Format("2006-01-02"),
		log.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append notification log: %w", err)
	}

	return nil
}
