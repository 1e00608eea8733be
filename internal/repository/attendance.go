package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"upasthiti-notifier/internal/models"

	"go.uber.org/zap"
)

// AttendanceRepository 考勤记录仓库
// 本服务只做两件事：存在性检查与缺勤记录的条件插入；
// present/late/leave 记录由扫码硬件和教师手工录入模块写入
type AttendanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAttendanceRepository 创建考勤记录仓库
func NewAttendanceRepository(db *sql.DB, logger *zap.Logger) *AttendanceRepository {
	return &AttendanceRepository{
		db:     db,
		logger: logger,
	}
}

// HasRecord 检查指定学生在指定日期是否已有考勤记录（无论来源）
func (r *AttendanceRepository) HasRecord(ctx context.Context, tenantID, studentID string, date time.Time) (bool, error) {
	if tenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if studentID == "" {
		return false, fmt.Errorf("student_id is required")
	}

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM attendance_records
			WHERE tenant_id = $1
			  AND student_id = $2
			  AND attendance_date = $3
		)
	`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, tenantID, studentID, date.Format("2006-01-02")).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check attendance record: %w", err)
	}

	return exists, nil
}

// InsertAbsent 条件插入缺勤记录
// 依赖 (tenant_id, student_id, attendance_date) 唯一约束，冲突时静默跳过，
// 因此并发或重复的检测运行可以安全重试。返回值表示本次调用是否真正插入。
func (r *AttendanceRepository) InsertAbsent(ctx context.Context, rec *models.AttendanceRecord) (bool, error) {
	if rec == nil {
		return false, fmt.Errorf("record is required")
	}
	if rec.TenantID == "" {
		return false, fmt.Errorf("tenant_id is required")
	}
	if rec.StudentID == "" {
		return false, fmt.Errorf("student_id is required")
	}
	if rec.Status != models.StatusAbsent {
		return false, fmt.Errorf("only absent records may be inserted by this service, got %q", rec.Status)
	}

	query := `
		INSERT INTO attendance_records (
			record_id,
			tenant_id,
			student_id,
			attendance_date,
			status,
			check_in_time,
			is_system_generated,
			note,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (tenant_id, student_id, attendance_date) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx,
		query,
		rec.RecordID,
		rec.TenantID,
		rec.StudentID,
		rec.AttendanceDate.Format("2006-01-02"),
		string(rec.Status),
		rec.CheckInTime,
		rec.IsSystemGenerated,
		rec.Note,
		rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert absent record: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}
