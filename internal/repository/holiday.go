package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// HolidayRepository 假日日历仓库
// tenant_id 为 NULL 的行是平台共享假日；租户行在共享日历之上追加。
// tenantID 传空字符串时只命中共享假日（调度器的全局前置门控）。
type HolidayRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHolidayRepository 创建假日日历仓库
func NewHolidayRepository(db *sql.DB, logger *zap.Logger) *HolidayRepository {
	return &HolidayRepository{
		db:     db,
		logger: logger,
	}
}

// IsHoliday 检查指定日期是否为假日
func (r *HolidayRepository) IsHoliday(ctx context.Context, tenantID string, date time.Time) (bool, error) {
	day := date.Format("2006-01-02")

	var query string
	var args []interface{}
	if tenantID == "" {
		query = `
			SELECT EXISTS (
				SELECT 1
				FROM holiday_calendar
				WHERE holiday_date = $1
				  AND tenant_id IS NULL
			)
		`
		args = []interface{}{day}
	} else {
		query = `
			SELECT EXISTS (
				SELECT 1
				FROM holiday_calendar
				WHERE holiday_date = $1
				  AND (tenant_id IS NULL OR tenant_id = $2)
			)
		`
		args = []interface{}{day, tenantID}
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check holiday calendar: %w", err)
	}

	return exists, nil
}
