package repository

import (
	"context"
	"database/sql"
	"fmt"

	"upasthiti-notifier/internal/models"

	"go.uber.org/zap"
)

// TenantRepository 租户策略仓库（策略由租户配置管理模块维护，此处只读）
type TenantRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTenantRepository 创建租户策略仓库
func NewTenantRepository(db *sql.DB, logger *zap.Logger) *TenantRepository {
	return &TenantRepository{
		db:     db,
		logger: logger,
	}
}

// GetEligibleTenants 获取所有启用了自动缺勤检测的租户及其策略
func (r *TenantRepository) GetEligibleTenants(ctx context.Context) ([]models.TenantPolicy, error) {
	query := `
		SELECT
			tenant_id,
			tenant_name,
			auto_absent_enabled,
			grace_period_hours,
			school_start_time,
			check_time
		FROM tenant_policies
		WHERE auto_absent_enabled = TRUE
		ORDER BY tenant_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query eligible tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.TenantPolicy
	for rows.Next() {
		var t models.TenantPolicy
		if err := rows.Scan(
			&t.TenantID,
			&t.TenantName,
			&t.Enabled,
			&t.GracePeriodHours,
			&t.SchoolStartTime,
			&t.CheckTime,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant policy: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenant policies: %w", err)
	}

	return tenants, nil
}
