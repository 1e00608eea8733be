// Package detector 实现按租户的缺勤检测：
// 分页遍历在校花名册，为当天没有任何考勤记录的学生幂等地写入缺勤记录，
// 并逐个发起监护人通知。
package detector

import (
	"context"
	"fmt"
	"time"

	"upasthiti-notifier/internal/config"
	"upasthiti-notifier/internal/models"
	"upasthiti-notifier/internal/notifier"
	"upasthiti-notifier/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Notifier 检测器依赖的通知分发接口（由 notifier.Dispatcher 实现）
type Notifier interface {
	Dispatch(ctx context.Context, req notifier.Request) notifier.Result
}

// TenantSummary 单个租户一次检测的计数摘要
type TenantSummary struct {
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	Seen       int    `json:"seen"`
	Marked     int    `json:"marked_absent"`
	Notified   int    `json:"notified"`
	NoContact  int    `json:"no_contact"`
	Errors     int    `json:"errors"`
}

// Detector 缺勤检测器
type Detector struct {
	config         *config.Config
	rosterRepo     *repository.RosterRepository
	attendanceRepo *repository.AttendanceRepository
	notifier       Notifier
	location       *time.Location
	logger         *zap.Logger
}

// NewDetector 创建缺勤检测器
func NewDetector(
	cfg *config.Config,
	rosterRepo *repository.RosterRepository,
	attendanceRepo *repository.AttendanceRepository,
	n Notifier,
	loc *time.Location,
	logger *zap.Logger,
) *Detector {
	return &Detector{
		config:         cfg,
		rosterRepo:     rosterRepo,
		attendanceRepo: attendanceRepo,
		notifier:       n,
		location:       loc,
		logger:         logger,
	}
}

// Run 执行一个租户的检测。
// 花名册分页读取失败会中止该租户（由调度器隔离）；单个学生的处理失败
// 只计数并记录日志，不中断循环。没有在校学生的租户得到全零摘要。
func (d *Detector) Run(ctx context.Context, tenant models.TenantPolicy, date time.Time) (TenantSummary, error) {
	summary := TenantSummary{
		TenantID:   tenant.TenantID,
		TenantName: tenant.TenantName,
	}

	pageSize := d.config.Detector.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	checkTime := tenant.CheckTimestamp(date, d.location)
	note := fmt.Sprintf("Auto-marked absent: no attendance recorded by %s (grace period %dh after school start %s)",
		tenant.CheckTime, tenant.GracePeriodHours, tenant.SchoolStartTime)

	// 按 student_id 顺序分页，页未满即为最后一页
	for offset := 0; ; offset += pageSize {
		students, err := d.rosterRepo.ListActiveStudents(ctx, tenant.TenantID, pageSize, offset)
		if err != nil {
			return summary, fmt.Errorf("failed to read roster page at offset %d: %w", offset, err)
		}

		for i := range students {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			default:
			}

			d.processStudent(ctx, tenant, &students[i], date, checkTime, note, &summary)
		}

		if len(students) < pageSize {
			break
		}
	}

	d.logger.Info("Tenant detection pass finished",
		zap.String("tenant_id", tenant.TenantID),
		zap.Int("seen", summary.Seen),
		zap.Int("marked_absent", summary.Marked),
		zap.Int("notified", summary.Notified),
		zap.Int("no_contact", summary.NoContact),
		zap.Int("errors", summary.Errors),
	)

	return summary, nil
}

// processStudent 处理一名学生：存在性检查 → 条件插入缺勤 → 通知
func (d *Detector) processStudent(
	ctx context.Context,
	tenant models.TenantPolicy,
	student *models.StudentContact,
	date, checkTime time.Time,
	note string,
	summary *TenantSummary,
) {
	summary.Seen++

	exists, err := d.attendanceRepo.HasRecord(ctx, tenant.TenantID, student.StudentID, date)
	if err != nil {
		summary.Errors++
		d.logger.Error("Failed to check attendance record",
			zap.String("tenant_id", tenant.TenantID),
			zap.String("student_id", student.StudentID),
			zap.Error(err),
		)
		return
	}
	if exists {
		// 扫码、教师录入或上一次检测已有记录
		return
	}

	rec := &models.AttendanceRecord{
		RecordID:          uuid.New().String(),
		TenantID:          tenant.TenantID,
		StudentID:         student.StudentID,
		AttendanceDate:    date,
		Status:            models.StatusAbsent,
		CheckInTime:       checkTime,
		IsSystemGenerated: true,
		Note:              note,
		CreatedAt:         time.Now(),
	}

	inserted, err := d.attendanceRepo.InsertAbsent(ctx, rec)
	if err != nil {
		summary.Errors++
		d.logger.Error("Failed to insert absent record",
			zap.String("tenant_id", tenant.TenantID),
			zap.String("student_id", student.StudentID),
			zap.Error(err),
		)
		return
	}
	if !inserted {
		// 并发的检测运行抢先写入，由那一侧负责通知
		return
	}
	summary.Marked++

	contact := student.PrimaryContact()
	if contact == "" {
		summary.NoContact++
		d.logger.Info("No contact number on record",
			zap.String("tenant_id", tenant.TenantID),
			zap.String("student_id", student.StudentID),
		)
		return
	}

	res := d.notifier.Dispatch(ctx, notifier.Request{
		TenantID:    tenant.TenantID,
		TenantName:  tenant.TenantName,
		StudentID:   student.StudentID,
		StudentName: student.FullName,
		Recipient:   contact,
		Status:      models.StatusAbsent,
		DisplayTime: tenant.CheckTime,
		Date:        date,
		Label:       student.FullName,
	})
	if !res.Success {
		summary.Errors++
		d.logger.Error("Failed to notify guardian",
			zap.String("tenant_id", tenant.TenantID),
			zap.String("student_id", student.StudentID),
			zap.String("reason", res.Reason),
			zap.String("error", res.Err),
		)
		return
	}
	summary.Notified++
}
