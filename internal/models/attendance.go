package models

import (
	"fmt"
	"strings"
	"time"
)

// AttendanceStatus 考勤状态（闭合枚举，边界处校验）
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusLate    AttendanceStatus = "late"
	StatusAbsent  AttendanceStatus = "absent"
	StatusLeave   AttendanceStatus = "leave"
)

// Valid 检查状态是否为支持的值
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusLate, StatusAbsent, StatusLeave:
		return true
	default:
		return false
	}
}

// TenantPolicy 租户考勤策略（由租户配置管理模块维护，本服务只读）
type TenantPolicy struct {
	TenantID         string
	TenantName       string
	Enabled          bool
	GracePeriodHours int
	SchoolStartTime  string // "HH:MM"
	CheckTime        string // "HH:MM"，检测任务的触发小时取自该字段
}

// CheckHour 返回 CheckTime 的小时部分（解析失败返回 -1，永远不会匹配任何整点）
func (p *TenantPolicy) CheckHour() int {
	hour, _, err := parseClock(p.CheckTime)
	if err != nil {
		return -1
	}
	return hour
}

// CheckTimestamp 返回指定日期在指定时区下的检测时刻
func (p *TenantPolicy) CheckTimestamp(date time.Time, loc *time.Location) time.Time {
	hour, minute, err := parseClock(p.CheckTime)
	if err != nil {
		hour, minute = 0, 0
	}
	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, loc)
}

// parseClock 解析 "HH:MM" 格式的时钟字符串
func parseClock(s string) (hour, minute int, err error) {
	if _, err = fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid clock value %q", s)
	}
	return hour, minute, nil
}

// StudentContact 学生及监护人联系方式（由花名册模块维护，本服务只读）
type StudentContact struct {
	StudentID     string
	FullName      string
	RollNumber    string
	ClassName     string
	SectionName   string
	GuardianPhone string
	ParentPhone   string
	MotherPhone   string
	GuardianName  string
	ParentName    string
}

// PrimaryContact 按固定优先级（guardian → parent → mother）返回第一个非空号码，
// 全部为空时返回空字符串
func (s *StudentContact) PrimaryContact() string {
	for _, candidate := range []string{s.GuardianPhone, s.ParentPhone, s.MotherPhone} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}

// AttendanceRecord 考勤记录
// 唯一性约束：(tenant_id, student_id, attendance_date) 至多一行
type AttendanceRecord struct {
	RecordID          string
	TenantID          string
	StudentID         string
	AttendanceDate    time.Time
	Status            AttendanceStatus
	CheckInTime       time.Time
	IsSystemGenerated bool
	Note              string
	CreatedAt         time.Time
}
