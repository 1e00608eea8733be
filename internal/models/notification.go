package models

import "time"

// 通知发送渠道
const (
	ChannelPrimary  = "primary"  // WhatsApp（富文本）
	ChannelFallback = "fallback" // SMS（纯文本）
)

// NotificationLog 通知流水（仅追加，本服务不更新不删除）
// 去重窗口：同一 (dedup_key, student_id, status, sent_date) 的已送达记录至多一行
type NotificationLog struct {
	LogID       string
	TenantID    string
	DedupKey    string
	StudentID   string
	StudentName string
	Recipient   string
	Status      AttendanceStatus
	Channel     string // primary / fallback
	Delivered   bool
	MessageID   string
	ErrorDetail string
	SentDate    time.Time // 去重窗口所在的日历日
	SentAt      time.Time
}
