// Package gateway 封装两个外部消息服务商的 HTTP 客户端：
// WhatsApp（主渠道，富文本）与 SMS（备用渠道，纯文本）。
package gateway

import "context"

// Gateway 消息网关接口
type Gateway interface {
	// Name 渠道名称（用于日志）
	Name() string
	// Send 发送一条消息，返回服务商消息ID。
	// 单次调用只尝试一次，不做重试；超时由调用方通过 ctx 控制。
	Send(ctx context.Context, address, body string) (string, error)
}
