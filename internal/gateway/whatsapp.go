package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WhatsAppRequest WhatsApp 发送请求
type WhatsAppRequest struct {
	To   string `json:"to"`
	Type string `json:"type"`
	Text struct {
		Body string `json:"body"`
	} `json:"text"`
}

// WhatsAppResponse WhatsApp 发送响应
type WhatsAppResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// WhatsAppClient WhatsApp 服务商 API 客户端（主渠道）
type WhatsAppClient struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

// NewWhatsAppClient 创建 WhatsApp 客户端
// 不配置客户端级重试：每条通知在主渠道上只允许一次尝试
func NewWhatsAppClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *WhatsAppClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Bearer "+apiKey)

	return &WhatsAppClient{
		httpClient: client,
		logger:     logger,
	}
}

// Name 渠道名称
func (c *WhatsAppClient) Name() string {
	return "whatsapp"
}

// Send 发送一条 WhatsApp 文本消息
func (c *WhatsAppClient) Send(ctx context.Context, address, body string) (string, error) {
	request := WhatsAppRequest{
		To:   address,
		Type: "text",
	}
	request.Text.Body = body

	var response WhatsAppResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		SetError(&response).
		Post("/v1/messages")

	if err != nil {
		return "", fmt.Errorf("whatsapp request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("whatsapp returned status %d: %s", resp.StatusCode(), response.Error)
	}
	if response.Status == "failed" {
		return "", fmt.Errorf("whatsapp rejected message: %s", response.Error)
	}
	if response.MessageID == "" {
		return "", fmt.Errorf("whatsapp returned empty message id")
	}

	c.logger.Debug("WhatsApp message accepted",
		zap.String("message_id", response.MessageID),
		zap.String("status", response.Status),
	)

	return response.MessageID, nil
}
