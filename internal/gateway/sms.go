package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// SMSRequest SMS 发送请求
type SMSRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Text string `json:"text"`
}

// SMSResponse SMS 发送响应
type SMSResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// SMSClient SMS 服务商 API 客户端（备用渠道，纯文本）
type SMSClient struct {
	httpClient *resty.Client
	senderID   string
	logger     *zap.Logger
}

// NewSMSClient 创建 SMS 客户端
// 不配置客户端级重试：备用渠道同样只允许一次尝试
func NewSMSClient(baseURL, apiKey, senderID string, timeout time.Duration, logger *zap.Logger) *SMSClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("Authorization", "Bearer "+apiKey)

	return &SMSClient{
		httpClient: client,
		senderID:   senderID,
		logger:     logger,
	}
}

// Name 渠道名称
func (c *SMSClient) Name() string {
	return "sms"
}

// Send 发送一条 SMS
func (c *SMSClient) Send(ctx context.Context, address, body string) (string, error) {
	request := SMSRequest{
		To:   address,
		From: c.senderID,
		Text: body,
	}

	var response SMSResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&response).
		SetError(&response).
		Post("/v1/sms")

	if err != nil {
		return "", fmt.Errorf("sms request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("sms returned status %d: %s", resp.StatusCode(), response.Error)
	}
	if response.Status == "failed" {
		return "", fmt.Errorf("sms rejected message: %s", response.Error)
	}
	if response.ID == "" {
		return "", fmt.Errorf("sms returned empty message id")
	}

	c.logger.Debug("SMS message accepted",
		zap.String("message_id", response.ID),
		zap.String("status", response.Status),
	)

	return response.ID, nil
}
