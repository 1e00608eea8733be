package notifier

import (
	"context"
	"sync"
	"time"

	"upasthiti-notifier/internal/config"

	"go.uber.org/zap"
)

// Sender 批量发送器依赖的分发接口
type Sender interface {
	Dispatch(ctx context.Context, req Request) Result
}

// BatchError 单条发送失败的归属记录
type BatchError struct {
	Label  string `json:"label"`
	Reason string `json:"reason"`
}

// BatchResult 一次批量发送的内存聚合结果（不落库）
// 恒等式：Sent + Skipped + Failed == Total
type BatchResult struct {
	Total   int          `json:"total"`
	Sent    int          `json:"sent"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
	Errors  []BatchError `json:"errors,omitempty"`
}

// BatchSender 批量发送器
// 将请求切成固定大小的分块，块内并发、块间等待并插入固定延迟，
// 避免压垮消息服务商的限流
type BatchSender struct {
	dispatcher Sender
	chunkSize  int
	chunkDelay time.Duration
	logger     *zap.Logger
}

// NewBatchSender 创建批量发送器
func NewBatchSender(cfg *config.Config, dispatcher Sender, logger *zap.Logger) *BatchSender {
	chunkSize := cfg.Notifier.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 20
	}
	chunkDelay := time.Duration(cfg.Notifier.ChunkDelayMs) * time.Millisecond

	return &BatchSender{
		dispatcher: dispatcher,
		chunkSize:  chunkSize,
		chunkDelay: chunkDelay,
		logger:     logger,
	}
}

// Send 批量发送。每条的结果恰好归入 sent/skipped/failed 之一；
// 单条失败不影响其他条目。上下文取消时，未处理的条目计为失败。
func (b *BatchSender) Send(ctx context.Context, reqs []Request) BatchResult {
	result := BatchResult{Total: len(reqs)}
	if len(reqs) == 0 {
		return result
	}

	results := make([]Result, len(reqs))
	canceledFrom := -1

	for start := 0; start < len(reqs); start += b.chunkSize {
		if ctx.Err() != nil {
			canceledFrom = start
			break
		}

		end := start + b.chunkSize
		if end > len(reqs) {
			end = len(reqs)
		}

		// 块内并发，整块完成后才开始下一块
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = b.dispatcher.Dispatch(ctx, reqs[i])
			}(i)
		}
		wg.Wait()

		// 块间固定延迟（最后一块之后不等待）
		if end < len(reqs) {
			select {
			case <-ctx.Done():
				canceledFrom = end
			case <-time.After(b.chunkDelay):
			}
			if canceledFrom >= 0 {
				break
			}
		}
	}

	for i, req := range reqs {
		if canceledFrom >= 0 && i >= canceledFrom {
			result.Failed++
			result.Errors = append(result.Errors, BatchError{
				Label:  batchLabel(req),
				Reason: "batch canceled",
			})
			continue
		}

		res := results[i]
		switch {
		case res.Success && res.Skipped:
			result.Skipped++
		case res.Success:
			result.Sent++
		default:
			result.Failed++
			reason := res.Reason
			if res.Err != "" {
				reason = reason + ": " + res.Err
			}
			result.Errors = append(result.Errors, BatchError{
				Label:  batchLabel(req),
				Reason: reason,
			})
		}
	}

	b.logger.Info("Batch send finished",
		zap.Int("total", result.Total),
		zap.Int("sent", result.Sent),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
	)

	return result
}

// batchLabel 确定错误归属标签
func batchLabel(req Request) string {
	if req.Label != "" {
		return req.Label
	}
	if req.StudentName != "" {
		return req.StudentName
	}
	return req.StudentID
}
