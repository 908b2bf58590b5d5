package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"campushire/internal/tasks"
)

// NotifyDispatchHandler 消费实时事件投递任务，将消息发布到 Redis Pub/Sub。
// API 侧的 WebSocket 处理器订阅对应频道并转发给已连接的会话。
type NotifyDispatchHandler struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewNotifyDispatchHandler 创建任务处理器。
func NewNotifyDispatchHandler(redisClient *redis.Client, logger *slog.Logger) *NotifyDispatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotifyDispatchHandler{
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
// Pub/Sub 没有持久化：没有订阅者时消息即被丢弃，这正是至多一次的投递语义。
func (h *NotifyDispatchHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.NotifyDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal notify payload failed", slog.Any("error", err))
		return err
	}

	if payload.Channel == "" {
		h.logger.Warn("notify task without channel, dropping")
		return nil
	}

	if err := h.redisClient.Publish(ctx, payload.Channel, []byte(payload.Payload)).Err(); err != nil {
		if isFinalAsynqAttempt(ctx) {
			h.logger.Error("notify publish failed on final attempt, dropping event",
				slog.String("channel", payload.Channel),
				slog.Any("error", err),
			)
			return nil
		}
		return fmt.Errorf("publish notification to %q: %w", payload.Channel, err)
	}

	h.logger.Debug("notify event published", slog.String("channel", payload.Channel))
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
