package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"campushire/internal/tasks"
)

// AsynqBroadcaster 把事件入队，由 worker 负责发布到 Redis Pub/Sub。
// 入队失败只影响本次推送，不影响业务写路径。
type AsynqBroadcaster struct {
	client *asynq.Client
	logger *slog.Logger
}

// NewAsynqBroadcaster 构造基于 asynq 的广播器。
func NewAsynqBroadcaster(client *asynq.Client, logger *slog.Logger) *AsynqBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsynqBroadcaster{client: client, logger: logger}
}

// Publish 实现 Broadcaster。
func (b *AsynqBroadcaster) Publish(ctx context.Context, channel string, message any) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}

	task, err := tasks.NewNotifyDispatchTask(channel, payload)
	if err != nil {
		return fmt.Errorf("build notify task: %w", err)
	}

	if _, err := b.client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue notify task for %q: %w", channel, err)
	}

	b.logger.Debug("notify event enqueued", slog.String("channel", channel))
	return nil
}
