package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypeNotifyDispatch = "notify:dispatch"
)

// NotifyDispatchPayload 描述一条待投递的实时事件。
// Payload 已是序列化后的消息体，worker 原样发布到对应频道。
type NotifyDispatchPayload struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// NewNotifyDispatchTask 构造一个实时事件投递任务。
func NewNotifyDispatchTask(channel string, payload []byte) (*asynq.Task, error) {
	data, err := json.Marshal(NotifyDispatchPayload{
		Channel: channel,
		Payload: payload,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNotifyDispatch, data), nil
}
