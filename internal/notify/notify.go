package notify

import (
	"context"
	"fmt"
)

// AdminChannel 是管理员会话订阅的生命周期事件频道。
const AdminChannel = "admin_notify"

// CandidateChannel 返回指定候选人的事件频道名。
func CandidateChannel(candidateID uint) string {
	return fmt.Sprintf("candidate_notify:%d", candidateID)
}

// 统一的 WebSocket 消息协议（经 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端解析保持一致。

// CreditUpdatedMessage 在候选人余额被改写后推送。
type CreditUpdatedMessage struct {
	Type        string `json:"type"`
	CandidateID uint   `json:"candidateId"`
	Credits     int    `json:"credits"`
}

// NewCreditUpdated 构造 credit-updated 事件。
func NewCreditUpdated(candidateID uint, credits int) CreditUpdatedMessage {
	return CreditUpdatedMessage{
		Type:        "credit-updated",
		CandidateID: candidateID,
		Credits:     credits,
	}
}

// FileLifecycleMessage 在名册文件状态迁移后推送到管理员频道。
type FileLifecycleMessage struct {
	Type        string `json:"type"`
	PlacementID uint   `json:"placementId"`
	FileID      uint   `json:"fileId"`
	Status      string `json:"status"`
}

// NewFileLifecycle 构造 file-lifecycle 事件。
func NewFileLifecycle(placementID, fileID uint, status string) FileLifecycleMessage {
	return FileLifecycleMessage{
		Type:        "file-lifecycle",
		PlacementID: placementID,
		FileID:      fileID,
		Status:      status,
	}
}

// Broadcaster 是业务侧唯一可见的推送入口。
// 投递语义为尽力而为、至多一次：掉线的会话重连后应自行拉取最新状态。
type Broadcaster interface {
	Publish(ctx context.Context, channel string, message any) error
}
