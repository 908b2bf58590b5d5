package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 名册流水线指标。
var (
	FileTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campushire",
			Subsystem: "placement",
			Name:      "file_transitions_total",
			Help:      "名册文件状态迁移总数。",
		},
		[]string{"to_status"},
	)

	CandidatesProvisioned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "campushire",
			Subsystem: "placement",
			Name:      "candidates_provisioned_total",
			Help:      "成功开通的候选人账号总数。",
		},
	)

	CandidatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "campushire",
			Subsystem: "placement",
			Name:      "candidates_skipped_total",
			Help:      "因邮箱重复被跳过的行总数。",
		},
	)

	CreditUpdates = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "campushire",
			Subsystem: "placement",
			Name:      "credit_updates_total",
			Help:      "credit 整体改写操作总数（按文件计）。",
		},
	)
)
