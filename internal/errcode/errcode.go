package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：业务可恢复/告警类错误（例如部分行导入失败但流程可继续）
// - 5xxx：系统错误（需要中断流程）
const (
	OK            = 0
	PartialImport = 4005
	SystemError   = 5000
)
