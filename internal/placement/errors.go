package placement

import "errors"

var (
	// ErrOfficerNotFound 表示就业办账号不存在。
	ErrOfficerNotFound = errors.New("placement officer not found")
	// ErrOfficerNotApproved 表示就业办账号尚未通过管理员审核。
	ErrOfficerNotApproved = errors.New("placement officer not approved")
	// ErrFileNotFound 表示文件不存在或不属于该就业办。
	ErrFileNotFound = errors.New("uploaded file not found")
	// ErrInvalidTransition 表示非法的生命周期状态迁移，未发生任何变更。
	ErrInvalidTransition = errors.New("invalid file status transition")
	// ErrAlreadyProcessed 表示文件已处理，process 为幂等空操作。
	ErrAlreadyProcessed = errors.New("file already processed")
	// ErrPermissionDenied 表示当前操作者无权执行该操作。
	ErrPermissionDenied = errors.New("permission denied")
	// ErrProvisioningFailed 表示批量开通因基础设施故障整体中止，文件状态未变，可重试。
	ErrProvisioningFailed = errors.New("candidate provisioning failed")
	// ErrNoRoster 表示既无已保存的解析结果，也无法取回原始文件。
	ErrNoRoster = errors.New("no roster data available for file")
)
