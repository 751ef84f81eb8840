package contract

import "errors"

// 致命错误：在任何网络活动之前终止运行。
var (
	// ErrCostEstimationUnavailable: token 估算器不可用（编码表加载失败等）。
	ErrCostEstimationUnavailable = errors.New("cost estimation unavailable")
	// ErrCredentialMissing: 远端服务凭据缺失。
	ErrCredentialMissing = errors.New("credential missing")
)

// 局部错误：仅影响单个 Unit/Chunk，不向兄弟任务传播。
var (
	// ErrUnitRead: 单个输入单元读取失败（跳过并记录）。
	ErrUnitRead = errors.New("unit read error")
	// ErrChunkTooLarge: 提示词 + 最小可行输出预算仍超过模型上限（丢弃，不重试）。
	ErrChunkTooLarge = errors.New("chunk too large")
	// ErrRemoteCall: 远端调用失败（丢弃，默认不重试）。
	ErrRemoteCall = errors.New("remote call error")
	// ErrNoOutput: 一个阶段内所有块均失败。
	ErrNoOutput = errors.New("no output produced")
)

// Writer/路径相关最小错误分类。
var (
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如 token 预算、上游配额）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
