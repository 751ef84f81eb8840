package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"llmdoc/pkg/contract"
)

// Code 是最小错误分类代码。
// 仅用于日志/指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown    Code = "unknown"
	CodeNetwork    Code = "network"
	CodeProtocol   Code = "protocol"
	CodeInvariant  Code = "invariant"
	CodeBudget     Code = "budget"
	CodeCancel     Code = "cancel"
	CodeIO         Code = "io"
	CodeCredential Code = "credential"
	CodeEstimator  Code = "estimator"
)

// Classify 将错误归为最小分类。
// 仅依赖哨兵错误与标准库错误类型，不做字符串匹配；
// 包装链上越具体的原因越优先（ErrRemoteCall 仅在无更细原因时归为 network）。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrCredentialMissing) {
		return CodeCredential
	}
	if errors.Is(err, contract.ErrCostEstimationUnavailable) {
		return CodeEstimator
	}
	if errors.Is(err, contract.ErrBudgetExceeded) ||
		errors.Is(err, contract.ErrRateLimited) ||
		errors.Is(err, contract.ErrChunkTooLarge) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) || errors.Is(err, contract.ErrUnitRead) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) || errors.Is(err, contract.ErrRemoteCall) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC 返回 RFC3339 UTC 时间字符串。
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }
