package contract

import "context"

// TokenEstimator: 文本→token 数的确定性纯函数。
type TokenEstimator func(s string) int

// PromptBuilder: 基于 Chunk 构造确定性的提示词文本。
// 约束：
//   - 纯计算，不做 I/O；
//   - Build(c) == Header() + Σ Segment(u)，保证逐 Unit 估算与整体估算一致；
//   - 失败快速返回错误。
type PromptBuilder interface {
	// Header: 与块无关的固定指令文本，其估算值即装箱的固定开销。
	Header() string
	// Segment: 单个 Unit 在提示词中的包装文本。
	Segment(u Unit) string
	Build(ctx context.Context, c Chunk) (string, error)
}
