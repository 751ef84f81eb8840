package contract

import (
	"context"
	"errors"
)

// Raw: LLM 客户端返回的原始文本载荷。
// 约束：原样返回，不做清洗/截断/归一化。
type Raw struct {
	Text string
}

// Request: 单次补全请求。
type Request struct {
	Model string
	// Prompt: 完整的用户提示词（单条 user 消息）。
	Prompt string
	// MaxOutputTokens: 请求的输出预算（>0）。
	MaxOutputTokens int
}

// LLMClient: 以完整 Prompt 为单位与大模型交互，返回原始文本 Raw。
// 单次调用、同步返回；应尊重 ctx 取消/超时并及时释放资源。
// 不消费流式/部分结果。
type LLMClient interface {
	Complete(ctx context.Context, req Request) (Raw, error)
}

// 最小错误分类（用于上层策略判定）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
)
