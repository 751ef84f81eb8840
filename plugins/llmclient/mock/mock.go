package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"llmdoc/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 输出前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组（调试用），默认使用内置常量，不参与任何网络请求。
	APIKey string `json:"api_key"`
	// ResponseMode: 响应模式（用于集成测试与无网络联调）。
	//  - "summary"（默认）：提示词含 "**File Path:**" 段时逐文件输出 "### <path>" 与占位描述；
	//    否则视为精炼提示词，去掉首段指令后原样返回正文。
	//  - "echo": 原样回显提示词。
	ResponseMode string `json:"response_mode,omitempty"`
	// DelayMillis: 每次调用的模拟延迟（尊重 ctx 取消）。
	DelayMillis int `json:"delay_millis,omitempty"`
}

type Client struct {
	prefix string
	mode   string
	delay  time.Duration
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "summary"
	}
	if mode != "summary" && mode != "echo" {
		return nil, fmt.Errorf("mock: %w: unknown response_mode %q", contract.ErrInvalidInput, mode)
	}
	return &Client{prefix: o.Prefix, mode: mode, delay: time.Duration(o.DelayMillis) * time.Millisecond}, nil
}

var filePathRe = regexp.MustCompile(`(?m)^\*\*File Path:\*\* (.+)$`)

func (c *Client) Complete(ctx context.Context, req contract.Request) (contract.Raw, error) {
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return contract.Raw{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	if req.Prompt == "" {
		return contract.Raw{}, fmt.Errorf("mock: %w: empty prompt", contract.ErrInvalidInput)
	}
	if c.mode == "echo" {
		return contract.Raw{Text: req.Prompt}, nil
	}
	paths := filePathRe.FindAllStringSubmatch(req.Prompt, -1)
	if len(paths) > 0 {
		var sb strings.Builder
		for _, m := range paths {
			fmt.Fprintf(&sb, "### %s\n%s: describes %s\n\n", m[1], c.prefix, m[1])
		}
		return contract.Raw{Text: sb.String()}, nil
	}
	body := req.Prompt
	if i := strings.Index(body, "\n\n"); i >= 0 {
		body = body[i+2:]
	}
	return contract.Raw{Text: body}, nil
}

var _ contract.LLMClient = (*Client)(nil)
