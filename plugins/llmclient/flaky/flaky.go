package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"llmdoc/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	// FailFirst: 前 N 次调用返回 ErrRateLimited（默认 1）。
	FailFirst int `json:"fail_first"`
	// FailAll: 所有调用均失败（用于验证“全部失败”路径）。
	FailAll bool   `json:"fail_all"`
	Prefix  string `json:"prefix"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的 LLM 实现：前 FailFirst 次调用返回 ErrRateLimited，之后返回占位文本。
type Client struct {
	prefix    string
	logPath   string
	failFirst int32
	failAll   bool
	count     atomic.Int32
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	o := Options{FailFirst: 1}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath, failFirst: int32(o.FailFirst), failAll: o.FailAll}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int { return int(c.count.Load()) }

// Complete 实现 contract.LLMClient。
func (c *Client) Complete(ctx context.Context, req contract.Request) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	n := c.count.Add(1)
	if c.failAll || n <= c.failFirst {
		c.log("rate_limited")
		return contract.Raw{}, contract.ErrRateLimited
	}
	c.log("ok")
	return contract.Raw{Text: fmt.Sprintf("%s #%d (%d bytes)\n", c.prefix, n, len(req.Prompt))}, nil
}

var _ contract.LLMClient = (*Client)(nil)
