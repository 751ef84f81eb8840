package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oa "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"llmdoc/pkg/contract"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 例如 https://api.openai.com/v1；为空使用 SDK 默认
	Model          string   `json:"model"`           // Request.Model 为空时的兜底模型
	APIKeyEnv      string   `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string   `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int      `json:"timeout_seconds"` // 可选 client 级超时（秒）
	Temperature    *float64 `json:"temperature,omitempty"`
	// ExtraHeaders: 追加/覆盖请求头（OpenAI 兼容服务，如 Azure/OpenRouter 等）。
	ExtraHeaders map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "o1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 600
	}
}

type Client struct {
	sdk   oa.Client
	model string
	temp  *float64
}

// New 从原样 JSON 选项构造客户端。凭据缺失时返回 ErrCredentialMissing（不发起任何网络请求）。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("openai: %w: %s is not set", contract.ErrCredentialMissing, opts.APIKeyEnv)
	}
	ro := []option.RequestOption{
		option.WithAPIKey(key),
		// 重试策略由 pipeline 统一决定
		option.WithMaxRetries(0),
		option.WithRequestTimeout(time.Duration(opts.TimeoutSeconds) * time.Second),
	}
	if opts.BaseURL != "" {
		ro = append(ro, option.WithBaseURL(opts.BaseURL))
	}
	for k, v := range opts.ExtraHeaders {
		if k == "" {
			continue
		}
		ro = append(ro, option.WithHeader(k, v))
	}
	return &Client{sdk: oa.NewClient(ro...), model: opts.Model, temp: opts.Temperature}, nil
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// Complete: 单次调用，同步返回。
func (c *Client) Complete(ctx context.Context, req contract.Request) (contract.Raw, error) {
	if req.Prompt == "" || req.MaxOutputTokens <= 0 {
		return contract.Raw{}, fmt.Errorf("openai: %w: empty prompt or non-positive output budget", contract.ErrInvalidInput)
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	params := oa.ChatCompletionNewParams{
		Model:               oa.ChatModel(model),
		Messages:            []oa.ChatCompletionMessageParamUnion{oa.UserMessage(req.Prompt)},
		MaxCompletionTokens: oa.Int(int64(req.MaxOutputTokens)),
	}
	if c.temp != nil {
		params.Temperature = oa.Float(*c.temp)
	}
	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: resp.Choices[0].Message.Content}, nil
}

// classify 将 SDK 错误映射为最小错误分类：429 限流；5xx/408 网络；其余 4xx 输入/配置无效。
func classify(err error) error {
	var apierr *oa.Error
	if !errors.As(err, &apierr) {
		return err
	}
	switch st := apierr.StatusCode; {
	case st == http.StatusTooManyRequests:
		return fmt.Errorf("openai: %s: %w", strings.TrimSpace(apierr.Message), contract.ErrRateLimited)
	case st == http.StatusRequestTimeout || st/100 == 5:
		return upstreamError{status: st, msg: strings.TrimSpace(apierr.Message)}
	case st == http.StatusUnauthorized:
		return fmt.Errorf("openai upstream %d: %w", st, contract.ErrCredentialMissing)
	default:
		return fmt.Errorf("openai upstream %d: %s: %w", st, strings.TrimSpace(apierr.Message), contract.ErrInvalidInput)
	}
}

var _ contract.LLMClient = (*Client)(nil)
