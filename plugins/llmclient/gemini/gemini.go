package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"llmdoc/pkg/contract"
)

// Options: Google Generative Language API (Gemini) 最小必需。
type Options struct {
	BaseURL        string   `json:"base_url"`    // 为空使用 SDK 默认
	Model          string   `json:"model"`       // Request.Model 为空时的兜底模型
	APIKeyEnv      string   `json:"api_key_env"` // 默认 GOOGLE_API_KEY
	APIKey         string   `json:"api_key"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	// ExtraHeaders: 追加请求头（代理/网关场景）。
	ExtraHeaders map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 600
	}
}

type Client struct {
	sdk   *genai.Client
	model string
	temp  *float32
}

// New 构造 Gemini 客户端。SDK 客户端构造不发起网络请求。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("gemini: %w: %s is not set", contract.ErrCredentialMissing, opts.APIKeyEnv)
	}
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	cfg := &genai.ClientConfig{
		APIKey:  key,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: opts.BaseURL,
			Timeout: &timeout,
		},
	}
	if len(opts.ExtraHeaders) > 0 {
		h := http.Header{}
		for k, v := range opts.ExtraHeaders {
			if k != "" {
				h.Set(k, v)
			}
		}
		cfg.HTTPOptions.Headers = h
	}
	sdk, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %v: %w", err, contract.ErrInvalidInput)
	}
	c := &Client{sdk: sdk, model: opts.Model}
	if opts.Temperature != nil {
		c.temp = genai.Ptr(float32(*opts.Temperature))
	}
	return c, nil
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

func (c *Client) Complete(ctx context.Context, req contract.Request) (contract.Raw, error) {
	if req.Prompt == "" || req.MaxOutputTokens <= 0 {
		return contract.Raw{}, fmt.Errorf("gemini: %w: empty prompt or non-positive output budget", contract.ErrInvalidInput)
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	gc := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(req.MaxOutputTokens),
		Temperature:     c.temp,
	}
	resp, err := c.sdk.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), gc)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, classify(err)
	}
	text := resp.Text()
	if text == "" {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: text}, nil
}

func classify(err error) error {
	var apierr genai.APIError
	if !errors.As(err, &apierr) {
		return err
	}
	switch st := apierr.Code; {
	case st == http.StatusTooManyRequests:
		return fmt.Errorf("gemini: %s: %w", apierr.Message, contract.ErrRateLimited)
	case st == http.StatusRequestTimeout || st/100 == 5:
		return upstreamError{status: st, msg: apierr.Message}
	case st == http.StatusUnauthorized || st == http.StatusForbidden:
		return fmt.Errorf("gemini upstream %d: %w", st, contract.ErrCredentialMissing)
	default:
		return fmt.Errorf("gemini upstream %d: %s: %w", st, apierr.Message, contract.ErrInvalidInput)
	}
}

var _ contract.LLMClient = (*Client)(nil)
