package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Inputs []string `json:"inputs"`
	// Output: 文档工件名（相对 writer.output_dir）。
	Output      string `json:"output"`
	Concurrency int    `json:"concurrency"`
	// MaxRetries: 单块远端调用最大重试次数（>=0）。0 表示不重试。
	MaxRetries int `json:"max_retries"`
	// CallTimeoutSeconds: 单次远端调用超时；0 表示不限制。
	CallTimeoutSeconds int `json:"call_timeout_seconds"`
	// SafetyMargin: 收缩输出预算时额外预留的 token 数。
	SafetyMargin *int    `json:"safety_margin,omitempty"`
	Logging      Logging `json:"logging"`

	Describe Phase `json:"describe"`
	Refine   Phase `json:"refine"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Logging: 仅保留日志等级可配置；输出路径与轮转策略为固定默认。
type Logging struct {
	Level string `json:"level"`
}

// Phase: 单阶段的模型与 token 预算。Enabled 仅对 refine 生效。
type Phase struct {
	Enabled             *bool  `json:"enabled,omitempty"`
	Model               string `json:"model"`
	ModelMaxTokens      int    `json:"model_max_tokens"`
	MaxCompletionTokens int    `json:"max_completion_tokens"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader         string `json:"reader"`
	Estimator      string `json:"estimator"`
	Packer         string `json:"packer"`
	Splitter       string `json:"splitter"`
	DescribePrompt string `json:"describe_prompt"`
	RefinePrompt   string `json:"refine_prompt"`
	Assembler      string `json:"assembler"`
	Writer         string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader         json.RawMessage `json:"reader"`
	Estimator      json.RawMessage `json:"estimator"`
	Packer         json.RawMessage `json:"packer"`
	Splitter       json.RawMessage `json:"splitter"`
	DescribePrompt json.RawMessage `json:"describe_prompt"`
	RefinePrompt   json.RawMessage `json:"refine_prompt"`
	Assembler      json.RawMessage `json:"assembler"`
	Writer         json.RawMessage `json:"writer"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}
