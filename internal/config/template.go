package config

import "encoding/json"

// DefaultTemplateConfig 返回一个“可运行”的默认配置模板：
// - 使用 mock LLM（本地/离线调试友好），同时给出 openai/gemini 定义；
// - 默认输入为当前目录，文档写入 ./CODEBASE_DOCUMENTATION.md；
// - 选项给出全部键与中性默认值。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.MaxRetries = 2
	cfg.LLM = "mock"
	cfg.Provider = map[string]Provider{
		"mock": {
			Client:  "mock",
			Options: json.RawMessage(`{"prefix":"","api_key":"","response_mode":"","delay_millis":0}`),
			Limits:  Limits{RPM: 60, TPM: 0, MaxTokensPerReq: 0},
		},
		"openai": {
			Client: "openai",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 600,
  "temperature": null,
  "extra_headers": {}
}`),
			Limits: Limits{RPM: 500, TPM: 200000, MaxTokensPerReq: 0},
		},
		"gemini": {
			Client: "gemini",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "GOOGLE_API_KEY",
  "api_key": "",
  "timeout_seconds": 600,
  "temperature": null,
  "extra_headers": {}
}`),
			Limits: Limits{RPM: 0, TPM: 0, MaxTokensPerReq: 0},
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "buf_size": 65536,
  "use_gitignore": false
}`)
	cfg.Options.Estimator = json.RawMessage(`{"encoding": "cl100k_base", "model": ""}`)
	cfg.Options.Packer = json.RawMessage(`{"max_units_per_chunk": 0}`)
	cfg.Options.Splitter = json.RawMessage(`{"max_line_bytes": 0}`)
	cfg.Options.DescribePrompt = json.RawMessage(`{"inline_template": "", "template_path": "", "project": ""}`)
	cfg.Options.RefinePrompt = json.RawMessage(`{"inline_template": "", "template_path": ""}`)
	cfg.Options.Assembler = json.RawMessage(`{"separator": "\n"}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": ".",
  "atomic": true,
  "flat": false,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 65536
}`)
	return cfg
}

// EnvTemplate: init-config 生成的 .env 模板。
const EnvTemplate = `# llmdoc 环境变量（不会覆盖已存在的环境变量）
OPENAI_API_KEY=
GOOGLE_API_KEY=
# LLMDOC_LLM=openai
# LLMDOC_CONCURRENCY=8
# LLMDOC_MAX_RETRIES=0
# LLMDOC_REFINE_ENABLED=true
# LLMDOC_LOG_LEVEL=info
`
