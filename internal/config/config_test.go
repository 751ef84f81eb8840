package config

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"llmdoc/pkg/contract"
)

// 解析完整 config.json 并与默认值合并
func TestLoadJSON(t *testing.T) {
	file, err := LoadJSON("../../testdata/config/basic.json", nil)
	if err != nil {
		t.Fatalf("加载失败: %v", err)
	}
	if file.LLM != "gemini" || file.MaxRetries != 1 {
		t.Fatalf("字段映射错误: %+v", file)
	}
	cfg := Merge(Defaults(), file)
	if err := Validate(cfg); err != nil {
		t.Fatalf("校验失败: %v", err)
	}
	if cfg.Output != "DOCS.md" || cfg.Concurrency != 4 || cfg.Logging.Level != "debug" {
		t.Fatalf("合并结果错误: %+v", cfg)
	}
	if refineEnabled(cfg) {
		t.Fatal("refine.enabled=false 未生效")
	}
	// 未给出的字段保持默认
	if cfg.Refine.Model != "" || cfg.Components.Packer != "greedy" || *cfg.SafetyMargin != DefaultSafetyMargin {
		t.Fatalf("默认值丢失: %+v", cfg)
	}
	if cfg.Describe.ModelMaxTokens != 1000000 {
		t.Fatalf("describe 预算错误: %+v", cfg.Describe)
	}
}

// 文件未给出 max_retries 时不覆盖默认值；显式 0 覆盖
func TestLoadJSONMaxRetries(t *testing.T) {
	unset, err := LoadJSON("", []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	base := Defaults()
	base.MaxRetries = 3
	if got := Merge(base, unset).MaxRetries; got != 3 {
		t.Fatalf("未设置时应保持 3，实得 %d", got)
	}
	zero, err := LoadJSON("", []byte(`{"max_retries":0}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := Merge(base, zero).MaxRetries; got != 0 {
		t.Fatalf("显式 0 应覆盖，实得 %d", got)
	}
}

// ENV 覆盖部分字段
func TestEnvOverlay(t *testing.T) {
	env := []string{
		"LLMDOC_INPUTS=a,b",
		"LLMDOC_CONCURRENCY=3",
		"LLMDOC_LLM=mock",
		"LLMDOC_REFINE_ENABLED=false",
		"LLMDOC_DESCRIBE_MODEL=gpt-4o",
		"LLMDOC_DESCRIBE_MAX_COMPLETION_TOKENS=4000",
		"LLMDOC_SAFETY_MARGIN=0",
		"LLMDOC_COMPONENTS_ESTIMATOR=bytes",
		"LLMDOC_PROVIDER__mock__CLIENT=mock",
		"LLMDOC_PROVIDER__mock__LIMITS_RPM=10",
		"LLMDOC_CONCURRENCY_X=9",
		"OTHER=1",
	}
	over, err := EnvOverlay(env)
	if err != nil {
		t.Fatalf("EnvOverlay 错误: %v", err)
	}
	if over.LLM != "mock" || over.Concurrency != 3 || len(over.Inputs) != 2 || over.MaxRetries != -1 {
		t.Fatalf("覆盖结果不正确: %+v", over)
	}
	if over.Refine.Enabled == nil || *over.Refine.Enabled {
		t.Fatal("REFINE_ENABLED 未解析")
	}
	if over.SafetyMargin == nil || *over.SafetyMargin != 0 {
		t.Fatal("SAFETY_MARGIN=0 应为显式覆盖")
	}
	cfg := Merge(Defaults(), over)
	if cfg.Describe.Model != "gpt-4o" || cfg.Describe.MaxCompletionTokens != 4000 || cfg.Describe.ModelMaxTokens != DefaultModelMaxTokens {
		t.Fatalf("describe 覆盖错误: %+v", cfg.Describe)
	}
	if cfg.Components.Estimator != "bytes" || cfg.Provider["mock"].Limits.RPM != 10 {
		t.Fatalf("组件/provider 覆盖错误: %+v", cfg)
	}
}

// 空值不覆盖 config.json 中的 provider
func TestEnvOverlayEmptyProviderIgnored(t *testing.T) {
	over, _ := EnvOverlay([]string{"LLMDOC_PROVIDER__openai__CLIENT=", "LLMDOC_PROVIDER__openai__OPTIONS_JSON= "})
	if over.Provider != nil {
		t.Fatalf("空值不应产生 provider: %+v", over.Provider)
	}
}

// 含非法字段
func TestLoadJSONUnknown(t *testing.T) {
	if _, err := LoadJSON("", []byte(`{"unknown":1}`)); err == nil {
		t.Fatal("应当返回错误")
	}
	if _, err := LoadJSON("", nil); err == nil {
		t.Fatal("无来源应当返回错误")
	}
}

func TestSplitCommaAtoi(t *testing.T) {
	parts := splitComma("a, b , ,c")
	if len(parts) != 3 || parts[1] != "b" {
		t.Fatalf("splitComma 结果错误: %v", parts)
	}
	if v, err := atoi(" 10 "); err != nil || v != 10 {
		t.Fatalf("atoi 失败: %v %d", err, v)
	}
}

func TestDefaultsClone(t *testing.T) {
	d := Defaults()
	if d.Components.Reader != "fs" || d.Describe.MaxCompletionTokens != 60000 || d.Refine.MaxCompletionTokens != 32000 {
		t.Fatalf("默认值错误: %+v", d)
	}
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	if string(dst) != "abc" {
		t.Fatal("cloneRaw 未复制")
	}
}

func TestValidateErrors(t *testing.T) {
	if err := Validate(Config{}); err == nil {
		t.Fatal("空配置应失败")
	}
	cases := map[string]func(*Config){
		"inputs":       func(c *Config) { c.Inputs = []string{" "} },
		"output":       func(c *Config) { c.Output = "" },
		"concurrency":  func(c *Config) { c.Concurrency = 0 },
		"retries":      func(c *Config) { c.MaxRetries = -1 },
		"margin":       func(c *Config) { m := -1; c.SafetyMargin = &m },
		"budget":       func(c *Config) { c.Describe.MaxCompletionTokens = c.Describe.ModelMaxTokens },
		"refine":       func(c *Config) { c.Refine.MaxCompletionTokens = 0 },
		"provider":     func(c *Config) { c.LLM = "nope" },
		"client":       func(c *Config) { c.Provider = map[string]Provider{"mock": {}} },
		"unknown-comp": func(c *Config) { c.Components.Packer = "nope" },
		"per-req": func(c *Config) {
			c.Provider = map[string]Provider{"mock": {Client: "mock", Limits: Limits{MaxTokensPerReq: 1000}}}
		},
	}
	for name, mut := range cases {
		cfg := DefaultTemplateConfig()
		mut(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: 应失败", name)
		}
	}
	// 精炼关闭时不校验其预算
	cfg := DefaultTemplateConfig()
	off := false
	cfg.Refine.Enabled = &off
	cfg.Refine.MaxCompletionTokens = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("refine 关闭时不应失败: %v", err)
	}
}

func offlineTemplate() Config {
	cfg := DefaultTemplateConfig()
	cfg.Components.Estimator = "bytes"
	cfg.Options.Estimator = json.RawMessage(`{"bytes_per_token":4}`)
	return cfg
}

func TestAssembleTemplate(t *testing.T) {
	comp, set, gate, key, err := Assemble(offlineTemplate())
	if err != nil {
		t.Fatalf("Assemble 失败: %v", err)
	}
	if comp.Reader == nil || comp.Estimator == nil || comp.Packer == nil || comp.Lines == nil ||
		comp.Describe == nil || comp.Refine == nil || comp.LLM == nil || comp.Assembler == nil || comp.Writer == nil {
		t.Fatalf("组件缺失: %+v", comp)
	}
	if gate == nil || key == "" || set.GateKey != key {
		t.Fatalf("限流闸门未构造: %v %q", gate, key)
	}
	if set.Concurrency != DefaultConcurrency || set.CallTimeout != DefaultCallTimeoutSecs*time.Second || set.SafetyMargin != DefaultSafetyMargin {
		t.Fatalf("settings 错误: %+v", set)
	}
	if !set.RefineEnabled || set.Refine.Model != "" || set.Refine.Budget.Ceiling() != 96000 {
		t.Fatalf("refine settings 错误: %+v", set.Refine)
	}
	if set.Describe.Budget.Ceiling() != 68000 || set.Output != DefaultOutput {
		t.Fatalf("describe settings 错误: %+v", set.Describe)
	}
	if comp.Estimator("abcdefgh") != 2 {
		t.Fatal("bytes 估算器未生效")
	}
}

// 阶段模型为空时：provider options.model 生效；openai 无 options.model 才按阶段回落。
func TestAssemblePhaseModel(t *testing.T) {
	cases := []struct {
		name            string
		client, options string
		describe        string
		wantD, wantR    string
	}{
		{"gemini 用 options.model", "gemini", `{"api_key":"k","model":"gemini-2.5-pro"}`, "", "", ""},
		{"gemini 无 options.model", "gemini", `{"api_key":"k"}`, "", "", ""},
		{"openai 按阶段默认", "openai", `{"api_key":"k"}`, "", DefaultDescribeModel, DefaultRefineModel},
		{"openai options.model 优先", "openai", `{"api_key":"k","model":"gpt-4o"}`, "", "", ""},
		{"阶段显式值优先", "gemini", `{"api_key":"k","model":"gemini-2.5-pro"}`, "gemini-2.5-flash", "gemini-2.5-flash", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			over := Config{
				MaxRetries: -1,
				LLM:        "p",
				Describe:   Phase{Model: tc.describe},
				Provider:   map[string]Provider{"p": {Client: tc.client, Options: json.RawMessage(tc.options)}},
			}
			cfg := Merge(Defaults(), over)
			cfg.Components.Estimator = "bytes"
			_, set, _, _, err := Assemble(cfg)
			if err != nil {
				t.Fatalf("Assemble 失败: %v", err)
			}
			if set.Describe.Model != tc.wantD || set.Refine.Model != tc.wantR {
				t.Fatalf("模型错误: describe=%q refine=%q", set.Describe.Model, set.Refine.Model)
			}
		})
	}
}

func TestAssembleStrictOptions(t *testing.T) {
	cfg := offlineTemplate()
	cfg.Options.Packer = json.RawMessage(`{"bogus":1}`)
	if _, _, _, _, err := Assemble(cfg); err == nil {
		t.Fatal("未知选项应失败")
	}
}

func TestAssembleCredentialMissing(t *testing.T) {
	t.Setenv("LLMDOC_TEST_NO_KEY", "")
	cfg := offlineTemplate()
	cfg.LLM = "openai"
	cfg.Provider["openai"] = Provider{Client: "openai", Options: json.RawMessage(`{"api_key_env":"LLMDOC_TEST_NO_KEY"}`)}
	_, _, _, _, err := Assemble(cfg)
	if !errors.Is(err, contract.ErrCredentialMissing) {
		t.Fatalf("应返回 ErrCredentialMissing，实得 %v", err)
	}
}

func TestAssembleRefineDisabled(t *testing.T) {
	cfg := offlineTemplate()
	off := false
	cfg.Refine.Enabled = &off
	cfg.Refine.ModelMaxTokens = 0
	_, set, _, _, err := Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble 失败: %v", err)
	}
	if set.RefineEnabled || set.Refine.Budget != set.Describe.Budget {
		t.Fatalf("refine 关闭时应沿用 describe 预算: %+v", set.Refine)
	}
}

// 自定义输出文件名同样不作为输入。
func TestAssembleExcludesOutput(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{"notes.md": "# old", "a.go": "package a"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	cfg := offlineTemplate()
	cfg.Output = "notes.md"
	comp, _, _, _, err := Assemble(cfg)
	if err != nil {
		t.Fatalf("Assemble 失败: %v", err)
	}
	var ids []string
	err = comp.Reader.Iterate(context.Background(), []string{dir}, func(id contract.FileID, rc io.ReadCloser) error {
		ids = append(ids, filepath.Base(string(id)))
		return rc.Close()
	})
	if err != nil {
		t.Fatalf("遍历失败: %v", err)
	}
	if len(ids) != 1 || ids[0] != "a.go" {
		t.Fatalf("输出文档未被排除: %v", ids)
	}
}
