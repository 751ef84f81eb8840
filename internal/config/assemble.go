package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"llmdoc/internal/pipeline"
	"llmdoc/internal/rate"
	"llmdoc/pkg/contract"
	"llmdoc/pkg/registry"
)

// Validate 对最小必要边界做静态校验（不做任何 I/O）。
func Validate(cfg Config) error {
	if len(cfg.Inputs) == 0 {
		return errors.New("config: inputs empty")
	}
	for _, r := range cfg.Inputs {
		if strings.TrimSpace(r) == "" {
			return errors.New("config: input path cannot be empty")
		}
	}
	if strings.TrimSpace(cfg.Output) == "" {
		return errors.New("config: output empty")
	}
	if cfg.Concurrency < 1 {
		return errors.New("config: concurrency must be >= 1")
	}
	if cfg.MaxRetries < 0 {
		return errors.New("config: max_retries must be >= 0")
	}
	if cfg.CallTimeoutSeconds < 0 {
		return errors.New("config: call_timeout_seconds must be >= 0")
	}
	if cfg.SafetyMargin != nil && *cfg.SafetyMargin < 0 {
		return errors.New("config: safety_margin must be >= 0")
	}
	if err := validatePhase("describe", cfg.Describe); err != nil {
		return err
	}
	if refineEnabled(cfg) {
		if err := validatePhase("refine", cfg.Refine); err != nil {
			return err
		}
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if m := prov.Limits.MaxTokensPerReq; m > 0 {
		if cfg.Describe.MaxCompletionTokens > m {
			return fmt.Errorf("config: describe.max_completion_tokens(%d) exceeds provider.max_tokens_per_req(%d)", cfg.Describe.MaxCompletionTokens, m)
		}
		if refineEnabled(cfg) && cfg.Refine.MaxCompletionTokens > m {
			return fmt.Errorf("config: refine.max_completion_tokens(%d) exceeds provider.max_tokens_per_req(%d)", cfg.Refine.MaxCompletionTokens, m)
		}
	}

	d := Defaults().Components
	c := cfg.Components
	checks := []struct {
		kind, name string
		ok         bool
	}{
		{"reader", effName(c.Reader, d.Reader), registry.Reader[effName(c.Reader, d.Reader)] != nil},
		{"estimator", effName(c.Estimator, d.Estimator), registry.Estimator[effName(c.Estimator, d.Estimator)] != nil},
		{"packer", effName(c.Packer, d.Packer), registry.Packer[effName(c.Packer, d.Packer)] != nil},
		{"splitter", effName(c.Splitter, d.Splitter), registry.Splitter[effName(c.Splitter, d.Splitter)] != nil},
		{"describe_prompt", effName(c.DescribePrompt, d.DescribePrompt), registry.PromptBuilder[effName(c.DescribePrompt, d.DescribePrompt)] != nil},
		{"refine_prompt", effName(c.RefinePrompt, d.RefinePrompt), registry.PromptBuilder[effName(c.RefinePrompt, d.RefinePrompt)] != nil},
		{"assembler", effName(c.Assembler, d.Assembler), registry.Assembler[effName(c.Assembler, d.Assembler)] != nil},
		{"writer", effName(c.Writer, d.Writer), registry.Writer[effName(c.Writer, d.Writer)] != nil},
		{"llm client", prov.Client, registry.LLMClient[prov.Client] != nil},
	}
	for _, ch := range checks {
		if !ch.ok {
			return fmt.Errorf("config: %s %q not registered", ch.kind, ch.name)
		}
	}
	return nil
}

// validatePhase: 模型名可为空（使用 provider 默认模型）。
func validatePhase(name string, p Phase) error {
	if p.MaxCompletionTokens <= 0 {
		return fmt.Errorf("config: %s.max_completion_tokens must be > 0", name)
	}
	if p.ModelMaxTokens <= p.MaxCompletionTokens {
		return fmt.Errorf("config: %s.model_max_tokens(%d) must exceed max_completion_tokens(%d)", name, p.ModelMaxTokens, p.MaxCompletionTokens)
	}
	return nil
}

func refineEnabled(cfg Config) bool { return cfg.Refine.Enabled == nil || *cfg.Refine.Enabled }

// Assemble 构造 Components、Settings 与限流 Gate+Key。
// 严格 Options 解析在 registry （工厂）层进行；此处只传 raw JSON。
// 估算器与凭据错误原样包装返回（ErrCostEstimationUnavailable / ErrCredentialMissing），均发生在任何网络请求之前。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, rate.Gate, rate.LimitKey, error) {
	fail := func(err error) (pipeline.Components, pipeline.Settings, rate.Gate, rate.LimitKey, error) {
		return pipeline.Components{}, pipeline.Settings{}, nil, "", err
	}
	if err := Validate(cfg); err != nil {
		return fail(err)
	}

	d := Defaults().Components
	c := cfg.Components
	var comp pipeline.Components
	var err error
	if comp.Reader, err = registry.Reader[effName(c.Reader, d.Reader)](cfg.Options.Reader); err != nil {
		return fail(fmt.Errorf("reader: %w", err))
	}
	// 输出文档不得作为下一次运行的输入
	if ex, ok := comp.Reader.(interface{ Exclude(names ...string) }); ok {
		ex.Exclude(filepath.Base(strings.TrimSpace(cfg.Output)))
	}
	if comp.Estimator, err = registry.Estimator[effName(c.Estimator, d.Estimator)](cfg.Options.Estimator); err != nil {
		return fail(fmt.Errorf("estimator: %w", err))
	}
	if comp.Packer, err = registry.Packer[effName(c.Packer, d.Packer)](cfg.Options.Packer); err != nil {
		return fail(fmt.Errorf("packer: %w", err))
	}
	if comp.Lines, err = registry.Splitter[effName(c.Splitter, d.Splitter)](cfg.Options.Splitter); err != nil {
		return fail(fmt.Errorf("splitter: %w", err))
	}
	if comp.Describe, err = registry.PromptBuilder[effName(c.DescribePrompt, d.DescribePrompt)](cfg.Options.DescribePrompt); err != nil {
		return fail(fmt.Errorf("describe_prompt: %w", err))
	}
	if comp.Refine, err = registry.PromptBuilder[effName(c.RefinePrompt, d.RefinePrompt)](cfg.Options.RefinePrompt); err != nil {
		return fail(fmt.Errorf("refine_prompt: %w", err))
	}
	if comp.Assembler, err = registry.Assembler[effName(c.Assembler, d.Assembler)](cfg.Options.Assembler); err != nil {
		return fail(fmt.Errorf("assembler: %w", err))
	}
	if comp.Writer, err = registry.Writer[effName(c.Writer, d.Writer)](cfg.Options.Writer); err != nil {
		return fail(fmt.Errorf("writer: %w", err))
	}

	// LLM 客户端
	prov := cfg.Provider[cfg.LLM]
	if comp.LLM, err = registry.LLMClient[prov.Client](prov.Options); err != nil {
		return fail(fmt.Errorf("llm %q: %w", cfg.LLM, err))
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生 API Key）
	// 派生失败时退化为 provider 名称。
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	margin := DefaultSafetyMargin
	if cfg.SafetyMargin != nil {
		margin = *cfg.SafetyMargin
	}
	set := pipeline.Settings{
		Inputs:        cloneStrings(cfg.Inputs),
		Output:        strings.TrimSpace(cfg.Output),
		Concurrency:   cfg.Concurrency,
		MaxRetries:    cfg.MaxRetries,
		CallTimeout:   time.Duration(cfg.CallTimeoutSeconds) * time.Second,
		SafetyMargin:  margin,
		Describe:      phaseSettings(cfg.Describe, phaseModel(cfg.Describe, prov, DefaultDescribeModel)),
		Refine:        phaseSettings(cfg.Refine, phaseModel(cfg.Refine, prov, DefaultRefineModel)),
		RefineEnabled: refineEnabled(cfg),
		Gate:          gate,
		GateKey:       key,
	}
	if !set.RefineEnabled && validatePhase("refine", cfg.Refine) != nil {
		// 精炼关闭时不校验其预算；沿用描述阶段预算以满足运行期检查
		set.Refine = set.Describe
	}
	return comp, set, gate, key, nil
}

func phaseSettings(p Phase, model string) pipeline.PhaseSettings {
	return pipeline.PhaseSettings{
		Model:  model,
		Budget: contract.Budget{ModelLimit: p.ModelMaxTokens, Completion: p.MaxCompletionTokens},
	}
}

// phaseModel 决定阶段请求的模型名：阶段显式值优先；
// 否则 provider options.model 生效（返回空串，由客户端兜底）；
// 仅 openai 且两者皆空时按阶段回落 def。
func phaseModel(p Phase, prov Provider, def string) string {
	if m := strings.TrimSpace(p.Model); m != "" {
		return m
	}
	if prov.Client != "openai" || providerModel(prov.Options) != "" {
		return ""
	}
	return def
}

// providerModel 只读取 options.model；其余字段的严格校验由工厂负责。
func providerModel(raw json.RawMessage) string {
	var o struct {
		Model string `json:"model"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &o) != nil {
		return ""
	}
	return strings.TrimSpace(o.Model)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
