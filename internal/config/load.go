package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
)

// EnvPrefix: 环境变量覆盖前缀。
const EnvPrefix = "LLMDOC_"

// 默认模型与预算。
const (
	DefaultOutput = "CODEBASE_DOCUMENTATION.md"
	// 阶段模型为空且 openai provider 未给 options.model 时的按阶段默认
	DefaultDescribeModel   = "o1-mini"
	DefaultRefineModel     = "o1-preview"
	DefaultModelMaxTokens  = 128000
	DefaultDescribeTokens  = 60000
	DefaultRefineTokens    = 32000
	DefaultSafetyMargin    = 1000
	DefaultConcurrency     = 8
	DefaultCallTimeoutSecs = 600
)

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	margin := DefaultSafetyMargin
	enabled := true
	return Config{
		Inputs:             []string{"."},
		Output:             DefaultOutput,
		Concurrency:        DefaultConcurrency,
		MaxRetries:         0,
		CallTimeoutSeconds: DefaultCallTimeoutSecs,
		SafetyMargin:       &margin,
		Logging:            Logging{Level: "info"},
		Describe: Phase{
			ModelMaxTokens:      DefaultModelMaxTokens,
			MaxCompletionTokens: DefaultDescribeTokens,
		},
		Refine: Phase{
			Enabled:             &enabled,
			ModelMaxTokens:      DefaultModelMaxTokens,
			MaxCompletionTokens: DefaultRefineTokens,
		},
		Components: Components{
			Reader:         "fs",
			Estimator:      "tiktoken",
			Packer:         "greedy",
			Splitter:       "lines",
			DescribePrompt: "describe",
			RefinePrompt:   "refine",
			Assembler:      "concat",
			Writer:         "fs",
		},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
// 返回的 MaxRetries 在文件未给出时为 -1（未设置），供 Merge 区分显式 0。
func LoadJSON(path string, raw []byte) (Config, error) {
	cfg := Config{MaxRetries: -1}
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, errors.New("no config source provided")
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	if len(over.Inputs) > 0 {
		out.Inputs = cloneStrings(over.Inputs)
	}
	if s := strings.TrimSpace(over.Output); s != "" {
		out.Output = s
	}
	if over.Concurrency != 0 {
		out.Concurrency = over.Concurrency
	}
	// MaxRetries 的 0 具有语义（禁用重试）：>=0 视为存在，-1 视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	if over.CallTimeoutSeconds != 0 {
		out.CallTimeoutSeconds = over.CallTimeoutSeconds
	}
	if over.SafetyMargin != nil {
		v := *over.SafetyMargin
		out.SafetyMargin = &v
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	out.Describe = mergePhase(out.Describe, over.Describe)
	out.Refine = mergePhase(out.Refine, over.Refine)

	// 组件名（空不覆盖）
	mergeName(&out.Components.Reader, over.Components.Reader)
	mergeName(&out.Components.Estimator, over.Components.Estimator)
	mergeName(&out.Components.Packer, over.Components.Packer)
	mergeName(&out.Components.Splitter, over.Components.Splitter)
	mergeName(&out.Components.DescribePrompt, over.Components.DescribePrompt)
	mergeName(&out.Components.RefinePrompt, over.Components.RefinePrompt)
	mergeName(&out.Components.Assembler, over.Components.Assembler)
	mergeName(&out.Components.Writer, over.Components.Writer)

	// Provider（完整替换对应键）
	if len(over.Provider) > 0 {
		merged := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			merged[k] = v
		}
		for k, v := range over.Provider {
			merged[k] = v
		}
		out.Provider = merged
	}

	// Options（完整替换对应键）
	mergeRaw(&out.Options.Reader, over.Options.Reader)
	mergeRaw(&out.Options.Estimator, over.Options.Estimator)
	mergeRaw(&out.Options.Packer, over.Options.Packer)
	mergeRaw(&out.Options.Splitter, over.Options.Splitter)
	mergeRaw(&out.Options.DescribePrompt, over.Options.DescribePrompt)
	mergeRaw(&out.Options.RefinePrompt, over.Options.RefinePrompt)
	mergeRaw(&out.Options.Assembler, over.Options.Assembler)
	mergeRaw(&out.Options.Writer, over.Options.Writer)

	mergeName(&out.LLM, over.LLM)
	return out
}

func mergePhase(base, over Phase) Phase {
	out := base
	if over.Enabled != nil {
		v := *over.Enabled
		out.Enabled = &v
	}
	mergeName(&out.Model, over.Model)
	if over.ModelMaxTokens != 0 {
		out.ModelMaxTokens = over.ModelMaxTokens
	}
	if over.MaxCompletionTokens != 0 {
		out.MaxCompletionTokens = over.MaxCompletionTokens
	}
	return out
}

func mergeName(dst *string, over string) {
	if s := strings.TrimSpace(over); s != "" {
		*dst = s
	}
}

func mergeRaw(dst *json.RawMessage, over json.RawMessage) {
	if len(over) > 0 {
		*dst = cloneRaw(over)
	}
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合；无法解析的值忽略）。
// 支持：INPUTS, OUTPUT, CONCURRENCY, MAX_RETRIES, CALL_TIMEOUT_SECONDS, SAFETY_MARGIN, LLM, LOG_LEVEL,
// {DESCRIBE,REFINE}_{MODEL,MODEL_MAX_TOKENS,MAX_COMPLETION_TOKENS}, REFINE_ENABLED, COMPONENTS_*
// 以及 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	// -1 表示未设置，以便 Merge 能区分“未覆盖”和“显式设置为 0”。
	over.MaxRetries = -1
	names := map[string]*string{
		"LLM":                        &over.LLM,
		"OUTPUT":                     &over.Output,
		"LOG_LEVEL":                  &over.Logging.Level,
		"DESCRIBE_MODEL":             &over.Describe.Model,
		"REFINE_MODEL":               &over.Refine.Model,
		"COMPONENTS_READER":          &over.Components.Reader,
		"COMPONENTS_ESTIMATOR":       &over.Components.Estimator,
		"COMPONENTS_PACKER":          &over.Components.Packer,
		"COMPONENTS_SPLITTER":        &over.Components.Splitter,
		"COMPONENTS_DESCRIBE_PROMPT": &over.Components.DescribePrompt,
		"COMPONENTS_REFINE_PROMPT":   &over.Components.RefinePrompt,
		"COMPONENTS_ASSEMBLER":       &over.Components.Assembler,
		"COMPONENTS_WRITER":          &over.Components.Writer,
	}
	ints := map[string]*int{
		"CONCURRENCY":                    &over.Concurrency,
		"MAX_RETRIES":                    &over.MaxRetries,
		"CALL_TIMEOUT_SECONDS":           &over.CallTimeoutSeconds,
		"DESCRIBE_MODEL_MAX_TOKENS":      &over.Describe.ModelMaxTokens,
		"DESCRIBE_MAX_COMPLETION_TOKENS": &over.Describe.MaxCompletionTokens,
		"REFINE_MODEL_MAX_TOKENS":        &over.Refine.ModelMaxTokens,
		"REFINE_MAX_COMPLETION_TOKENS":   &over.Refine.MaxCompletionTokens,
	}
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk, val := kv[len(EnvPrefix):eq], kv[eq+1:]
		if p, ok := names[nk]; ok {
			*p = strings.TrimSpace(val)
			continue
		}
		if p, ok := ints[nk]; ok {
			if v, err := atoi(val); err == nil {
				*p = v
			}
			continue
		}
		switch {
		case nk == "INPUTS":
			if val != "" {
				over.Inputs = splitComma(val)
			}
		case nk == "SAFETY_MARGIN":
			if v, err := atoi(val); err == nil {
				over.SafetyMargin = &v
			}
		case nk == "REFINE_ENABLED":
			if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
				over.Refine.Enabled = &b
			}
		case strings.HasPrefix(nk, "PROVIDER__"):
			overlayProvider(prov, nk, val)
		default:
			// 集合之外的键忽略
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

// overlayProvider 解析 PROVIDER__<name>__<FIELD>；仅在发生有效变更时记录该 provider，避免空值覆盖 config.json。
func overlayProvider(prov map[string]Provider, nk, val string) {
	parts := strings.Split(nk, "__")
	if len(parts) < 3 {
		return
	}
	name := strings.TrimSpace(parts[1])
	field := strings.Join(parts[2:], "__")
	p := prov[name]
	changed := false
	setInt := func(dst *int) {
		if v, err := atoi(val); err == nil {
			*dst = v
			changed = true
		}
	}
	switch field {
	case "CLIENT":
		if tv := strings.TrimSpace(val); tv != "" {
			p.Client = tv
			changed = true
		}
	case "LIMITS_RPM":
		setInt(&p.Limits.RPM)
	case "LIMITS_TPM":
		setInt(&p.Limits.TPM)
	case "LIMITS_MAX_TOKENS_PER_REQ":
		setInt(&p.Limits.MaxTokensPerReq)
	case "OPTIONS_JSON":
		if strings.TrimSpace(val) != "" {
			p.Options = json.RawMessage(val)
			changed = true
		}
	}
	if changed {
		prov[name] = p
	}
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) { return strconv.Atoi(strings.TrimSpace(s)) }
