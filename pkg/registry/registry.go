package registry

import (
	"bytes"
	"encoding/json"

	"llmdoc/pkg/contract"
	"llmdoc/plugins/assembler/concat"
	bytesest "llmdoc/plugins/estimator/bytes"
	"llmdoc/plugins/estimator/tiktoken"
	"llmdoc/plugins/llmclient/flaky"
	gmi "llmdoc/plugins/llmclient/gemini"
	"llmdoc/plugins/llmclient/mock"
	oai "llmdoc/plugins/llmclient/openai"
	"llmdoc/plugins/packer/greedy"
	pdesc "llmdoc/plugins/prompt/describe"
	pref "llmdoc/plugins/prompt/refine"
	rfs "llmdoc/plugins/reader/filesystem"
	"llmdoc/plugins/splitter/lines"
	wfs "llmdoc/plugins/writer/filesystem"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// NewReader 工厂签名：接收原样 JSON Options。
type NewReader func(raw json.RawMessage) (contract.Reader, error)

// NewEstimator 工厂签名：接收原样 JSON Options。
type NewEstimator func(raw json.RawMessage) (contract.TokenEstimator, error)

// NewPacker 工厂签名：接收原样 JSON Options。
type NewPacker func(raw json.RawMessage) (contract.Packer, error)

// NewSplitter 工厂签名：接收原样 JSON Options。
type NewSplitter func(raw json.RawMessage) (contract.Splitter, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewAssembler 工厂签名：接收原样 JSON Options。
type NewAssembler func(raw json.RawMessage) (contract.Assembler, error)

// NewWriter 工厂签名：接收原样 JSON Options。
type NewWriter func(raw json.RawMessage) (contract.Writer, error)

// Reader 工厂注册表（显式、零反射）。
var Reader = map[string]NewReader{
	// fs: 文件系统 Reader（含目录结构渲染）
	"fs": func(raw json.RawMessage) (contract.Reader, error) {
		var opts rfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rfs.New(&opts), nil
	},
}

// Estimator 工厂注册表。
var Estimator = map[string]NewEstimator{
	// tiktoken: BPE 精确计数；编码表不可用时返回 ErrCostEstimationUnavailable
	"tiktoken": func(raw json.RawMessage) (contract.TokenEstimator, error) {
		var opts tiktoken.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return tiktoken.New(&opts)
	},
	// bytes: 按字节近似（离线）
	"bytes": func(raw json.RawMessage) (contract.TokenEstimator, error) {
		var opts bytesest.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return bytesest.New(&opts), nil
	},
}

// Packer 工厂注册表。
var Packer = map[string]NewPacker{
	"greedy": func(raw json.RawMessage) (contract.Packer, error) {
		var opts greedy.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return greedy.New(&opts), nil
	},
}

// Splitter 工厂注册表。
var Splitter = map[string]NewSplitter{
	// lines: 按行拆分（精炼阶段）
	"lines": func(raw json.RawMessage) (contract.Splitter, error) {
		var opts lines.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return lines.New(&opts), nil
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// describe: 逐文件描述提示词
	"describe": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pdesc.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pdesc.New(&opts)
	},
	// refine: 文档润色提示词
	"refine": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts pref.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return pref.New(&opts)
	},
}

// LLMClient 工厂注册表。
// 客户端构造器自行解码 options；此处先按其 Options 严格校验，拒绝拼写错误的键。
var LLMClient = map[string]NewLLMClient{
	"openai": func(raw json.RawMessage) (contract.LLMClient, error) {
		if err := strictUnmarshal(raw, &oai.Options{}); err != nil {
			return nil, err
		}
		return oai.New(raw)
	},
	"gemini": func(raw json.RawMessage) (contract.LLMClient, error) {
		if err := strictUnmarshal(raw, &gmi.Options{}); err != nil {
			return nil, err
		}
		return gmi.New(raw)
	},
	"mock": func(raw json.RawMessage) (contract.LLMClient, error) {
		if err := strictUnmarshal(raw, &mock.Options{}); err != nil {
			return nil, err
		}
		return mock.New(raw)
	},
	"flaky": func(raw json.RawMessage) (contract.LLMClient, error) {
		if err := strictUnmarshal(raw, &flaky.Options{}); err != nil {
			return nil, err
		}
		return flaky.New(raw)
	},
}

// Assembler 工厂注册表。
var Assembler = map[string]NewAssembler{
	// concat: 按块序拼接成功输出
	"concat": func(raw json.RawMessage) (contract.Assembler, error) {
		if err := strictUnmarshal(raw, &concat.Options{}); err != nil {
			return nil, err
		}
		return concat.New(raw)
	},
}

// Writer 工厂注册表。
var Writer = map[string]NewWriter{
	// fs: 文件系统 Writer（覆盖写/原子替换可配置）
	"fs": func(raw json.RawMessage) (contract.Writer, error) {
		var opts wfs.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wfs.New(&opts)
	},
}
