package prompt

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"llmdoc/pkg/contract"
)

// RenderHeader 解析固定指令模板（构造期 I/O）：inline 优先，其次 path，均为空时使用 def。
// 模板在构造期渲染一次；运行期 Header() 不做 I/O。
func RenderHeader(inline, path, def string, data any) (string, error) {
	src := def
	if inline != "" {
		src = inline
	} else if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("template read: %w", err)
		}
		src = string(b)
	}
	tpl, err := template.New("header").Parse(src)
	if err != nil {
		return "", fmt.Errorf("template parse: %v: %w", err, contract.ErrInvalidInput)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("template render: %v: %w", err, contract.ErrInvalidInput)
	}
	out := buf.String()
	// 指令与正文之间保留一个空行
	if !strings.HasSuffix(out, "\n\n") {
		out = strings.TrimRight(out, "\n") + "\n\n"
	}
	return out, nil
}

// Assemble 按 Header + Σ Segment 拼接提示词；空块返回 ErrInvalidInput。
func Assemble(pb contract.PromptBuilder, c contract.Chunk) (string, error) {
	if len(c.Units) == 0 {
		return "", fmt.Errorf("prompt: %w: empty chunk %d", contract.ErrInvalidInput, c.Index)
	}
	h := pb.Header()
	n := len(h)
	segs := make([]string, len(c.Units))
	for i, u := range c.Units {
		segs[i] = pb.Segment(u)
		n += len(segs[i])
	}
	var sb strings.Builder
	sb.Grow(n)
	sb.WriteString(h)
	for _, s := range segs {
		sb.WriteString(s)
	}
	return sb.String(), nil
}

// Overhead 估算与块无关的固定提示词开销（即 Header 的 token 数）。
func Overhead(pb contract.PromptBuilder, estimate contract.TokenEstimator) int {
	if pb == nil || estimate == nil {
		return 0
	}
	return estimate(pb.Header())
}

// Annotate 为每个 Unit 赋予 Cost = estimate(Segment(u))，返回新切片（不修改入参）。
func Annotate(pb contract.PromptBuilder, estimate contract.TokenEstimator, units []contract.Unit) []contract.Unit {
	out := make([]contract.Unit, len(units))
	for i, u := range units {
		u.Cost = estimate(pb.Segment(u))
		out[i] = u
	}
	return out
}

// EffectiveCeiling 返回打包参数 (ceiling, overhead)：ceiling = ModelLimit − Completion，
// overhead 为 Header 的估算；Packer 以 overhead 作为每块的起始累计。
// ceiling<=overhead 表示任何 Unit 都无法在上限内装入。
func EffectiveCeiling(pb contract.PromptBuilder, estimate contract.TokenEstimator, b contract.Budget) (int, int) {
	overhead := Overhead(pb, estimate)
	return b.Ceiling(), overhead
}
