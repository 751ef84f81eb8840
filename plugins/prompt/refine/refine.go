package refine

import (
	"context"

	"llmdoc/internal/prompt"
	"llmdoc/pkg/contract"
)

const defaultHeader = "Improve the following documentation to make it more coherent, clear, and well-organized. Ensure that it provides a comprehensive overview of the codebase.\n\n"

// Options 为精炼阶段 PromptBuilder 的最小配置（模板二选一，均为空时使用内置默认指令）。
type Options struct {
	InlineTemplate string `json:"inline_template"`
	TemplatePath   string `json:"template_path"`
}

// Builder: 精炼阶段提示词构造器。Unit 为文档的逐行切片，原样拼接。
type Builder struct {
	header string
}

func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	h, err := prompt.RenderHeader(o.InlineTemplate, o.TemplatePath, defaultHeader, nil)
	if err != nil {
		return nil, err
	}
	return &Builder{header: h}, nil
}

func (b *Builder) Header() string { return b.header }

// Segment 原样返回行内容（含换行），拼接后即还原文档片段。
func (b *Builder) Segment(u contract.Unit) string { return u.Content }

func (b *Builder) Build(ctx context.Context, c contract.Chunk) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return prompt.Assemble(b, c)
}
