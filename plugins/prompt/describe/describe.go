package describe

import (
	"context"
	"path"
	"strings"

	"llmdoc/internal/prompt"
	"llmdoc/pkg/contract"
)

const defaultHeader = "Provide concise and clear descriptions for the following files. For each file, list the file path and its purpose.\n\n"

// Options 为“逐文件描述”PromptBuilder 的最小配置。
// - InlineTemplate / TemplatePath: 指令模板（二选一，均为空时使用内置默认指令）。
// - Project: 可选项目名，模板中以 {{.Project}} 引用。
type Options struct {
	InlineTemplate string `json:"inline_template"`
	TemplatePath   string `json:"template_path"`
	Project        string `json:"project"`
}

// Builder: 描述阶段提示词构造器。模板在构造期渲染，运行期纯计算。
type Builder struct {
	header string
}

// New 创建描述阶段 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	h, err := prompt.RenderHeader(o.InlineTemplate, o.TemplatePath, defaultHeader, struct{ Project string }{o.Project})
	if err != nil {
		return nil, err
	}
	return &Builder{header: h}, nil
}

func (b *Builder) Header() string { return b.header }

// Segment 以 Markdown 代码块包装单个文件，语言标记取自扩展名。
func (b *Builder) Segment(u contract.Unit) string {
	typ := u.Type
	if typ == "" {
		typ = strings.TrimPrefix(path.Ext(u.ID), ".")
	}
	var sb strings.Builder
	sb.Grow(len(u.ID) + len(typ) + len(u.Content) + 32)
	sb.WriteString("**File Path:** ")
	sb.WriteString(u.ID)
	sb.WriteString("\n```")
	sb.WriteString(typ)
	sb.WriteString("\n")
	sb.WriteString(u.Content)
	sb.WriteString("\n```\n\n")
	return sb.String()
}

func (b *Builder) Build(ctx context.Context, c contract.Chunk) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return prompt.Assemble(b, c)
}
