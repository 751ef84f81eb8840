package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"llmdoc/internal/diag"
	"llmdoc/internal/prompt"
	"llmdoc/internal/rate"
	"llmdoc/pkg/contract"
)

// - 单点并发：仅 Dispatcher 管理并发；其余组件同步、无内部并发。
// - 阶段：describe（逐文件描述）→ 写出 → refine（逐行润色）→ 覆盖写出。
// - 局部失败隔离：单文件读取失败跳过；单块失败丢弃；阶段全部失败才视为无输出。

const describePhase = "describe"

// Components 聚合运行所需的原子组件。
type Components struct {
	Reader    contract.Reader
	Estimator contract.TokenEstimator
	Packer    contract.Packer
	// Lines: refine 阶段按行切分文档。
	Lines     contract.Splitter
	Describe  contract.PromptBuilder
	Refine    contract.PromptBuilder
	LLM       contract.LLMClient
	Assembler contract.Assembler
	Writer    contract.Writer
}

// PhaseSettings: 单阶段的模型与预算。
type PhaseSettings struct {
	Model  string
	Budget contract.Budget
}

// Settings 运行期配置（最小必要）。
type Settings struct {
	Inputs []string
	// Output: 文档工件标识（交由 Writer 映射为路径）。
	Output      string
	Concurrency int
	// MaxRetries: 单块远端调用的最大重试次数（>=0）。0 表示不重试。
	MaxRetries int
	// CallTimeout: 单次远端调用超时；0 表示不限制。超时仅取消该块。
	CallTimeout time.Duration
	// SafetyMargin: 收缩输出预算时的额外预留；<0 使用 DefaultSafetyMargin。
	SafetyMargin int

	Describe      PhaseSettings
	Refine        PhaseSettings
	RefineEnabled bool

	// 限流闸门（可选）：若非空，则在调用 LLM 前调用 Gate.Wait
	Gate    rate.Gate
	GateKey rate.LimitKey
}

// Runner 持有一次运行的组件与配置。
type Runner struct {
	comp   Components
	set    Settings
	logger *diag.Logger
}

// New 校验组件与配置并构造 Runner。
func New(comp Components, set Settings, logger *diag.Logger) (*Runner, error) {
	if err := sanity(comp, set); err != nil {
		return nil, fmt.Errorf("sanity: %w", err)
	}
	if set.Concurrency < 1 {
		set.Concurrency = 1
	}
	return &Runner{comp: comp, set: set, logger: logger}, nil
}

// Run 执行完整流程：Reader → 估算 → Packer → Dispatcher → Assembler → Writer → Refine → Writer。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) error {
	r, err := New(comp, set, logger)
	if err != nil {
		return err
	}
	return r.Run(ctx)
}

func (r *Runner) Run(ctx context.Context) error {
	units, err := r.Collect(ctx)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		r.logger.Warn("pipeline", "no readable input files", nil)
		return fmt.Errorf("%s: %w: no input files", describePhase, contract.ErrNoOutput)
	}
	body, err := r.Describe(ctx, units)
	if err != nil {
		return err
	}
	doc := r.header(ctx) + body
	if err := r.write(ctx, doc); err != nil {
		return err
	}
	if !r.set.RefineEnabled {
		return nil
	}

	refined, err := r.Refine(ctx, doc)
	if err != nil {
		if errors.Is(err, contract.ErrNoOutput) && ctx.Err() == nil {
			// 精炼全部失败：保留首轮文档
			r.logger.Warn("pipeline", "refine produced no output; keeping first-pass document", nil)
			diag.GetTerminal().Info("Refinement produced no output; kept first-pass documentation in %s", r.set.Output)
			return nil
		}
		return err
	}
	return r.write(ctx, refined)
}

// Collect 读取全部输入文件为 Unit（未估算）。单文件读取失败或非 UTF-8 内容记录后跳过。
func (r *Runner) Collect(ctx context.Context) ([]contract.Unit, error) {
	t := r.logger.Start("reader", "iterate")
	var units []contract.Unit
	skipped := 0
	err := r.comp.Reader.Iterate(ctx, r.set.Inputs, func(id contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err == nil && !utf8.Valid(b) {
			err = fmt.Errorf("%w: %s: invalid UTF-8", contract.ErrUnitRead, id)
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			skipped++
			code := diag.Classify(err)
			r.logger.ErrorWith("reader", string(code), err.Error(), nil, string(id), "")
			diag.IncError("reader", string(code))
			return nil
		}
		units = append(units, contract.Unit{
			ID:      string(id),
			Content: string(b),
			Type:    strings.TrimPrefix(path.Ext(string(id)), "."),
		})
		return nil
	})
	if err != nil {
		code := diag.Classify(err)
		r.logger.Error("reader", string(code), err.Error(), t.Since())
		diag.IncOp("reader", "iterate", "error")
		return nil, fmt.Errorf("reader iterate: %w", err)
	}
	t.Finish("iterate", int64(len(units)))
	diag.IncOp("reader", "iterate", "success")
	diag.GetTerminal().Info("Collected %d files (%d skipped)", len(units), skipped)
	return units, nil
}

// Describe 执行首轮：逐 Unit 估算 → 装箱 → 并发描述 → 按块序拼接。
func (r *Runner) Describe(ctx context.Context, units []contract.Unit) (string, error) {
	pb := r.comp.Describe
	costed := prompt.Annotate(pb, r.comp.Estimator, units)
	chunks, err := r.pack(ctx, describePhase, costed, pb, r.set.Describe)
	if err != nil {
		return "", err
	}
	return r.dispatchPhase(ctx, describePhase, chunks, pb, r.set.Describe)
}

// header 渲染文档头与目录结构（Reader 支持 TreeRenderer 时）。
func (r *Runner) header(ctx context.Context) string {
	var sb strings.Builder
	sb.WriteString("# Codebase Overview\n\n")
	tr, ok := r.comp.Reader.(contract.TreeRenderer)
	if !ok {
		return sb.String()
	}
	tree, err := tr.Tree(ctx, r.set.Inputs)
	if err != nil {
		r.logger.Warn("reader", "directory tree unavailable", map[string]string{"err": err.Error()})
		return sb.String()
	}
	sb.WriteString("## Directory Structure\n\n```\n")
	sb.WriteString(tree)
	sb.WriteString("```\n\n")
	return sb.String()
}

func (r *Runner) write(ctx context.Context, doc string) error {
	t := r.logger.StartWith("writer", "write", r.set.Output, "")
	if err := r.comp.Writer.Write(ctx, contract.ArtifactID(r.set.Output), strings.NewReader(doc)); err != nil {
		code := diag.Classify(err)
		r.logger.ErrorWith("writer", string(code), err.Error(), t.Since(), r.set.Output, "")
		diag.IncOp("writer", "write", "error")
		diag.IncError("writer", string(code))
		return fmt.Errorf("writer write: %w", err)
	}
	t.Finish("write", int64(len(doc)))
	diag.IncOp("writer", "write", "success")
	diag.GetTerminal().Info("Wrote documentation to %s", r.set.Output)
	return nil
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Estimator == nil || c.Packer == nil || c.Lines == nil || c.Describe == nil ||
		c.Refine == nil || c.LLM == nil || c.Assembler == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if strings.TrimSpace(s.Output) == "" {
		return errors.New("pipeline: empty output")
	}
	for _, ps := range []PhaseSettings{s.Describe, s.Refine} {
		if ps.Budget.Completion <= 0 || ps.Budget.Ceiling() <= 0 {
			return fmt.Errorf("pipeline: %w: model limit %d must exceed completion budget %d > 0",
				contract.ErrInvalidInput, ps.Budget.ModelLimit, ps.Budget.Completion)
		}
	}
	return nil
}
