package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"llmdoc/internal/diag"
	"llmdoc/internal/prompt"
	"llmdoc/pkg/contract"
)

// pack 以阶段预算装箱：ceiling = ModelLimit - Completion，overhead = estimate(Header)。
// 装箱结果经 ValidateChunks 复核（超限仅允许单 Unit 豁免块）。
func (r *Runner) pack(ctx context.Context, phase string, units []contract.Unit, pb contract.PromptBuilder, ps PhaseSettings) ([]contract.Chunk, error) {
	ceiling, overhead := prompt.EffectiveCeiling(pb, r.comp.Estimator, ps.Budget)
	t := r.logger.StartWithKV("packer", "pack", phase, "", map[string]string{
		"units": fmt.Sprint(len(units)), "ceiling": fmt.Sprint(ceiling), "overhead": fmt.Sprint(overhead),
	})
	chunks, err := r.comp.Packer.Pack(ctx, units, ceiling, overhead)
	if err == nil {
		err = contract.ValidateChunks(chunks, ceiling, overhead)
	}
	if err != nil {
		code := diag.Classify(err)
		r.logger.ErrorWith("packer", string(code), err.Error(), t.Since(), phase, "")
		diag.IncOp("packer", phase, "error")
		diag.IncError("packer", string(code))
		return nil, fmt.Errorf("%s pack: %w", phase, err)
	}
	for _, c := range chunks {
		if c.Oversized(ceiling) {
			r.logger.Warn("packer", "oversized single-unit chunk", map[string]string{
				"phase": phase, "chunk": fmt.Sprint(c.Index), "unit": c.Units[0].ID, "cost": fmt.Sprint(c.TotalCost),
			})
		}
	}
	t.Finish("pack", int64(len(chunks)))
	diag.IncOp("packer", phase, "success")
	return chunks, nil
}

// dispatchPhase 并发处理全部块并按块序拼接成功输出。
// 全部失败时返回 ErrNoOutput；父 ctx 取消时返回取消错误。
func (r *Runner) dispatchPhase(ctx context.Context, phase string, chunks []contract.Chunk, pb contract.PromptBuilder, ps PhaseSettings) (string, error) {
	start := time.Now()
	term := diag.GetTerminal()
	term.PhaseStart(phase, len(chunks))

	d := &Dispatcher{
		Phase:        phase,
		LLM:          r.comp.LLM,
		Prompt:       pb,
		Estimate:     r.comp.Estimator,
		Model:        ps.Model,
		Budget:       ps.Budget,
		Concurrency:  r.set.Concurrency,
		MaxRetries:   r.set.MaxRetries,
		CallTimeout:  r.set.CallTimeout,
		SafetyMargin: r.set.SafetyMargin,
		Gate:         r.set.Gate,
		GateKey:      r.set.GateKey,
		Logger:       r.logger,
	}
	results, err := d.Dispatch(ctx, chunks)
	failed := 0
	for _, res := range results {
		if res.Failed {
			failed++
		}
	}
	diag.ObserveDuration("pipeline", phase, time.Since(start).Milliseconds())
	if err != nil {
		term.PhaseFinish(false, failed, time.Since(start))
		return "", err
	}

	rd, err := r.comp.Assembler.Assemble(ctx, results)
	if err != nil {
		term.PhaseFinish(false, failed, time.Since(start))
		if errors.Is(err, contract.ErrNoOutput) {
			r.logger.Error("pipeline", string(diag.Classify(err)), phase+": every chunk failed", &start)
			return "", fmt.Errorf("%s: %w", phase, contract.ErrNoOutput)
		}
		return "", fmt.Errorf("%s assemble: %w", phase, err)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		term.PhaseFinish(false, failed, time.Since(start))
		return "", fmt.Errorf("%s assemble: %w", phase, err)
	}
	term.PhaseFinish(true, failed, time.Since(start))
	r.logger.InfoFinish("pipeline", phase, start, int64(len(chunks)-failed))
	return string(b), nil
}
