package pipeline

import (
	"context"
	"fmt"
	"strings"

	"llmdoc/internal/prompt"
	"llmdoc/pkg/contract"
)

const refinePhase = "refine"

// Refine 对已汇总的文档做第二轮润色：按行切分 → 装箱 → 并发分发 → 按块序拼接。
// 整篇可装入单块时不切分，原文作为唯一块提交。空输入返回 ErrNoOutput 且不发起调用。
func (r *Runner) Refine(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", fmt.Errorf("%s: %w: empty input", refinePhase, contract.ErrNoOutput)
	}
	pb := r.comp.Refine
	ps := r.set.Refine

	whole := contract.Unit{ID: "L1", Content: text}
	whole.Cost = r.comp.Estimator(pb.Segment(whole))
	overhead := prompt.Overhead(pb, r.comp.Estimator)

	var chunks []contract.Chunk
	if overhead+whole.Cost <= ps.Budget.Ceiling() {
		chunks = []contract.Chunk{{Index: 0, Units: []contract.Unit{whole}, TotalCost: overhead + whole.Cost}}
	} else {
		lines, err := r.comp.Lines.Split(ctx, contract.FileID(r.set.Output), strings.NewReader(text))
		if err != nil {
			return "", fmt.Errorf("%s split: %w", refinePhase, err)
		}
		units := prompt.Annotate(pb, r.comp.Estimator, lines)
		chunks, err = r.pack(ctx, refinePhase, units, pb, ps)
		if err != nil {
			return "", err
		}
	}
	return r.dispatchPhase(ctx, refinePhase, chunks, pb, ps)
}
