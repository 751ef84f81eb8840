package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"llmdoc/internal/diag"
	"llmdoc/internal/rate"
	"llmdoc/pkg/contract"
)

// DefaultSafetyMargin: 收缩输出预算时额外预留的 token 数。
const DefaultSafetyMargin = 1000

// Dispatcher 对一个阶段的全部块并发发起补全请求，每块恰好产生一个结果。
// 块之间唯一的共享状态是只降不升的输出预算；单块失败不影响兄弟任务。
type Dispatcher struct {
	Phase    string
	LLM      contract.LLMClient
	Prompt   contract.PromptBuilder
	Estimate contract.TokenEstimator
	Model    string
	Budget   contract.Budget

	Concurrency  int
	MaxRetries   int
	CallTimeout  time.Duration
	SafetyMargin int

	Gate    rate.Gate
	GateKey rate.LimitKey
	Logger  *diag.Logger
}

// Dispatch 按块并发执行，返回按 ChunkIndex 排列的结果。
// 仅当父 ctx 被取消时返回错误（此时结果仍完整，未完成的块标记为失败）。
func (d *Dispatcher) Dispatch(ctx context.Context, chunks []contract.Chunk) ([]contract.DispatchResult, error) {
	results := make([]contract.DispatchResult, len(chunks))
	if len(chunks) == 0 {
		return results, ctx.Err()
	}
	budget := newSharedBudget(d.Budget.Completion)

	n := d.Concurrency
	if n < 1 {
		n = 1
	}
	var g errgroup.Group
	g.SetLimit(n)

	var done, failed atomic.Int64
	term := diag.GetTerminal()
	for i := range chunks {
		g.Go(func() error {
			res := d.one(ctx, chunks[i], budget)
			res.ChunkIndex = i
			results[i] = res
			if res.Failed {
				failed.Add(1)
			}
			term.PhaseProgress(int(done.Add(1)), len(chunks), int(failed.Load()))
			// 不向 errgroup 传播错误：单块失败不取消兄弟任务
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

// one 处理单个块：构造提示词 → 估算 → 必要时收缩共享预算 → 限流 → 调用。
func (d *Dispatcher) one(ctx context.Context, c contract.Chunk, budget *sharedBudget) contract.DispatchResult {
	chunkID := strconv.Itoa(c.Index)
	res := contract.DispatchResult{ChunkIndex: c.Index}
	fail := func(err error, t *diag.Timer, kv map[string]string) contract.DispatchResult {
		res.Failed = true
		res.Err = err
		code := diag.Classify(err)
		d.Logger.ErrorWithKV("dispatch", string(code), err.Error(), t.Since(), d.Phase, chunkID, kv)
		diag.IncOp("dispatch", d.Phase, "error")
		diag.IncError("dispatch", string(code))
		return res
	}

	if err := ctx.Err(); err != nil {
		return fail(err, nil, nil)
	}
	p, err := d.Prompt.Build(ctx, c)
	if err != nil {
		return fail(fmt.Errorf("build prompt: %w", err), nil, nil)
	}
	promptTokens := d.Estimate(p)
	res.PromptTokens = promptTokens

	limit := d.Budget.ModelLimit
	completion := budget.Load()
	if promptTokens+completion > limit {
		margin := d.SafetyMargin
		if margin < 0 {
			margin = DefaultSafetyMargin
		}
		proposed := limit - promptTokens - margin
		if proposed <= 0 {
			// 该块永久过大：不发起调用，也不把非正值写入共享预算
			return fail(fmt.Errorf("%w: prompt %d tokens leaves no completion budget under limit %d", contract.ErrChunkTooLarge, promptTokens, limit), nil,
				map[string]string{"prompt_tokens": strconv.Itoa(promptTokens)})
		}
		var shrunk bool
		completion, shrunk = budget.ShrinkTo(proposed)
		if shrunk {
			diag.IncBudgetShrink(d.Phase)
			d.Logger.Warn("dispatch", "completion budget shrunk", map[string]string{
				"phase": d.Phase, "chunk": chunkID, "prompt_tokens": strconv.Itoa(promptTokens), "completion": strconv.Itoa(completion),
			})
		}
	}
	res.CompletionBudget = completion

	t := d.Logger.StartWithKV("dispatch", "complete", d.Phase, chunkID, map[string]string{
		"units": strconv.Itoa(len(c.Units)), "prompt_tokens": strconv.Itoa(promptTokens), "completion": strconv.Itoa(completion),
	})
	req := contract.Request{Model: d.Model, Prompt: p, MaxOutputTokens: completion}
	raw, err := d.call(ctx, req, promptTokens+completion)
	if err != nil {
		kv := map[string]string{}
		var ue contract.UpstreamError
		if errors.As(err, &ue) {
			kv["status"] = strconv.Itoa(ue.UpstreamStatus())
			kv["upstream"] = ue.UpstreamMessage()
		}
		if !errors.Is(err, contract.ErrBudgetExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", contract.ErrRemoteCall, err)
		}
		return fail(err, t, kv)
	}
	t.Finish("complete", int64(len(raw.Text)))
	diag.IncOp("dispatch", d.Phase, "success")
	res.Output = raw.Text
	return res
}

// call 执行一次（或按 MaxRetries 有界重试的）远端调用；每次尝试独立受 CallTimeout 约束。
// 仅限流与网络类错误可重试；默认 MaxRetries=0 即不重试。
func (d *Dispatcher) call(ctx context.Context, req contract.Request, tokens int) (contract.Raw, error) {
	var out contract.Raw
	attempt := func(ctx context.Context) error {
		if d.Gate != nil {
			if err := d.Gate.Wait(ctx, rate.Ask{Key: d.GateKey, Requests: 1, Tokens: tokens}); err != nil {
				return err
			}
		}
		cctx := ctx
		if d.CallTimeout > 0 {
			var cancel context.CancelFunc
			cctx, cancel = context.WithTimeout(ctx, d.CallTimeout)
			defer cancel()
		}
		raw, err := d.LLM.Complete(cctx, req)
		if err != nil {
			if shouldRetry(ctx, err) {
				return retry.RetryableError(err)
			}
			return err
		}
		out = raw
		return nil
	}
	b := retry.WithMaxRetries(uint64(max(0, d.MaxRetries)), retry.NewExponential(200*time.Millisecond))
	b = retry.WithCappedDuration(10*time.Second, b)
	err := retry.Do(ctx, b, attempt)
	return out, err
}

// shouldRetry: 限流/网络类错误可重试；父 ctx 已取消或单次调用超时之外的取消不重试。
func shouldRetry(parent context.Context, err error) bool {
	if parent.Err() != nil {
		return false
	}
	switch diag.Classify(err) {
	case diag.CodeNetwork:
		return true
	case diag.CodeBudget:
		return errors.Is(err, contract.ErrRateLimited)
	case diag.CodeCancel:
		// 单次调用超时（父 ctx 仍有效）视为网络抖动
		return errors.Is(err, context.DeadlineExceeded)
	default:
		return false
	}
}
