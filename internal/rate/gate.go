package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"llmdoc/pkg/contract"
)

// LimitKey: 限流分组键（例如 client + 凭据摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次请求 token 上限（含输入+预期输出），0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败（ErrBudgetExceeded）。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
// 每个维度为一个令牌桶：容量 = 每分钟额度，匀速回填。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req *xrate.Limiter // nil 表示该维度关闭
	tok *xrate.Limiter
}

func newEntry(lim Limits) *entry {
	e := &entry{lim: lim}
	if lim.RPM > 0 {
		e.req = xrate.NewLimiter(xrate.Limit(float64(lim.RPM)/60.0), lim.RPM)
	}
	if lim.TPM > 0 {
		e.tok = xrate.NewLimiter(xrate.Limit(float64(lim.TPM)/60.0), lim.TPM)
	}
	return e
}

// clampN: 超过桶容量的申请按整桶消费，避免永久不可满足。
func clampN(l *xrate.Limiter, n int) int {
	if b := l.Burst(); n > b {
		return b
	}
	return n
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{})
		g.m[key] = e
	}
	return e
}

func (g *gate) check(a Ask) (*entry, error) {
	if a.Requests <= 0 || a.Tokens < 0 {
		return nil, fmt.Errorf("rate: %w: requests=%d tokens=%d", contract.ErrInvalidInput, a.Requests, a.Tokens)
	}
	e := g.get(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return nil, fmt.Errorf("rate: %w: %d tokens exceed per-request limit %d", contract.ErrBudgetExceeded, a.Tokens, e.lim.MaxTokensPerReq)
	}
	return e, nil
}

func (g *gate) Try(a Ask) bool {
	e, err := g.check(a)
	if err != nil {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.req != nil && e.req.TokensAt(now) < float64(clampN(e.req, a.Requests)) {
		return false
	}
	if e.tok != nil && a.Tokens > 0 && e.tok.TokensAt(now) < float64(clampN(e.tok, a.Tokens)) {
		return false
	}
	if e.req != nil {
		e.req.AllowN(now, clampN(e.req, a.Requests))
	}
	if e.tok != nil && a.Tokens > 0 {
		e.tok.AllowN(now, clampN(e.tok, a.Tokens))
	}
	return true
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, err := g.check(a)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := g.clk()
	// 两个维度同时预约，取较长等待；取消时归还额度
	e.mu.Lock()
	var rs []*xrate.Reservation
	if e.req != nil {
		rs = append(rs, e.req.ReserveN(now, clampN(e.req, a.Requests)))
	}
	if e.tok != nil && a.Tokens > 0 {
		rs = append(rs, e.tok.ReserveN(now, clampN(e.tok, a.Tokens)))
	}
	e.mu.Unlock()

	var delay time.Duration
	for _, r := range rs {
		if d := r.DelayFrom(now); d > delay {
			delay = d
		}
	}
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		at := g.clk()
		for _, r := range rs {
			r.CancelAt(at)
		}
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot: 返回当前可用请求/令牌的向下取整估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.req != nil {
		rpmAvail = max(0, int(e.req.TokensAt(now)))
	}
	if e.tok != nil {
		tpmAvail = max(0, int(e.tok.TokensAt(now)))
	}
	return
}

var (
	_ Gate       = (*gate)(nil)
	_ Snapshoter = (*gate)(nil)
)
