package greedy

import (
	"context"
	"fmt"

	"llmdoc/pkg/contract"
)

// Options 为贪心 Packer 的可选配置（当前无必需项）。
type Options struct {
	// MaxUnitsPerChunk: 每块最多容纳的 Unit 数；<=0 表示不限制。
	MaxUnitsPerChunk int `json:"max_units_per_chunk"`
}

// Packer 实现单遍、稳定顺序的贪心装箱。
type Packer struct {
	maxUnits int
}

// New 创建贪心 Packer。
func New(opts *Options) *Packer {
	p := &Packer{}
	if opts != nil && opts.MaxUnitsPerChunk > 0 {
		p.maxUnits = opts.MaxUnitsPerChunk
	}
	return p
}

// Pack 按输入顺序装箱：
// - 运行开销初始为 overhead；
// - running+cost > ceiling 且当前块非空时封块，新块以该 Unit 开始；
// - 单个超限 Unit 独占一块（不拆分），由 Dispatcher 决定收缩或丢弃；
// - O(n)，不保证全局最优。
func (p *Packer) Pack(ctx context.Context, units []contract.Unit, ceiling, overhead int) ([]contract.Chunk, error) {
	if ceiling <= 0 {
		return nil, fmt.Errorf("packer: %w: ceiling must be > 0, got %d", contract.ErrInvalidInput, ceiling)
	}
	if overhead < 0 {
		return nil, fmt.Errorf("packer: %w: negative overhead %d", contract.ErrInvalidInput, overhead)
	}
	if len(units) == 0 {
		return nil, nil
	}

	var chunks []contract.Chunk
	var cur []contract.Unit
	running := overhead
	flush := func() {
		chunks = append(chunks, contract.Chunk{Index: len(chunks), Units: cur, TotalCost: running})
		cur = nil
	}
	for i, u := range units {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		if u.Cost < 0 {
			return nil, fmt.Errorf("packer: %w: unit %d (%s) has negative cost", contract.ErrInvalidInput, i, u.ID)
		}
		full := p.maxUnits > 0 && len(cur) >= p.maxUnits
		if len(cur) > 0 && (running+u.Cost > ceiling || full) {
			flush()
			running = overhead
		}
		cur = append(cur, u)
		running += u.Cost
	}
	if len(cur) > 0 {
		flush()
	}
	return chunks, nil
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var _ contract.Packer = (*Packer)(nil)
