package pipeline

import "sync/atomic"

// sharedBudget: 单阶段内所有块共享的输出预算。
// 只降不升：ShrinkTo 以 CAS 取 min(当前, 提议)，并发下任一读者看到的都是合法的已收缩值。
type sharedBudget struct {
	v atomic.Int64
}

func newSharedBudget(initial int) *sharedBudget {
	b := &sharedBudget{}
	b.v.Store(int64(initial))
	return b
}

func (b *sharedBudget) Load() int { return int(b.v.Load()) }

// ShrinkTo 尝试把预算降到 proposed；返回收缩后的值与本次是否实际下调。
func (b *sharedBudget) ShrinkTo(proposed int) (int, bool) {
	p := int64(proposed)
	for {
		cur := b.v.Load()
		if p >= cur {
			return int(cur), false
		}
		if b.v.CompareAndSwap(cur, p) {
			return proposed, true
		}
	}
}
