package contract

import "fmt"

// ValidateChunks 校验装箱结果的不变量（纯函数，无 I/O）：
// - Index 为 0..n-1；
// - 每块非空；
// - TotalCost = overhead + Σ cost；
// - TotalCost <= ceiling，单 Unit 超限豁免除外。
func ValidateChunks(chunks []Chunk, ceiling, overhead int) error {
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("%w: chunk %d has index %d", ErrInvariantViolation, i, c.Index)
		}
		if len(c.Units) == 0 {
			return fmt.Errorf("%w: chunk %d is empty", ErrInvariantViolation, i)
		}
		sum := overhead
		for _, u := range c.Units {
			sum += u.Cost
		}
		if sum != c.TotalCost {
			return fmt.Errorf("%w: chunk %d total %d, want %d", ErrInvariantViolation, i, c.TotalCost, sum)
		}
		if c.TotalCost > ceiling && len(c.Units) > 1 {
			return fmt.Errorf("%w: chunk %d total %d exceeds ceiling %d", ErrInvariantViolation, i, c.TotalCost, ceiling)
		}
	}
	return nil
}

// Flatten 按块序展开全部 Unit（用于顺序校验与诊断）。
func Flatten(chunks []Chunk) []Unit {
	n := 0
	for _, c := range chunks {
		n += len(c.Units)
	}
	out := make([]Unit, 0, n)
	for _, c := range chunks {
		out = append(out, c.Units...)
	}
	return out
}
