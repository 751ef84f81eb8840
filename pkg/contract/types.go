package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Unit: 原子输入片段（整个文件，或精炼阶段的一行）。
// 约束：
// - ID 为规范化路径或行号标签（如 "L12"）；
// - Type 为扩展名（不含点），可为空；
// - Cost 在装箱前一次性赋值，此后不可变。
type Unit struct {
	ID      string
	Content string
	Type    string
	Cost    int
}

// Chunk: 有序 Unit 序列及其派生总开销。
// TotalCost = 固定开销 + Σ Unit.Cost。
// 除“单个超限 Unit 独占一块”的豁免外，TotalCost 不得超过 ceiling。
type Chunk struct {
	// Index: 块序（0..n-1，严格递增），用于结果按输入顺序聚合。
	Index     int
	Units     []Unit
	TotalCost int
}

// Oversized 判断该块是否为超限豁免块（仅含一个 Unit 且总开销超过 ceiling）。
func (c Chunk) Oversized(ceiling int) bool {
	return len(c.Units) == 1 && c.TotalCost > ceiling
}

// Budget: 模型绝对上限与请求输出预算。
// Ceiling = ModelLimit - Completion，即单块提示词可用的最大 token 数。
type Budget struct {
	ModelLimit int
	Completion int
}

func (b Budget) Ceiling() int { return b.ModelLimit - b.Completion }

// DispatchResult: 每块恰好产生一个结果。
// Failed=true 时 Output 为空，Err 携带失败原因（ErrChunkTooLarge / ErrRemoteCall 等）。
type DispatchResult struct {
	ChunkIndex int
	Output     string
	Failed     bool
	Err        error
	// PromptTokens / CompletionBudget: 诊断字段，记录实际请求规模。
	PromptTokens     int
	CompletionBudget int
}
