package contract

import "context"

// Packer: 将已估算 Cost 的有序 Unit 装入若干 Chunk。
// 约束：
//  1. 不重排、不丢失、不拆分 Unit；
//  2. 每块 TotalCost（含固定开销）不超过 ceiling，单个超限 Unit 独占一块除外；
//  3. 确定性：相同输入得到相同输出；
//  4. Chunk.Index 为 0..n-1。
type Packer interface {
	Pack(ctx context.Context, units []Unit, ceiling, overhead int) ([]Chunk, error)
}
