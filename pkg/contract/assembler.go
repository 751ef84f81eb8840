package contract

import (
	"context"
	"io"
)

// Assembler: 将一个阶段的 DispatchResult 按 ChunkIndex 升序拼接为文本。
// 约束：
//  1. 仅拼接成功的结果；
//  2. 与完成顺序无关；
//  3. 无成功结果时返回 ErrNoOutput。
type Assembler interface {
	Assemble(ctx context.Context, results []DispatchResult) (io.Reader, error)
}
