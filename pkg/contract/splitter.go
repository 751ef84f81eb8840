package contract

import (
	"context"
	"io"
)

// Splitter: 将文本流拆分为有序 Unit 序列（未估算 Cost）。
// 约束：
// 1) 拼接全部 Unit.Content 必须逐字节还原输入；
// 2) 顺序稳定、幂等；
// 3) 无内部并发。
type Splitter interface {
	Split(ctx context.Context, id FileID, r io.Reader) ([]Unit, error)
}
