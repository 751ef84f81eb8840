package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（文件/目录）。
// 约束：
// 1) 按稳定顺序逐文件回调；
// 2) FileID 稳定且去平台差异化；
// 3) 排除策略（目录名/文件名/扩展名）由实现配置提供；
// 4) 不在内部起并发。
// 单个文件的打开/读取错误应通过 ReadCloser 的 Read 暴露，由调用方决定跳过。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, r io.ReadCloser) error) error
}

// TreeRenderer: 可选扩展接口。渲染与 Iterate 相同排除策略下的目录结构文本。
type TreeRenderer interface {
	Tree(ctx context.Context, roots []string) (string, error)
}
