package concat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"llmdoc/pkg/contract"
)

// Options: 拼接分隔符（nil 时默认 "\n"，显式空串表示直接相接）。
type Options struct {
	Separator *string `json:"separator,omitempty"`
}

type assembler struct {
	sep string
}

// New 从原样 JSON Options 创建拼接装配器。
func New(raw json.RawMessage) (contract.Assembler, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("concat options: %w", err)
		}
	}
	sep := "\n"
	if o.Separator != nil {
		sep = *o.Separator
	}
	return &assembler{sep: sep}, nil
}

// Assemble 按 ChunkIndex 升序拼接成功结果；失败块跳过。
// ChunkIndex 重复视为不变量违例。
func (a *assembler) Assemble(ctx context.Context, results []contract.DispatchResult) (io.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ok := make([]contract.DispatchResult, 0, len(results))
	seen := make(map[int]struct{}, len(results))
	for _, r := range results {
		if _, dup := seen[r.ChunkIndex]; dup {
			return nil, fmt.Errorf("concat: %w: duplicate chunk index %d", contract.ErrInvariantViolation, r.ChunkIndex)
		}
		seen[r.ChunkIndex] = struct{}{}
		if !r.Failed {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return nil, contract.ErrNoOutput
	}
	sort.Slice(ok, func(i, j int) bool { return ok[i].ChunkIndex < ok[j].ChunkIndex })
	parts := make([]string, len(ok))
	for i, r := range ok {
		parts[i] = r.Output
	}
	return strings.NewReader(strings.Join(parts, a.sep)), nil
}
