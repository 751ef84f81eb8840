package lines

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"llmdoc/pkg/contract"
)

// Options 为按行 Splitter 的可选配置。
type Options struct {
	// MaxLineBytes: 单行最大字节数，超出按 rune 边界继续切分。0 表示不限制。
	MaxLineBytes int `json:"max_line_bytes"`
}

// Splitter 将文本按行拆分，每个 Unit 保留行尾换行符。
// 拼接全部 Unit.Content 即逐字节还原输入。
type Splitter struct {
	maxBytes int
}

func New(opts *Options) *Splitter {
	mb := 0
	if opts != nil && opts.MaxLineBytes > 0 {
		mb = opts.MaxLineBytes
	}
	return &Splitter{maxBytes: mb}
}

// Split 产生 ID 为 "L1".."Ln" 的 Unit 序列。空输入返回空切片。
func (s *Splitter) Split(ctx context.Context, id contract.FileID, r io.Reader) ([]contract.Unit, error) {
	if r == nil {
		return nil, fmt.Errorf("lines: %w: nil reader", contract.ErrInvalidInput)
	}
	br := bufio.NewReader(r)
	var out []contract.Unit
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			for _, part := range s.cut(line) {
				n++
				out = append(out, contract.Unit{ID: "L" + strconv.Itoa(n), Content: part})
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("lines: read %s: %w", id, err)
		}
	}
	return out, nil
}

// cut 在 rune 边界上把超长行切成不超过 maxBytes 的片段（单 rune 超限时独占一段）。
func (s *Splitter) cut(line string) []string {
	if s.maxBytes <= 0 || len(line) <= s.maxBytes {
		return []string{line}
	}
	var parts []string
	for len(line) > s.maxBytes {
		i := s.maxBytes
		for i > 0 && !utf8.RuneStart(line[i]) {
			i--
		}
		if i == 0 {
			_, w := utf8.DecodeRuneInString(line)
			i = w
		}
		parts = append(parts, line[:i])
		line = line[i:]
	}
	if line != "" {
		parts = append(parts, line)
	}
	return parts
}
