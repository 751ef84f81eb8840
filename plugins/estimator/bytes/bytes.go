package bytes

import "llmdoc/pkg/contract"

// Options: 近似估算参数。
type Options struct {
	// BytesPerToken: tokens ≈ ceil(utf8_bytes / BytesPerToken)；<=0 采用默认 4。
	BytesPerToken int `json:"bytes_per_token"`
}

// New 返回近似 token 估算器。离线/测试场景使用，无需加载编码表。
func New(opts *Options) contract.TokenEstimator {
	bpt := 4
	if opts != nil && opts.BytesPerToken > 0 {
		bpt = opts.BytesPerToken
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}
