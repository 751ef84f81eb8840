package tiktoken

import (
	"fmt"
	"sync"

	tk "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"llmdoc/pkg/contract"
)

const defaultEncoding = "cl100k_base"

// Options: 编码选择。Encoding 优先；为空时尝试按 Model 推导；均为空使用 cl100k_base。
type Options struct {
	Encoding string `json:"encoding"`
	Model    string `json:"model"`
}

// 编码表使用内嵌资源，估算不触发任何网络下载。
func init() { tk.SetBpeLoader(tiktoken_loader.NewOfflineLoader()) }

var (
	cacheMu sync.Mutex
	cache   = map[string]*tk.Tiktoken{}
)

// New 加载 BPE 编码表并返回估算器。
// 编码表不可用（未知编码等）时返回 ErrCostEstimationUnavailable，调用方应在任何网络请求前终止。
func New(opts *Options) (contract.TokenEstimator, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	enc, err := load(o)
	if err != nil {
		return nil, err
	}
	return func(s string) int {
		if s == "" {
			return 0
		}
		return len(enc.Encode(s, nil, nil))
	}, nil
}

func load(o Options) (*tk.Tiktoken, error) {
	key := o.Encoding + "|" + o.Model
	cacheMu.Lock()
	defer cacheMu.Unlock()
	if enc, ok := cache[key]; ok {
		return enc, nil
	}
	var (
		enc *tk.Tiktoken
		err error
	)
	switch {
	case o.Encoding != "":
		enc, err = tk.GetEncoding(o.Encoding)
	case o.Model != "":
		enc, err = tk.EncodingForModel(o.Model)
		if err != nil {
			// 新模型名（如 o1-mini）可能不在映射表内：回退默认编码
			enc, err = tk.GetEncoding(defaultEncoding)
		}
	default:
		enc, err = tk.GetEncoding(defaultEncoding)
	}
	if err != nil {
		return nil, fmt.Errorf("tiktoken %q: %v: %w", key, err, contract.ErrCostEstimationUnavailable)
	}
	cache[key] = enc
	return enc, nil
}
