package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// 各客户端未声明 api_key_env 时的默认凭据环境变量。
var defaultKeyEnv = map[string]string{
	"openai": "OPENAI_API_KEY",
	"gemini": "GOOGLE_API_KEY",
}

// DeriveKeyFromProviderOptions 从 LLM 客户端标识与其原样 Options JSON 中提取 API Key，
// 并返回按 client+sha256(key) 构造的限流分组键。找不到 key 时返回错误。
// 仅解析常见键名 "api_key" 与 "api_key_env"；离线客户端（mock/flaky）缺省使用内置调试 key。
func DeriveKeyFromProviderOptions(client string, raw json.RawMessage) (LimitKey, error) {
	var obj map[string]any
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &obj)
	}
	pick := func(key string) string {
		if s, ok := obj[key].(string); ok {
			return s
		}
		return ""
	}

	key := pick("api_key")
	if key == "" {
		env := pick("api_key_env")
		if env == "" {
			env = defaultKeyEnv[client]
		}
		if env != "" {
			key = os.Getenv(env)
		}
	}
	if key == "" && (client == "mock" || client == "flaky") {
		key = "MOCK_DEBUG_KEY"
	}
	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:])), nil
}
