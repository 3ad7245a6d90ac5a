package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"trades-signal/internal/config"
)

type policyDocument struct {
	Strategy   string                 `json:"strategy"`
	Parameters map[string]interface{} `json:"parameters"`
	Symbol     string                 `json:"symbol"`
	Execution  config.IntentConfig    `json:"execution"`
}

// PolicyHash 计算策略配置的内容哈希。json 对 map 键排序，因此相同配置得到相同哈希。
func PolicyHash(strategyID string, params map[string]interface{}, symbol string, exec config.IntentConfig) (string, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	doc := policyDocument{
		Strategy:   strategyID,
		Parameters: params,
		Symbol:     strings.ToUpper(strings.TrimSpace(symbol)),
		Execution:  exec,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("intent: 计算策略哈希失败: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
