package strategies

import (
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"trades-signal/internal/hypothesis"
)

// decodeParams 将配置中的参数解码到带默认值的结构体，未知参数视为错误。
func decodeParams(input map[string]interface{}, out interface{}) error {
	if len(input) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		Result:           out,
		TagName:          "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("创建参数解码器失败: %w", err)
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("解析策略参数失败: %w", err)
	}
	return nil
}

// encodeParams 将生效参数转为 map，供审计与策略哈希使用。
func encodeParams(in interface{}) hypothesis.Parameters {
	out := map[string]interface{}{}
	// 结构体到 map 的编码不会失败。
	_ = mapstructure.Decode(in, &out)
	return hypothesis.Parameters(out)
}

func parseRegimes(values []string) ([]hypothesis.Regime, error) {
	if len(values) == 0 {
		return hypothesis.AllRegimes(), nil
	}
	out := make([]hypothesis.Regime, 0, len(values))
	for _, v := range values {
		r := hypothesis.Regime(strings.ToUpper(strings.TrimSpace(v)))
		switch r {
		case hypothesis.RegimeTrendUp, hypothesis.RegimeTrendDown, hypothesis.RegimeRange, hypothesis.RegimeHighVol, hypothesis.RegimeUnknown:
			out = append(out, r)
		default:
			return nil, fmt.Errorf("未知市场状态 %q", v)
		}
	}
	return out, nil
}
