package strategies

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"trades-signal/internal/clock"
	"trades-signal/internal/config"
	"trades-signal/internal/hypothesis"
	"trades-signal/internal/indicator"
	"trades-signal/internal/market"
	"trades-signal/internal/position"
)

// LLMName 为大模型策略的注册名。
const LLMName = "llm"

const llmCacheSize = 256

// Completer 为 go-openai 客户端的最小接口。
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient 使用给定配置创建 OpenAI 客户端。
func NewOpenAIClient(cfg config.OpenAIConfig) (*openai.Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}
	return openai.NewClientWithConfig(sdkConfig), nil
}

// LLMParams 为大模型策略参数。
type LLMParams struct {
	Model          string   `mapstructure:"model"`
	Size           float64  `mapstructure:"size"`
	MinConfidence  float64  `mapstructure:"min_confidence"`
	Window         int      `mapstructure:"window"`
	AllowedRegimes []string `mapstructure:"allowed_regimes"`
}

// llmReply 为模型返回的决策。
type llmReply struct {
	Action     string  `json:"action"`
	Size       float64 `json:"size"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// LLM 由大模型给出决策。温度为 0 且按提示词哈希缓存回复，相同输入得到相同决策。
type LLM struct {
	params  LLMParams
	regimes []hypothesis.Regime
	client  Completer
	timeout time.Duration
	calc    *indicator.Calculator
	logger  *zap.Logger

	mu    sync.Mutex
	cache map[string]hypothesis.Decision
	order []string
}

// NewLLMFactory 返回绑定客户端的策略工厂。
func NewLLMFactory(client Completer, cfg config.OpenAIConfig, logger *zap.Logger) hypothesis.Factory {
	return func(raw map[string]interface{}) (hypothesis.Strategy, error) {
		return NewLLM(client, cfg, raw, logger)
	}
}

// NewLLM 构造大模型策略。
func NewLLM(client Completer, cfg config.OpenAIConfig, raw map[string]interface{}, logger *zap.Logger) (*LLM, error) {
	if client == nil {
		return nil, errors.New("llm 策略需要 OpenAI 客户端")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := LLMParams{Model: cfg.Model, Size: 1.0, MinConfidence: 0.5, Window: 120}
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Model) == "" {
		return nil, errors.New("openai model 不能为空")
	}
	if !(p.Size > 0) {
		return nil, fmt.Errorf("size 必须大于 0，当前为 %v", p.Size)
	}
	if p.Window < indicator.MinBars {
		p.Window = indicator.MinBars
	}
	regimes, err := parseRegimes(p.AllowedRegimes)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &LLM{
		params:  p,
		regimes: regimes,
		client:  client,
		timeout: timeout,
		calc:    indicator.NewCalculator(),
		logger:  logger,
		cache:   make(map[string]hypothesis.Decision),
	}, nil
}

func (l *LLM) ID() string { return LLMName }

func (l *LLM) Parameters() hypothesis.Parameters { return encodeParams(l.params) }

func (l *LLM) AllowedRegimes() []hypothesis.Regime { return l.regimes }

// Evaluate 实现 hypothesis.Strategy。模型调用失败时返回错误，由调用方视为本周期无决策。
func (l *LLM) Evaluate(snap market.Snapshot, pos position.Position, _ clock.Clock) (hypothesis.Decision, error) {
	result, err := l.calc.ComputeSnapshot(snap, l.params.Window)
	if err != nil {
		// 历史不足或K线异常时不调用模型。
		return hypothesis.HoldDecision(), nil
	}

	prompt, err := BuildPrompt(result, pos)
	if err != nil {
		return hypothesis.HoldDecision(), err
	}
	key := promptKey(l.params.Model, prompt)
	if d, ok := l.cached(key); ok {
		return d, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	response, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.params.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		l.logger.Error("调用OpenAI失败", zap.Error(err))
		return hypothesis.HoldDecision(), fmt.Errorf("调用OpenAI失败: %w", err)
	}
	if len(response.Choices) == 0 {
		return hypothesis.HoldDecision(), errors.New("OpenAI 返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	reply, err := parseReply(rawContent)
	if err != nil {
		l.logger.Error("解析模型决策失败", zap.Error(err), zap.String("raw_content", rawContent))
		return hypothesis.HoldDecision(), err
	}

	decision, err := l.toDecision(reply, pos)
	if err != nil {
		return hypothesis.HoldDecision(), err
	}
	l.store(key, decision)
	return decision, nil
}

func (l *LLM) toDecision(reply llmReply, pos position.Position) (hypothesis.Decision, error) {
	if reply.Confidence < l.params.MinConfidence {
		return hypothesis.HoldDecision(), nil
	}
	opts := []hypothesis.DecisionOption{
		hypothesis.WithConfidence(reply.Confidence),
		hypothesis.WithReason(reply.Reason),
	}
	switch strings.ToUpper(strings.TrimSpace(reply.Action)) {
	case "HOLD":
		return hypothesis.HoldDecision(), nil
	case "BUY":
		return hypothesis.NewDecision(hypothesis.Buy, l.params.Size*reply.Size, opts...)
	case "SELL":
		return hypothesis.NewDecision(hypothesis.Sell, l.params.Size*reply.Size, opts...)
	case "CLOSE":
		if !pos.IsOpen() {
			return hypothesis.HoldDecision(), nil
		}
		return hypothesis.NewDecision(hypothesis.Close, pos.Size, opts...)
	default:
		return hypothesis.HoldDecision(), fmt.Errorf("action 字段取值非法: %s", reply.Action)
	}
}

func parseReply(content string) (llmReply, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return llmReply{}, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	var reply llmReply
	if err := json.Unmarshal([]byte(content[start:end+1]), &reply); err != nil {
		return llmReply{}, fmt.Errorf("解析决策JSON失败: %w", err)
	}
	if reply.Confidence < 0 || reply.Confidence > 1 {
		return llmReply{}, fmt.Errorf("confidence 必须在 [0,1] 区间，目前为 %f", reply.Confidence)
	}
	action := strings.ToUpper(strings.TrimSpace(reply.Action))
	if (action == "BUY" || action == "SELL") && (reply.Size <= 0 || reply.Size > 1) {
		return llmReply{}, fmt.Errorf("size 必须位于 (0,1]，当前为 %f", reply.Size)
	}
	return reply, nil
}

func promptKey(model, prompt string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + prompt))
	return hex.EncodeToString(sum[:])
}

func (l *LLM) cached(key string) (hypothesis.Decision, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.cache[key]
	return d, ok
}

func (l *LLM) store(key string, d hypothesis.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[key]; ok {
		return
	}
	if len(l.order) >= llmCacheSize {
		oldest := l.order[0]
		l.order = l.order[1:]
		delete(l.cache, oldest)
	}
	l.cache[key] = d
	l.order = append(l.order, key)
}

var _ hypothesis.Strategy = (*LLM)(nil)
