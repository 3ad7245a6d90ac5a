package strategies

import (
	"go.uber.org/zap"

	"trades-signal/internal/config"
	"trades-signal/internal/hypothesis"
)

// Register 将内置策略注册到注册表。llm 为 nil 时不注册大模型策略。
func Register(reg *hypothesis.Registry, llm Completer, openaiCfg config.OpenAIConfig, logger *zap.Logger) error {
	if err := reg.Register(BreakoutName, NewBreakout); err != nil {
		return err
	}
	if err := reg.Register(HailMaryName, NewHailMary); err != nil {
		return err
	}
	if llm != nil {
		if err := reg.Register(LLMName, NewLLMFactory(llm, openaiCfg, logger)); err != nil {
			return err
		}
	}
	return nil
}
