package cmd

import (
	"fmt"
	"time"

	"github.com/kon-agent/kon/internal/agent"
	"github.com/kon-agent/kon/internal/config"
	"github.com/kon-agent/kon/internal/llm"
)

// buildProvider constructs the configured provider, wrapping it with the
// retry layer when enabled. Retry progress surfaces through emit.
func buildProvider(cfg *config.Config, emit agent.EmitFunc) (llm.Provider, error) {
	var (
		provider llm.Provider
		err      error
	)

	switch cfg.Provider {
	case "anthropic":
		provider, err = llm.NewAnthropicProvider(cfg.Anthropic.APIKey, cfg.Anthropic.Model)
	case "openai":
		provider, err = llm.NewOpenAIProvider(cfg.OpenAI.APIKey, "", cfg.OpenAI.Model)
	case "openai-compat":
		provider, err = llm.NewOpenAIProvider(cfg.OpenAICompat.APIKey, cfg.OpenAICompat.BaseURL, cfg.OpenAICompat.Model)
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Retry.Enabled {
		retryCfg := llm.DefaultRetryConfig()
		if cfg.Retry.MaxAttempts > 0 {
			retryCfg.MaxAttempts = cfg.Retry.MaxAttempts
		}
		retryCfg.Notify = func(attempt, maxAttempts int, wait time.Duration) {
			emit(agent.Event{
				Type:             agent.EventRetry,
				RetryAttempt:     attempt,
				RetryMaxAttempts: maxAttempts,
				RetryWaitSecs:    wait.Seconds(),
			})
		}
		provider = llm.WrapWithRetry(provider, retryCfg)
	}

	return provider, nil
}
