// Package factory 根据显式配置构造 LLM 供应商实例。
// 不使用全局注册表：支持的供应商在这里穷举，配置选错直接报错。
package factory

import (
	"fmt"
	"time"

	"github.com/documind-io/documind/pkg/llm"
	"github.com/documind-io/documind/pkg/llm/ollama"
	"github.com/documind-io/documind/pkg/llm/openai"
	"github.com/documind-io/documind/pkg/llm/resilience"
)

// Config 供应商构造配置。
type Config struct {
	// Provider 供应商名称：ollama 或 openai。
	Provider string `json:"provider" mapstructure:"provider"`

	BaseURL    string        `json:"base_url" mapstructure:"base_url"`
	APIKey     string        `json:"api_key" mapstructure:"api_key"`
	EmbedModel string        `json:"embed_model" mapstructure:"embed_model"`
	ChatModel  string        `json:"chat_model" mapstructure:"chat_model"`
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`

	// Resilient 为 true 时包装重试与熔断。
	Resilient bool `json:"resilient" mapstructure:"resilient"`
}

// NewEmbeddingProvider 构造 Embedding 供应商。
func NewEmbeddingProvider(cfg *Config) (llm.EmbeddingProvider, error) {
	p, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Resilient {
		return resilience.NewResilientEmbeddingProvider(p, nil, nil), nil
	}
	return p, nil
}

// NewChatProvider 构造 Chat 供应商。
func NewChatProvider(cfg *Config) (llm.ChatProvider, error) {
	p, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Resilient {
		return resilience.NewResilientChatProvider(p, nil, nil), nil
	}
	return p, nil
}

func newProvider(cfg *Config) (llm.Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("llm 配置不能为空")
	}

	switch cfg.Provider {
	case ollama.ProviderName, "":
		oc := ollama.DefaultConfig()
		applyCommon(cfg, &oc.BaseURL, &oc.EmbedModel, &oc.ChatModel, &oc.Timeout, &oc.MaxRetries)
		return ollama.NewProvider(oc), nil

	case openai.ProviderName:
		oc := openai.DefaultConfig()
		oc.APIKey = cfg.APIKey
		applyCommon(cfg, &oc.BaseURL, &oc.EmbedModel, &oc.ChatModel, &oc.Timeout, &oc.MaxRetries)
		return openai.NewProvider(oc)

	default:
		return nil, fmt.Errorf("不支持的供应商: %s", cfg.Provider)
	}
}

func applyCommon(cfg *Config, baseURL, embedModel, chatModel *string, timeout *time.Duration, maxRetries *int) {
	if cfg.BaseURL != "" {
		*baseURL = cfg.BaseURL
	}
	if cfg.EmbedModel != "" {
		*embedModel = cfg.EmbedModel
	}
	if cfg.ChatModel != "" {
		*chatModel = cfg.ChatModel
	}
	if cfg.Timeout > 0 {
		*timeout = cfg.Timeout
	}
	if cfg.MaxRetries > 0 {
		*maxRetries = cfg.MaxRetries
	}
}
