// Package provider implements the generation backends that turn page text
// into summaries and site descriptions. Every backend is wrapped in a
// Generator that adds breaker gating and prompt-repair retries.
package provider

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/resilience"
)

// BackendName selects a generation backend.
type BackendName string

// Supported backends.
const (
	BackendOpenAI     BackendName = "openai"
	BackendOpenRouter BackendName = "openrouter"
	BackendLocal      BackendName = "local"
	BackendExtractive BackendName = "extractive"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	localBaseURL      = "http://localhost:11434/v1"
)

var defaultModels = map[BackendName]string{
	BackendOpenAI:     "gpt-4o-mini",
	BackendOpenRouter: "openai/gpt-4o-mini",
	BackendLocal:      "llama3.2",
	BackendExtractive: "extractive",
}

// Config selects and configures a backend.
type Config struct {
	Backend     BackendName
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxAttempts int
	Breaker     resilience.BreakerConfig
	// AppName is sent as OpenRouter's X-Title attribution header.
	AppName string
}

// ParseBackend maps a user-facing name (and a few aliases) to a backend.
func ParseBackend(s string) (BackendName, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return BackendOpenAI, nil
	case "openrouter", "or":
		return BackendOpenRouter, nil
	case "local", "ollama":
		return BackendLocal, nil
	case "", "extractive", "offline":
		return BackendExtractive, nil
	default:
		return "", fmt.Errorf("unknown provider backend %q", s)
	}
}

// New builds the Generator for cfg.Backend.
func New(cfg Config, clock resilience.Clock, logger *zap.Logger) (*Generator, error) {
	backendName, err := ParseBackend(string(cfg.Backend))
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = defaultModels[backendName]
	}

	var backend Backend
	switch backendName {
	case BackendExtractive:
		backend = Extractive{}
	default:
		chatCfg, err := chatConfig(backendName, model, cfg)
		if err != nil {
			return nil, err
		}
		client, err := NewChatClient(chatCfg, logger)
		if err != nil {
			return nil, err
		}
		backend = client
	}

	return NewGenerator(backend, GeneratorConfig{
		Name:        string(backendName),
		Model:       model,
		MaxAttempts: cfg.MaxAttempts,
		Breaker:     cfg.Breaker,
		Clock:       clock,
	}, logger)
}

func chatConfig(name BackendName, model string, cfg Config) (ChatConfig, error) {
	out := ChatConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
	}
	switch name {
	case BackendOpenAI:
		if out.BaseURL == "" {
			out.BaseURL = openAIBaseURL
		}
		if out.APIKey == "" {
			return ChatConfig{}, fmt.Errorf("provider.api_key is required for %s", name)
		}
	case BackendOpenRouter:
		if out.BaseURL == "" {
			out.BaseURL = openRouterBaseURL
		}
		if out.APIKey == "" {
			return ChatConfig{}, fmt.Errorf("provider.api_key is required for %s", name)
		}
		if cfg.AppName != "" {
			out.Headers = map[string]string{"X-Title": cfg.AppName}
		}
	case BackendLocal:
		if out.BaseURL == "" {
			out.BaseURL = localBaseURL
		}
	}
	return out, nil
}
