// Package chat constructs the language model client used for answering.
// Azure OpenAI is the primary backend; plain OpenAI is supported for
// development against a personal key.
package chat

import (
	"context"
	"fmt"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/docq-ai/docq-go/internal/config"
)

// Generation tuning shared by both backends.
const (
	defaultMaxTokens   = 512
	defaultTemperature = float32(0.7)
)

// New constructs a ChatModel from the OpenAI section of the configuration.
// An endpoint selects Azure OpenAI; without one the plain OpenAI API is used.
func New(ctx context.Context, cfg config.OpenAIConfig) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("chat: AZURE_OPENAI_API_KEY is required")
	}
	maxTokens := defaultMaxTokens
	temperature := defaultTemperature

	if cfg.Endpoint != "" {
		if cfg.Deployment == "" {
			return nil, fmt.Errorf("chat: AZURE_OPENAI_DEPLOYMENT is required with an Azure endpoint")
		}
		return einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
			Model:       cfg.Deployment,
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.Endpoint,
			ByAzure:     true,
			APIVersion:  cfg.APIVersion,
			MaxTokens:   &maxTokens,
			Temperature: &temperature,
			// Use the deployment name as-is: the default mapper strips dots
			// and colons, which breaks deployment names like "gpt-4.1".
			AzureModelMapperFunc: func(model string) string { return model },
		})
	}

	if cfg.Deployment == "" {
		return nil, fmt.Errorf("chat: a model name is required")
	}
	return einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		Model:       cfg.Deployment,
		APIKey:      cfg.APIKey,
		MaxTokens:   &maxTokens,
		Temperature: &temperature,
	})
}
