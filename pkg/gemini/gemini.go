package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	geminimodel "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

type Config struct {
	APIKey         string  `envconfig:"API_KEY" split_words:"true"`
	BaseURL        string  `envconfig:"BASE_URL" split_words:"true"`
	Model          string  `envconfig:"MODEL" split_words:"true" default:"gemini-2.5-flash"`
	MaxTokens      int     `envconfig:"MAX_TOKENS" split_words:"true" default:"2000"`
	Temperature    float32 `envconfig:"TEMPERATURE" split_words:"true" default:"0.3"`
	ThinkingBudget int32   `envconfig:"THINKING_BUDGET" split_words:"true" default:"0"`

	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("gemini: api key is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return errors.New("gemini: model is required")
	}
	return nil
}

func (c Config) New(ctx context.Context) (model.BaseChatModel, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(c.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if c.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if base := strings.TrimSpace(c.BaseURL); base != "" {
		clientCfg.HTTPOptions.BaseURL = base
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	temperature := c.Temperature
	maxTokens := c.MaxTokens
	conf := &geminimodel.Config{
		Client:      client,
		Model:       strings.TrimSpace(c.Model),
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	}
	if c.ThinkingBudget > 0 {
		conf.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(c.ThinkingBudget),
		}
	}

	m, err := geminimodel.NewChatModel(ctx, conf)
	if err != nil {
		return nil, fmt.Errorf("gemini: create chat model: %w", err)
	}
	return m, nil
}
