package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	geminix "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/gemini"
	openrouterx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/openrouter"
)

// Role selects which model answers a kind of question.
type Role string

const (
	RoleAnalysis Role = "analysis"
	RoleResponse Role = "response"
	RoleVision   Role = "vision"
)

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

type Config struct {
	Provider string `envconfig:"PROVIDER" default:"openrouter"`

	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0.5"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	AnalysisModel       string  `envconfig:"ANALYSIS_MODEL" split_words:"true"`
	ResponseModel       string  `envconfig:"RESPONSE_MODEL" split_words:"true"`
	VisionModel         string  `envconfig:"VISION_MODEL" split_words:"true"`
	AnalysisTemperature float32 `envconfig:"ANALYSIS_TEMPERATURE" split_words:"true" default:"0.1"`
	ResponseTemperature float32 `envconfig:"RESPONSE_TEMPERATURE" split_words:"true" default:"0.4"`

	GeminiAPIKey         string `envconfig:"GEMINI_API_KEY" split_words:"true"`
	GeminiBaseURL        string `envconfig:"GEMINI_BASE_URL" split_words:"true"`
	GeminiModel          string `envconfig:"GEMINI_MODEL" split_words:"true" default:"gemini-2.5-flash"`
	GeminiThinkingBudget int32  `envconfig:"GEMINI_THINKING_BUDGET" split_words:"true" default:"0"`
}

func (c Config) Validate() error {
	switch c.provider() {
	case ProviderOpenRouter:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
		}
		if strings.TrimSpace(c.Model) == "" {
			return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
		}
	case ProviderGemini:
		if strings.TrimSpace(c.GeminiAPIKey) == "" {
			return fmt.Errorf("%w: gemini api key is required", contractx.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown llm provider %q", contractx.ErrValidation, c.Provider)
	}
	return nil
}

func (c Config) provider() string {
	p := strings.ToLower(strings.TrimSpace(c.Provider))
	if p == "" {
		return ProviderOpenRouter
	}
	return p
}

func (c Config) modelFor(role Role) string {
	var override string
	switch role {
	case RoleAnalysis:
		override = c.AnalysisModel
	case RoleResponse:
		override = c.ResponseModel
	case RoleVision:
		override = c.VisionModel
	}
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return strings.TrimSpace(c.Model)
}

func (c Config) temperatureFor(role Role) float32 {
	switch role {
	case RoleAnalysis:
		if c.AnalysisTemperature >= 0 {
			return c.AnalysisTemperature
		}
	case RoleResponse:
		if c.ResponseTemperature >= 0 {
			return c.ResponseTemperature
		}
	}
	return c.Temperature
}

func (c Config) OpenRouterFor(role Role) openrouterx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              c.modelFor(role),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.temperatureFor(role),
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

func (c Config) GeminiFor(role Role) geminix.Config {
	model := strings.TrimSpace(c.GeminiModel)
	if role == RoleAnalysis && strings.TrimSpace(c.AnalysisModel) != "" {
		model = strings.TrimSpace(c.AnalysisModel)
	}
	if role == RoleResponse && strings.TrimSpace(c.ResponseModel) != "" {
		model = strings.TrimSpace(c.ResponseModel)
	}
	return geminix.Config{
		APIKey:         strings.TrimSpace(c.GeminiAPIKey),
		BaseURL:        strings.TrimSpace(c.GeminiBaseURL),
		Model:          model,
		MaxTokens:      c.MaxCompletionToken,
		Temperature:    c.temperatureFor(role),
		ThinkingBudget: c.GeminiThinkingBudget,
		Timeout:        c.Timeout,
	}
}

// ChatModelFor builds the eino chat model serving role with the configured provider.
func (c Config) ChatModelFor(ctx context.Context, role Role) (einomodel.BaseChatModel, error) {
	switch c.provider() {
	case ProviderGemini:
		m, err := c.GeminiFor(role).New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %s model: %v", contractx.ErrModelInvoke, role, err)
		}
		return m, nil
	case ProviderOpenRouter:
		m, err := c.OpenRouterFor(role).New(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %s model: %v", contractx.ErrModelInvoke, role, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", contractx.ErrValidation, c.Provider)
	}
}
