package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

const defaultAPIVersion = "2024-06-01"

// AzureConfig identifies an Azure OpenAI deployment.
type AzureConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	APIKey      string        `yaml:"-"`
	APIVersion  string        `yaml:"api_version"`
	Deployment  string        `yaml:"deployment"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// NewAzureClient builds an openai client for cfg. The SDK's own retries are disabled so
// that retry.Policy is the only retry layer.
func NewAzureClient(cfg AzureConfig) (openai.Client, error) {
	if cfg.Endpoint == "" {
		return openai.Client{}, fmt.Errorf("azure openai endpoint is required")
	}
	if cfg.APIKey == "" {
		return openai.Client{}, fmt.Errorf("azure openai api key is required")
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}
	opts := []option.RequestOption{
		azure.WithEndpoint(cfg.Endpoint, version),
		azure.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return openai.NewClient(opts...), nil
}

// AzureGenerator calls a chat-completions deployment.
type AzureGenerator struct {
	client openai.Client
	cfg    AzureConfig
	logger *zap.Logger // optional
}

// AzureOption configures an AzureGenerator.
type AzureOption func(*AzureGenerator)

// WithLogger sets a logger for request timings.
func WithLogger(l *zap.Logger) AzureOption {
	return func(g *AzureGenerator) { g.logger = l }
}

// NewAzureGenerator creates a generator for the configured deployment.
func NewAzureGenerator(cfg AzureConfig, opts ...AzureOption) (*AzureGenerator, error) {
	if cfg.Deployment == "" {
		return nil, fmt.Errorf("azure openai deployment is required")
	}
	client, err := NewAzureClient(cfg)
	if err != nil {
		return nil, err
	}
	g := &AzureGenerator{client: client, cfg: cfg}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *AzureGenerator) Generate(ctx context.Context, prompt Prompt) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}
	messages = append(messages, openai.UserMessage(prompt.User))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(g.cfg.Deployment),
		Temperature: openai.Float(g.cfg.Temperature),
	}
	maxTokens := g.cfg.MaxTokens
	if prompt.MaxTokens > 0 {
		maxTokens = prompt.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	start := time.Now()
	output, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", &GenerationError{Op: "chat completion", Retryable: IsRetryable(err), Err: err}
	}
	if g.logger != nil {
		g.logger.Debug("chat completion",
			zap.String("deployment", g.cfg.Deployment),
			zap.Duration("elapsed", time.Since(start)),
			zap.Int64("total_tokens", output.Usage.TotalTokens))
	}
	if len(output.Choices) == 0 || strings.TrimSpace(output.Choices[0].Message.Content) == "" {
		return "", &GenerationError{Op: "chat completion", Err: ErrEmptyResponse}
	}
	return output.Choices[0].Message.Content, nil
}

// IsRetryable classifies an error from the openai client: throttling, server errors,
// timeouts and dropped connections are retryable; other client errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "EOF")
}
