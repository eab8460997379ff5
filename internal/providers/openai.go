package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	GroqName   = "groq"
	OpenAIName = "openai"

	// GroqBaseURL is Groq's OpenAI-compatible endpoint.
	GroqBaseURL = "https://api.groq.com/openai/v1"

	groqDefaultModel   = "llama-3.1-8b-instant"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAIConfig holds configuration for an OpenAI-compatible chat client.
type OpenAIConfig struct {
	Name       string        // Provider name reported in results (default "openai")
	APIKey     string
	Model      string        // Default model
	BaseURL    string        // Optional, e.g. GroqBaseURL or a local server
	MaxRetries int           // Retry attempts for SDK transport
	Timeout    time.Duration // HTTP timeout
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIClient implements StreamingClient using the official OpenAI SDK.
// It serves both OpenAI and Groq, which speaks the same API.
type OpenAIClient struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	client  openai.Client
}

// NewOpenAIClient creates a client for the OpenAI API or any compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Name == "" {
		cfg.Name = OpenAIName
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		client:  openai.NewClient(opts...),
	}
}

// NewGroqClient creates a client for Groq's OpenAI-compatible API.
func NewGroqClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Name == "" {
		cfg.Name = GroqName
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = GroqBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = groqDefaultModel
	}
	return NewOpenAIClient(cfg)
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string {
	return c.name
}

// Model returns the configured default model.
func (c *OpenAIClient) Model() string {
	return c.model
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	return completeStructured(ctx, req, c.chatOnce)
}

func (c *OpenAIClient) chatOnce(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	result := c.newResult(req)

	completion, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return failedResult(result, start, "http_error", c.mapError(err))
	}
	if len(completion.Choices) == 0 {
		return failedResult(result, start, "empty_response", fmt.Errorf("no choices in response"))
	}

	result.Success = true
	result.Content = completion.Choices[0].Message.Content
	result.ModelUsed = completion.Model
	result.PromptTokens = int(completion.Usage.PromptTokens)
	result.CompletionTokens = int(completion.Usage.CompletionTokens)
	result.TotalTokens = int(completion.Usage.TotalTokens)
	result.ExecutionTime = time.Since(start)
	result.TotalTime = result.ExecutionTime
	return result, nil
}

// ChatStream streams a chat completion, calling onDelta for each content fragment.
// Structured output is not supported while streaming.
func (c *OpenAIClient) ChatStream(ctx context.Context, req *ChatRequest, onDelta func(delta string)) (*ChatResult, error) {
	start := time.Now()
	result := c.newResult(req)

	params := c.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" && onDelta != nil {
			onDelta(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return failedResult(result, start, "http_error", c.mapError(err))
	}
	if len(acc.Choices) == 0 {
		return failedResult(result, start, "empty_response", fmt.Errorf("no choices in response"))
	}

	result.Success = true
	result.Content = acc.Choices[0].Message.Content
	result.ModelUsed = acc.Model
	result.PromptTokens = int(acc.Usage.PromptTokens)
	result.CompletionTokens = int(acc.Usage.CompletionTokens)
	result.TotalTokens = int(acc.Usage.TotalTokens)
	result.ExecutionTime = time.Since(start)
	result.TotalTime = result.ExecutionTime
	return result, nil
}

func (c *OpenAIClient) newResult(req *ChatRequest) *ChatResult {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	return &ChatResult{
		RequestID: requestID,
		Provider:  c.name,
		ModelUsed: c.modelFor(req),
		Attempts:  1,
	}
}

func (c *OpenAIClient) modelFor(req *ChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return c.model
}

func (c *OpenAIClient) params(req *ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.modelFor(req)),
		Messages: messages,
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	// Schemas are validated locally; JSON mode is the widest supported option
	// across OpenAI-compatible servers.
	if req.ResponseFormat != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return params
}

func (c *OpenAIClient) mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return statusError(c.name, apiErr.StatusCode, apiErr.Message, header)
	}
	return err
}

var _ StreamingClient = (*OpenAIClient)(nil)
