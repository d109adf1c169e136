package chatgpt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"chatgpt-ui-server/backend/internal/llm"
	"chatgpt-ui-server/backend/pkg/logger"

	openai "github.com/sashabaranov/go-openai"
)

// SamplingParams are the completion sampling knobs forwarded upstream
type SamplingParams struct {
	Temperature      float32
	TopP             float32
	PresencePenalty  float32
	FrequencyPenalty float32
	MaxTokens        int
}

// DefaultSamplingParams mirrors the sampling used by the web UI
func DefaultSamplingParams(maxTokens int) SamplingParams {
	return SamplingParams{
		Temperature:      0.8,
		TopP:             1.0,
		PresencePenalty:  1.0,
		FrequencyPenalty: 0,
		MaxTokens:        maxTokens,
	}
}

// OfficialClient talks to the vendor's chat completion API. The API key
// is resolved through the KeyResolver on every request, so a key added
// or rotated in the backing sources takes effect without a restart. An
// optional base URL override routes requests through an API proxy.
type OfficialClient struct {
	keys    KeyResolver
	baseURL string
	model   string
	log     *logger.Logger

	mu     sync.Mutex
	key    string
	client *openai.Client
}

// NewOfficialClient builds a client for the official API path
func NewOfficialClient(keys KeyResolver, baseURL, model string, log *logger.Logger) *OfficialClient {
	if baseURL != "" {
		baseURL = strings.TrimRight(baseURL, "/") + "/v1"
	}
	return &OfficialClient{keys: keys, baseURL: baseURL, model: model, log: log}
}

// api returns an SDK client bound to the currently resolved key,
// rebuilding it only when the key changed since the last request.
func (c *OfficialClient) api(ctx context.Context) (*openai.Client, error) {
	key, err := c.keys.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil || key != c.key {
		cfg := openai.DefaultConfig(key)
		if c.baseURL != "" {
			cfg.BaseURL = c.baseURL
		}
		c.client = openai.NewClientWithConfig(cfg)
		c.key = key
	}
	return c.client, nil
}

func (c *OfficialClient) request(messages []llm.ChatMessage, params SamplingParams, stream bool) openai.ChatCompletionRequest {
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		converted = append(converted, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}
	return openai.ChatCompletionRequest{
		Model:            c.model,
		Messages:         converted,
		MaxTokens:        params.MaxTokens,
		Temperature:      params.Temperature,
		TopP:             params.TopP,
		PresencePenalty:  params.PresencePenalty,
		FrequencyPenalty: params.FrequencyPenalty,
		Stream:           stream,
	}
}

// StreamCompletion starts a streaming completion over the built context
func (c *OfficialClient) StreamCompletion(ctx context.Context, messages []llm.ChatMessage, params SamplingParams) (Stream, error) {
	api, err := c.api(ctx)
	if err != nil {
		return nil, err
	}
	upstream, err := api.CreateChatCompletionStream(ctx, c.request(messages, params, true))
	if err != nil {
		return nil, c.mapError(err)
	}
	return &officialStream{upstream: upstream}, nil
}

// Complete performs a single non-streaming completion and returns the
// final text.
func (c *OfficialClient) Complete(ctx context.Context, messages []llm.ChatMessage, params SamplingParams) (string, error) {
	api, err := c.api(ctx)
	if err != nil {
		return "", err
	}
	resp, err := api.CreateChatCompletion(ctx, c.request(messages, params, false))
	if err != nil {
		return "", c.mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &UpstreamError{StatusCode: http.StatusOK, Body: "response contained no choices"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OfficialClient) mapError(err error) error {
	status := 0
	body := err.Error()

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	} else if errors.As(err, &reqErr) {
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusUnauthorized:
		c.keys.Invalidate()
		return ErrAuthExpired
	case status >= 500:
		return ErrUpstreamUnavailable
	case status != 0:
		return &UpstreamError{StatusCode: status, Body: body}
	default:
		return err
	}
}

// officialStream adapts the vendor SDK's event stream. The upstream
// signals completion with an explicit finish reason; events before it
// may or may not carry a content delta.
type officialStream struct {
	upstream *openai.ChatCompletionStream
	text     strings.Builder
	done     bool
}

func (s *officialStream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	resp, err := s.upstream.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.done = true
			return "", io.EOF
		}
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	choice := resp.Choices[0]
	if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
		s.done = true
		return "", io.EOF
	}
	s.text.WriteString(choice.Delta.Content)
	return choice.Delta.Content, nil
}

func (s *officialStream) Result() Completion {
	// The official API does not assign conversation-scoped ids
	return Completion{Text: s.text.String()}
}

func (s *officialStream) Close() error {
	return s.upstream.Close()
}
