package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vulnpilot/vulnpilot/pkg/jsonutil"
	"github.com/vulnpilot/vulnpilot/pkg/retry"
)

// Per-million-token prices used to translate usage into dollars.
// Rough published rates; the governor only needs a consistent measure.
const (
	anthropicInPerM  = 3.0
	anthropicOutPerM = 15.0
	openaiInPerM     = 2.5
	openaiOutPerM    = 10.0
)

// AnthropicClient talks to the Anthropic messages API.
type AnthropicClient struct {
	APIKey     string
	Model      string
	BaseURL    string
	httpClient *http.Client
}

// NewAnthropicClient creates a client for the given key and model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicClient{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.anthropic.com/v1",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *AnthropicClient) Provider() Provider { return ProviderAnthropic }

func (c *AnthropicClient) Validate(ctx context.Context) error {
	if c.APIKey == "" {
		return fmt.Errorf("llm: missing Anthropic API key")
	}
	return nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	body, err := jsonutil.Marshal(anthropicRequest{
		Model:     c.Model,
		MaxTokens: maxTokens,
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retry.RateLimited(fmt.Errorf("llm: anthropic rate limited"))
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, retry.Stop(fmt.Errorf("llm: anthropic auth failed"))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("llm: anthropic status %d", resp.StatusCode)
	}

	var ar anthropicResponse
	if err := jsonutil.UnmarshalRead(resp.Body, &ar); err != nil {
		return nil, fmt.Errorf("llm: decode anthropic response: %w", err)
	}
	var text string
	if len(ar.Content) > 0 {
		text = ar.Content[0].Text
	}
	return &Response{
		Text:         text,
		InputTokens:  ar.Usage.InputTokens,
		OutputTokens: ar.Usage.OutputTokens,
		CostUSD: float64(ar.Usage.InputTokens)/1e6*anthropicInPerM +
			float64(ar.Usage.OutputTokens)/1e6*anthropicOutPerM,
	}, nil
}

// OpenAIClient talks to the OpenAI chat completions API.
type OpenAIClient struct {
	APIKey     string
	Model      string
	BaseURL    string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for the given key and model.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIClient{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *OpenAIClient) Provider() Provider { return ProviderOpenAI }

func (c *OpenAIClient) Validate(ctx context.Context) error {
	if c.APIKey == "" {
		return fmt.Errorf("llm: missing OpenAI API key")
	}
	return nil
}

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	msgs := []openaiMessage{}
	if req.System != "" {
		msgs = append(msgs, openaiMessage{Role: "system", Content: req.System})
	}
	msgs = append(msgs, openaiMessage{Role: "user", Content: req.Prompt})

	body, err := jsonutil.Marshal(openaiRequest{Model: c.Model, Messages: msgs})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retry.RateLimited(fmt.Errorf("llm: openai rate limited"))
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, retry.Stop(fmt.Errorf("llm: openai auth failed"))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("llm: openai status %d", resp.StatusCode)
	}

	var or openaiResponse
	if err := jsonutil.UnmarshalRead(resp.Body, &or); err != nil {
		return nil, fmt.Errorf("llm: decode openai response: %w", err)
	}
	var text string
	if len(or.Choices) > 0 {
		text = or.Choices[0].Message.Content
	}
	return &Response{
		Text:         text,
		InputTokens:  or.Usage.PromptTokens,
		OutputTokens: or.Usage.CompletionTokens,
		CostUSD: float64(or.Usage.PromptTokens)/1e6*openaiInPerM +
			float64(or.Usage.CompletionTokens)/1e6*openaiOutPerM,
	}, nil
}
