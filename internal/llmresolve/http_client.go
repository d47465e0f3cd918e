package llmresolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint using
// only net/http: no vendor SDK is present anywhere in the reference stack,
// so the request/response shapes are hand-encoded here rather than pulled
// in from a provider library.
type HTTPClient struct {
	BaseURL     string
	APIKey      string
	ModelName   string
	Temperature float64
	MaxTokens   int
	HTTP        *http.Client
}

func NewHTTPClient(baseURL, apiKey, model string, temperature float64, maxTokens int) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"), APIKey: apiKey, ModelName: model,
		Temperature: temperature, MaxTokens: maxTokens, HTTP: http.DefaultClient,
	}
}

func (c *HTTPClient) Model() string { return c.ModelName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type structuredResolution struct {
	Decision   Decision `json:"decision"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

func (c *HTTPClient) Resolve(ctx context.Context, req Request) (Response, error) {
	userPrompt := fmt.Sprintf(
		"Event A: title=%q description=%q city=%q dates=%v\nEvent B: title=%q description=%q city=%q dates=%v\n"+
			"Respond with JSON {\"decision\":\"same\"|\"different\",\"confidence\":0..1,\"reasoning\":\"...\"}.",
		req.TitleA, req.DescriptionA, req.CityA, req.DatesA,
		req.TitleB, req.DescriptionB, req.CityB, req.DatesB,
	)

	body := chatCompletionRequest{
		Model: c.ModelName,
		Messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.Temperature,
		MaxTokens:   c.MaxTokens,
	}
	body.ResponseFormat.Type = "json_object"

	encoded, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("llmresolve: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return Response{}, fmt.Errorf("llmresolve: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llmresolve: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("llmresolve: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("llmresolve: unexpected status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("llmresolve: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("llmresolve: empty choices in response")
	}

	var structured structuredResolution
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &structured); err != nil {
		return Response{}, fmt.Errorf("llmresolve: malformed structured output: %w", err)
	}

	return Response{
		Decision:   structured.Decision,
		Confidence: structured.Confidence,
		Reasoning:  structured.Reasoning,
		TokensIn:   parsed.Usage.PromptTokens,
		TokensOut:  parsed.Usage.CompletionTokens,
	}, nil
}
