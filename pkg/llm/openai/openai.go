// Package openai provides an OpenAI-compatible model provider implementation.
//
// Example usage:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//	    "os"
//
//	    "github.com/entrhq/inquest/pkg/llm"
//	    "github.com/entrhq/inquest/pkg/llm/openai"
//	)
//
//	func main() {
//	    provider, err := openai.NewProvider(
//	        os.Getenv("OPENAI_API_KEY"),
//	        openai.WithModel("gpt-4o"),
//	    )
//	    if err != nil {
//	        panic(err)
//	    }
//
//	    stream, err := provider.InvokeStream(context.Background(), &llm.Request{
//	        SystemPrompt: "You are a research assistant.",
//	        Prompt:       "What is Apple's revenue?",
//	    })
//	    if err != nil {
//	        panic(err)
//	    }
//
//	    for chunk := range stream {
//	        if chunk.IsError() {
//	            panic(chunk.Error)
//	        }
//	        fmt.Print(chunk.Content)
//	    }
//	}
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/entrhq/inquest/pkg/llm"
	"github.com/entrhq/inquest/pkg/types"
	"github.com/openai/openai-go"
)

const (
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
)

// Provider implements llm.Provider for OpenAI-compatible APIs.
type Provider struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// ProviderOption is a function that configures a Provider.
type ProviderOption func(*Provider)

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(p *Provider) {
		p.model = model
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, local models, or other compatible services.
func WithBaseURL(baseURL string) ProviderOption {
	return func(p *Provider) {
		p.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client, mainly for tests.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// NewProvider creates a new OpenAI provider with the given API key.
//
// If apiKey is empty, it will attempt to read from the OPENAI_API_KEY
// environment variable. If baseURL is not provided via WithBaseURL, it checks
// the OPENAI_BASE_URL environment variable.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	p := &Provider{
		model:      "gpt-4o", // Default model
		apiKey:     apiKey,
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.baseURL == DefaultBaseURL {
		if envBaseURL := os.Getenv("OPENAI_BASE_URL"); envBaseURL != "" {
			p.baseURL = envBaseURL
		}
	}

	return p, nil
}

// GetModel returns the model name being used.
func (p *Provider) GetModel() string {
	return p.model
}

// Invoke sends a single request and returns the parsed response. When the
// request offers tools, the raw tool_calls are translated into an llm.Decision
// here, at the provider boundary; callers never see provider shapes.
func (p *Provider) Invoke(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	reqBody := p.buildRequestBody(req, false)

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpResp, err := p.sendRequest(ctx, bodyBytes, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var parsed completionResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("response contained no choices")
	}

	msg := parsed.Choices[0].Message
	resp := &llm.Response{
		Text:  msg.Content,
		Usage: parsed.Usage.toTokenUsage(),
	}

	if req.OutputSchema != nil {
		resp.Structured = json.RawMessage(msg.Content)
	}
	if len(req.Tools) > 0 {
		resp.Decision = translateDecision(msg)
	}

	return resp, nil
}

// InvokeStream sends a request and streams back text chunks.
//
// This implementation uses raw HTTP streaming to handle SSE events directly,
// which provides better compatibility with OpenAI-compatible APIs that may
// include SSE comments or have slight format variations.
func (p *Provider) InvokeStream(ctx context.Context, req *llm.Request) (<-chan *llm.StreamChunk, error) {
	reqBody := p.buildRequestBody(req, true)

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpResp, err := p.sendRequest(ctx, bodyBytes, true)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *llm.StreamChunk, 10)
	go p.processStreamResponse(ctx, httpResp, chunks)
	return chunks, nil
}

// buildRequestBody assembles the chat completions request payload. Message
// params use the openai-go unions so role handling matches the SDK exactly.
func (p *Provider) buildRequestBody(req *llm.Request, stream bool) map[string]interface{} {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	body := map[string]interface{}{
		"model":    p.model,
		"messages": messages,
		"stream":   stream,
	}

	if len(req.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]interface{}{
				"type": "function",
				"function": map[string]interface{}{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Schema,
				},
			})
		}
		body["tools"] = tools
		body["tool_choice"] = "auto"
	}

	if req.OutputSchema != nil {
		body["response_format"] = map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "structured_output",
				"schema": req.OutputSchema,
			},
		}
	}

	return body
}

// sendRequest creates and sends the HTTP request
func (p *Provider) sendRequest(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	url := p.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("API request failed with status %d (failed to read error body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	return resp, nil
}

// processStreamResponse processes the SSE stream and sends chunks to the channel
func (p *Provider) processStreamResponse(ctx context.Context, resp *http.Response, chunks chan<- *llm.StreamChunk) {
	defer close(chunks)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)

	for scanner.Scan() {
		line := scanner.Text()

		if !isValidSSELine(line) {
			continue
		}

		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			p.sendChunk(ctx, &llm.StreamChunk{Finished: true}, chunks)
			return
		}

		if !p.processSSEChunk(ctx, data, chunks) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		chunks <- &llm.StreamChunk{Error: fmt.Errorf("stream read error: %w", err)}
	}
}

// isValidSSELine checks if a line is a valid SSE data line
func isValidSSELine(line string) bool {
	return line != "" && !strings.HasPrefix(line, ":") && strings.HasPrefix(line, "data: ")
}

// processSSEChunk processes a single SSE data chunk
func (p *Provider) processSSEChunk(ctx context.Context, data string, chunks chan<- *llm.StreamChunk) bool {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
		Usage *usagePayload `json:"usage"`
	}

	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return true // Skip malformed chunks silently
	}

	if len(chunk.Choices) == 0 {
		if chunk.Usage != nil {
			return p.sendChunk(ctx, &llm.StreamChunk{Usage: chunk.Usage.toTokenUsage()}, chunks)
		}
		return true
	}

	choice := chunk.Choices[0]
	if choice.Delta.Content != "" {
		if !p.sendChunk(ctx, &llm.StreamChunk{Content: choice.Delta.Content}, chunks) {
			return false
		}
	}

	if choice.FinishReason != nil && *choice.FinishReason == "stop" {
		return p.sendChunk(ctx, &llm.StreamChunk{Finished: true, Usage: chunk.Usage.toTokenUsage()}, chunks)
	}

	return true
}

// sendChunk sends a chunk to the channel unless the context is cancelled
func (p *Provider) sendChunk(ctx context.Context, chunk *llm.StreamChunk, chunks chan<- *llm.StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		chunks <- &llm.StreamChunk{Error: ctx.Err()}
		return false
	}
}

// completionResponse is the subset of the chat completions payload we read.
type completionResponse struct {
	Choices []struct {
		Message completionMessage `json:"message"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

type completionMessage struct {
	Content   string            `json:"content"`
	ToolCalls []toolCallPayload `json:"tool_calls"`
}

type toolCallPayload struct {
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u *usagePayload) toTokenUsage() *types.TokenUsage {
	if u == nil {
		return nil
	}
	return &types.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

// translateDecision converts a raw assistant message into the typed decision.
// A call to the finish sentinel wins over everything else; unparseable
// argument JSON degrades to a raw-string argument rather than failing.
func translateDecision(msg completionMessage) *llm.Decision {
	if len(msg.ToolCalls) == 0 {
		return &llm.Decision{
			Kind:      llm.DecisionThink,
			Reasoning: msg.Content,
		}
	}

	calls := make([]llm.ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		if tc.Function.Name == llm.FinishToolName {
			return &llm.Decision{
				Kind:      llm.DecisionFinish,
				Reasoning: msg.Content,
			}
		}

		args := make(map[string]interface{})
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]interface{}{"raw": tc.Function.Arguments}
			}
		}
		calls = append(calls, llm.ToolCall{Name: tc.Function.Name, Arguments: args})
	}

	return &llm.Decision{
		Kind:      llm.DecisionCallTools,
		Reasoning: msg.Content,
		Calls:     calls,
	}
}
