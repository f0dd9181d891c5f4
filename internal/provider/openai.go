package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

// OpenAI speaks the chat-completions contract, which also covers the many
// OpenAI-compatible backends selectable via BaseURL.
type OpenAI struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("provider: openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OpenAI{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (o *OpenAI) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, errors.New("provider: prompt is required")
	}

	body := openAIRequest{Model: o.model, MaxTokens: req.MaxTokens}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: req.Prompt})
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return Result{}, &Error{Provider: o.Name(), Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, &Error{Provider: o.Name(), Status: resp.StatusCode, Message: err.Error(), Retryable: true}
	}

	var out openAIResponse
	if resp.StatusCode != http.StatusOK {
		_ = json.Unmarshal(data, &out)
		msg := out.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return Result{}, &Error{
			Provider:  o.Name(),
			Status:    resp.StatusCode,
			Message:   msg,
			Retryable: retryableStatus(resp.StatusCode),
		}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, &Error{Provider: o.Name(), Status: resp.StatusCode, Message: "malformed response: " + err.Error(), Retryable: false}
	}
	if len(out.Choices) == 0 {
		return Result{}, &Error{Provider: o.Name(), Status: resp.StatusCode, Message: "no choices returned", Retryable: false}
	}

	return Result{
		Text:         out.Choices[0].Message.Content,
		PromptTokens: out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}, nil
}
