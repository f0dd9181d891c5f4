package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash"
)

// Gemini talks to the Gemini REST API directly. No SDK; the JSON contract
// is small and a plain client keeps the dependency surface flat.
type Gemini struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

func NewGemini(cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("provider: gemini api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gemini{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *Gemini) Generate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, errors.New("provider: prompt is required")
	}

	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
	}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		gc := &geminiGenConfig{MaxOutputTokens: req.MaxTokens}
		if req.Temperature > 0 {
			t := req.Temperature
			gc.Temperature = &t
		}
		body.GenerationConfig = gc
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Result{}, err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Result{}, &Error{Provider: g.Name(), Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Result{}, &Error{Provider: g.Name(), Status: resp.StatusCode, Message: err.Error(), Retryable: true}
	}

	var out geminiResponse
	if resp.StatusCode != http.StatusOK {
		_ = json.Unmarshal(data, &out)
		msg := out.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return Result{}, &Error{
			Provider:  g.Name(),
			Status:    resp.StatusCode,
			Message:   msg,
			Retryable: retryableStatus(resp.StatusCode),
		}
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, &Error{Provider: g.Name(), Status: resp.StatusCode, Message: "malformed response: " + err.Error(), Retryable: false}
	}
	if len(out.Candidates) == 0 {
		return Result{}, &Error{Provider: g.Name(), Status: resp.StatusCode, Message: "no candidates returned", Retryable: false}
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return Result{
		Text:         sb.String(),
		PromptTokens: out.UsageMetadata.PromptTokenCount,
		OutputTokens: out.UsageMetadata.CandidatesTokenCount,
	}, nil
}

// retryableStatus: rate limits and server errors are transient.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
