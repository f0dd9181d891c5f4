package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"autopilot-platform/internal/config"
)

func TestNew_SelectsBackendByTag(t *testing.T) {
	g, err := New(config.ProviderConfig{Tag: "gemini", GeminiAPIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if g.Name() != "gemini" {
		t.Fatalf("expected gemini, got %q", g.Name())
	}

	o, err := New(config.ProviderConfig{Tag: "openai", OpenAIAPIKey: "k"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if o.Name() != "openai" {
		t.Fatalf("expected openai, got %q", o.Name())
	}

	if _, err := New(config.ProviderConfig{Tag: "mystery"}); err == nil {
		t.Fatalf("expected error for unknown tag")
	}
}

func TestGemini_GenerateParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.0-flash:generateContent" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates":[{"content":{"parts":[{"text":"Subject: hello"}]}}],
			"usageMetadata":{"promptTokenCount":12,"candidatesTokenCount":5}
		}`))
	}))
	defer srv.Close()

	g, err := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	res, err := g.Generate(context.Background(), Request{Prompt: "write a subject line", MaxTokens: 64})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Text != "Subject: hello" {
		t.Fatalf("unexpected text %q", res.Text)
	}
	if res.PromptTokens != 12 || res.OutputTokens != 5 {
		t.Fatalf("unexpected usage %+v", res)
	}
}

func TestGemini_RateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota exceeded"}}`))
	}))
	defer srv.Close()

	g, _ := NewGemini(GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := g.Generate(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable classification for 429")
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != http.StatusTooManyRequests {
		t.Fatalf("expected typed error with status, got %v", err)
	}
}

func TestOpenAI_BadRequestIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad prompt"}}`))
	}))
	defer srv.Close()

	o, _ := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := o.Generate(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if IsRetryable(err) {
		t.Fatalf("expected terminal classification for 400")
	}
}

func TestOpenAI_GenerateParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			t.Errorf("missing bearer auth")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"Variation 2 reads best."}}],
			"usage":{"prompt_tokens":20,"completion_tokens":7}
		}`))
	}))
	defer srv.Close()

	o, _ := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	res, err := o.Generate(context.Background(), Request{Prompt: "pick one"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res.Text != "Variation 2 reads best." {
		t.Fatalf("unexpected text %q", res.Text)
	}
}

func TestParseChoice(t *testing.T) {
	cases := []struct {
		text  string
		n     int
		index int
		ok    bool
	}{
		{"Variation 2 is best because it is shorter.", 3, 2, true},
		{"I would go with option #1.", 3, 1, true},
		{"3) strongest call to action", 3, 3, true},
		{"They all look fine to me.", 3, 0, false},
		{"Variation 9 wins.", 3, 0, false}, // out of range
		{"", 3, 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseChoice(tc.text, tc.n)
		if ok != tc.ok {
			t.Fatalf("%q: expected ok=%v, got %v", tc.text, tc.ok, ok)
		}
		if ok && got.Index != tc.index {
			t.Fatalf("%q: expected index %d, got %d", tc.text, tc.index, got.Index)
		}
	}
}

func TestParseChoice_LowConfidenceNeverDefaultsToFirst(t *testing.T) {
	// A miss must be reported as a miss, not silently mapped to option 1.
	got, ok := ParseChoice("unable to determine a winner", 3)
	if ok {
		t.Fatalf("expected no parse, got %+v", got)
	}
	if got.Index != 0 {
		t.Fatalf("expected zero index on miss, got %d", got.Index)
	}
}
