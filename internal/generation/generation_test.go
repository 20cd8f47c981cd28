package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/hyperjump/kotae/internal/config"
)

func TestBuildPrompt_NumbersContexts(t *testing.T) {
	prompt := BuildPrompt("  how do I reset? ", []string{"first passage", " second passage "})
	assert.Contains(t, prompt, "[1] first passage")
	assert.Contains(t, prompt, "[2] second passage")
	assert.Contains(t, prompt, "Question: how do I reset?")
}

func TestOpenAI_Generate(t *testing.T) {
	requests := make(chan chatRequest, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests <- req
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  Hold the button [1].  "}}]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test", MaxTokens: 64})
	require.NoError(t, err)
	answer, err := g.Generate(context.Background(), "how to reset", []string{"hold the button"})
	require.NoError(t, err)
	assert.Equal(t, "Hold the button [1].", answer)

	req := <-requests
	assert.Equal(t, "gpt-test", req.Model)
	assert.Equal(t, 64, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "[1] hold the button")
}

func TestOpenAI_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(Config{BaseURL: srv.URL, MaxAttempts: 3, RetryBaseDelay: time.Millisecond})
	require.NoError(t, err)
	answer, err := g.Generate(context.Background(), "q", []string{"c"})
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAI_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	g, err := NewOpenAI(Config{BaseURL: srv.URL, MaxAttempts: 3, RetryBaseDelay: time.Millisecond})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "q", []string{"c"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAI_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(Config{BaseURL: srv.URL, MaxAttempts: 1})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "q", []string{"c"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAI_RequiresKeyForHostedAPI(t *testing.T) {
	_, err := NewOpenAI(Config{})
	assert.Error(t, err)
}

type fakeModel struct {
	prompt string
	reply  string
	err    error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				f.prompt += text.Text
			}
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestLangChain_Generate(t *testing.T) {
	model := &fakeModel{reply: " Use the reset pin [1]. "}
	g := NewLangChainFrom(model, Config{MaxAttempts: 1})

	answer, err := g.Generate(context.Background(), "reset", []string{"use the reset pin"})
	require.NoError(t, err)
	assert.Equal(t, "Use the reset pin [1].", answer)
	assert.Contains(t, model.prompt, "[1] use the reset pin")
}

func TestLangChain_EmptyReply(t *testing.T) {
	g := NewLangChainFrom(&fakeModel{reply: "  "}, Config{MaxAttempts: 3, RetryBaseDelay: time.Millisecond})
	_, err := g.Generate(context.Background(), "q", []string{"c"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestLangChain_NoContext(t *testing.T) {
	g := NewLangChainFrom(&fakeModel{reply: "x"}, Config{})
	_, err := g.Generate(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrNoContext)
}

func TestExtractive_PicksOverlappingSentences(t *testing.T) {
	g := NewExtractive(2)
	contexts := []string{
		"The device ships in a box. Press the reset button for ten seconds.",
		"Warranty lasts one year. The reset button is under the lid.",
	}
	answer, err := g.Generate(context.Background(), "where is the reset button", contexts)
	require.NoError(t, err)
	assert.Equal(t, "Press the reset button for ten seconds. [1] The reset button is under the lid. [2]", answer)
}

func TestExtractive_Deterministic(t *testing.T) {
	g := NewExtractive(0)
	contexts := []string{"Alpha one. Beta two.", "Gamma three."}
	first, err := g.Generate(context.Background(), "nothing matches", contexts)
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), "nothing matches", contexts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "Alpha one. [1] Beta two. [1] Gamma three. [2]", first)
}

func TestExtractive_Errors(t *testing.T) {
	g := NewExtractive(1)
	_, err := g.Generate(context.Background(), "q", nil)
	assert.ErrorIs(t, err, ErrNoContext)
	_, err = g.Generate(context.Background(), "q", []string{"   "})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestSplitSentences(t *testing.T) {
	assert.Equal(t, []string{"One.", "Two?", "v1.2 is out!", "Line"}, splitSentences("One. Two? v1.2 is out!\nLine"))
}

func TestNew_Providers(t *testing.T) {
	g, err := New(config.GenerationConfig{Provider: "extractive"})
	require.NoError(t, err)
	assert.IsType(t, &Extractive{}, g)

	g, err = New(config.GenerationConfig{Provider: "openai", BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, g)

	g, err = New(config.GenerationConfig{Provider: "langchain", BaseURL: "http://localhost:1"})
	require.NoError(t, err)
	assert.IsType(t, &LangChain{}, g)

	_, err = New(config.GenerationConfig{Provider: "nope"})
	assert.Error(t, err)
}
