package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/models"
)

func TestCleanOutput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "  Die Miete beträgt 900 Euro. ", "Die Miete beträgt 900 Euro."},
		{"block", "<think>Der Nutzer fragt nach der Miete.</think>\nDie Miete beträgt 900 Euro.", "Die Miete beträgt 900 Euro."},
		{"multiline block", "<THINK>\nline one\nline two\n</THINK>Answer", "Answer"},
		{"stray closing tag", "reasoning without opening tag</think> Answer", "Answer"},
		{"unterminated", "Answer <think> still thinking", "Answer"},
		{"only reasoning", "<think>nothing</think>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanOutput(tt.in))
		})
	}
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]*models.ScoredChunk{
		{DocumentName: "mietvertrag.pdf", Text: "Kaltmiete 900 Euro."},
		{DocumentName: "expose.docx", Text: " Drei Zimmer. "},
	})
	assert.Equal(t, "[Document: mietvertrag.pdf]\nKaltmiete 900 Euro.\n\n[Document: expose.docx]\nDrei Zimmer.", got)
	assert.Empty(t, BuildContext(nil))
}

func TestFallbackAnswer(t *testing.T) {
	chunks := make([]*models.ScoredChunk, 7)
	for i := range chunks {
		chunks[i] = &models.ScoredChunk{DocumentName: "doc.txt", Text: "text"}
	}
	chunks[0].DocumentName = ""
	got := FallbackAnswer("miete", chunks, "generation failed")
	assert.True(t, strings.HasPrefix(got, "generation failed\n\n"))
	assert.Contains(t, got, "**Document 1: Unknown document**")
	assert.Contains(t, got, "**Document 5: doc.txt**")
	assert.NotContains(t, got, "Document 6")

	none := FallbackAnswer("miete", nil, "")
	assert.Equal(t, `No relevant documents were found for "miete".`, none)
}

func TestNew(t *testing.T) {
	g, err := New(&config.LLMConfig{Provider: "none"}, nil)
	require.NoError(t, err)
	assert.Nil(t, g)

	g, err = New(&config.LLMConfig{Provider: "openai", Model: "gpt-4o-mini"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGenerator{}, g)

	_, err = New(&config.LLMConfig{Provider: "runpod"}, nil)
	assert.Error(t, err)
}

func chatServer(t *testing.T, content string, status int) (*httptest.Server, *openAIRequest) {
	t.Helper()
	var got openAIRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  got.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

type openAIRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	MaxTokens int `json:"max_tokens"`
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	srv, req := chatServer(t, "<think>hmm</think>Die Kaltmiete beträgt 900 Euro.", http.StatusOK)
	g, err := NewOpenAIGenerator(&config.LLMConfig{
		Model: "deepseek-r1", APIKey: "key", BaseURL: srv.URL + "/v1", MaxTokens: 512,
	}, nil)
	require.NoError(t, err)

	answer, err := g.Generate(context.Background(), "Wie hoch ist die Miete?", "[Document: a.txt]\nKaltmiete 900 Euro.")
	require.NoError(t, err)
	assert.Equal(t, "Die Kaltmiete beträgt 900 Euro.", answer)

	assert.Equal(t, "deepseek-r1", req.Model)
	assert.Equal(t, 512, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, DefaultSystemPrompt, req.Messages[0].Content)
	assert.Contains(t, req.Messages[1].Content, "Kaltmiete 900 Euro.")
	assert.Contains(t, req.Messages[1].Content, "Wie hoch ist die Miete?")
}

func TestOpenAIGenerator_EmptyAnswer(t *testing.T) {
	srv, _ := chatServer(t, "<think>only thoughts</think>", http.StatusOK)
	g, err := NewOpenAIGenerator(&config.LLMConfig{Model: "m", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "q", "c")
	assert.ErrorIs(t, err, ErrEmptyAnswer)
}

func TestOpenAIGenerator_ServerError(t *testing.T) {
	srv, _ := chatServer(t, "", http.StatusServiceUnavailable)
	g, err := NewOpenAIGenerator(&config.LLMConfig{Model: "m", BaseURL: srv.URL + "/v1"}, nil)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), "q", "c")
	assert.Error(t, err)
}
