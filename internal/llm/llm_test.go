package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/pavelanni/corrector/internal/llm/prompts"
	"github.com/pavelanni/corrector/internal/model"
)

func chatServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			_ = json.Unmarshal(body, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-test",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClientScore(t *testing.T) {
	var seen map[string]any
	srv := chatServer(t, `{"score": 6.5, "feedback": "mostly right"}`, &seen)
	c := New(srv.URL, "test-key", prompts.PromptStandard)

	res, err := c.ScoreOpenQuestion(context.Background(), model.ScoreRequest{
		QuestionText:    "What is a goroutine?",
		StudentResponse: "a lightweight thread",
		MaxPoints:       10,
		Model:           "gpt-test",
	})
	if err != nil {
		t.Fatalf("ScoreOpenQuestion: %v", err)
	}
	if res.Score != 6.5 || res.Feedback != "mostly right" || res.Error != "" {
		t.Errorf("unexpected result: %+v", res)
	}

	if seen["model"] != "gpt-test" {
		t.Errorf("request model = %v", seen["model"])
	}
	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(msgs))
	}
	system, _ := msgs[0].(map[string]any)["content"].(string)
	user, _ := msgs[1].(map[string]any)["content"].(string)
	if !strings.Contains(system, "What is a goroutine?") {
		t.Error("system prompt should contain the question")
	}
	if !strings.Contains(user, "<student-answer>") || !strings.Contains(user, "a lightweight thread") {
		t.Errorf("user message = %q", user)
	}
}

func TestOpenAIClientBadJSON(t *testing.T) {
	srv := chatServer(t, "I think it deserves a 7", nil)
	c := New(srv.URL, "test-key", prompts.PromptStandard)
	if _, err := c.ScoreOpenQuestion(context.Background(), model.ScoreRequest{Model: "gpt-test", MaxPoints: 10}); err == nil {
		t.Error("expected parse error")
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    model.ScoreResult
		wantErr bool
	}{
		{"plain", `{"score": 3, "feedback": "ok"}`, model.ScoreResult{Score: 3, Feedback: "ok"}, false},
		{"fenced", "```json\n{\"score\": 4}\n```", model.ScoreResult{Score: 4}, false},
		{"declined", `{"score": 0, "error": " unreadable answer "}`, model.ScoreResult{Error: "unreadable answer"}, false},
		{"garbage", "nope", model.ScoreResult{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScore(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseScore: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseScore() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFirstText(t *testing.T) {
	if got := firstText(nil); got != "" {
		t.Errorf("firstText(nil) = %q", got)
	}
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: nil},
			{Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"score": 1}`)}}},
		},
	}
	if got := firstText(resp); got != `{"score": 1}` {
		t.Errorf("firstText() = %q", got)
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), " ", prompts.PromptStandard); err == nil {
		t.Error("expected error for empty API key")
	}
}
