//go:build integration

package llm

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/joho/godotenv"
)

// TestMain loads .env so LLM_API_KEY can be injected easily in local/CI.
func TestMain(m *testing.M) {
	// Walk up from this file to find repo root and load .env
	if _, file, _, ok := runtime.Caller(0); ok {
		dir := filepath.Dir(file)
		for i := 0; i < 10; i++ {
			_ = godotenv.Load(filepath.Join(dir, ".env"))
			if exists(filepath.Join(dir, "go.mod")) || exists(filepath.Join(dir, ".git")) {
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	} else {
		_ = godotenv.Load(".env")
	}
	os.Exit(m.Run())
}

func exists(p string) bool { _, err := os.Stat(p); return err == nil }

func newIntegrationClient(t *testing.T) *Client {
	t.Helper()

	apiKey := os.Getenv(envAPIKey)
	if apiKey == "" {
		t.Skipf("%s not set; skipping integration test", envAPIKey)
	}
	baseURL := os.Getenv(envBaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := os.Getenv(envDefaultModel)
	if model == "" {
		model = "gpt-4o-mini"
	}

	cfg := &Config{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		DefaultModel: model,
		Timeout:      15 * time.Second,
		MaxRetries:   2,
		LogLevel:     "error",
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

// TestIntegration_Chat_Basic performs a minimal live chat call.
func TestIntegration_Chat_Basic(t *testing.T) {
	client := newIntegrationClient(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	resp, err := client.Chat(ctx, &ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "Say a short hello."},
		},
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		t.Fatalf("unexpected empty response: %#v", resp)
	}
}

// TestIntegration_Chat_ToolLoop exercises one round of tool calling.
func TestIntegration_Chat_ToolLoop(t *testing.T) {
	client := newIntegrationClient(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.Chat(ctx, &ChatRequest{
		Messages: []Message{
			{Role: "user", Content: "Use the get_prices tool to look up BTC."},
		},
		Tools: []Tool{
			{
				Name:        "get_prices",
				Description: "Return current prices for all markets.",
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
		},
		ToolChoice: "required",
	})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if len(resp.Choices) == 0 || len(resp.Choices[0].ToolCalls) == 0 {
		t.Fatalf("expected a tool call, got %#v", resp)
	}
}
