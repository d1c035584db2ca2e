package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient creates an sdkClient pointing at a local test server.
func newTestClient(baseURL string) Client {
	return NewClient("test-key", option.WithBaseURL(baseURL))
}

func writeMessage(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":   "msg_test_001",
		"type": "message",
		"role": "assistant",
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"model":       "claude-haiku-4-5-20251001",
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":                10,
			"output_tokens":               5,
			"cache_creation_input_tokens": 0,
			"cache_read_input_tokens":     1200,
		},
	})
}

func TestSDKClient_CreateMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "/messages")
		writeMessage(w, `{"title":"Pasta"}`)
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	resp, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "msg_test_001", resp.ID)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, `{"title":"Pasta"}`, resp.Text())
	assert.Equal(t, int64(10), resp.Usage.InputTokens)
	assert.Equal(t, int64(1200), resp.Usage.CacheReadInputTokens)
}

func TestSDKClient_CreateMessage_RequestShape(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeMessage(w, "ok")
	}))
	defer ts.Close()

	temp := 0.2
	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 256,
		System:    BuildCachedSystemBlocks("You analyze saved content."),
		Messages: []Message{{
			Role:      "user",
			Content:   `{"title":"Cake"}`,
			ImageURLs: []string{"https://example.com/cake.jpg"},
		}},
		Temperature: &temp,
	})
	require.NoError(t, err)

	system := body["system"].([]any)
	require.Len(t, system, 1)
	sys0 := system[0].(map[string]any)
	assert.Equal(t, "You analyze saved content.", sys0["text"])
	assert.Equal(t, "ephemeral", sys0["cache_control"].(map[string]any)["type"])

	msgs := body["messages"].([]any)
	require.Len(t, msgs, 1)
	content := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)

	img := content[0].(map[string]any)
	assert.Equal(t, "image", img["type"])
	src := img["source"].(map[string]any)
	assert.Equal(t, "url", src["type"])
	assert.Equal(t, "https://example.com/cake.jpg", src["url"])

	txt := content[1].(map[string]any)
	assert.Equal(t, "text", txt["type"])
	assert.Equal(t, `{"title":"Cake"}`, txt["text"])
	assert.InDelta(t, 0.2, body["temperature"], 1e-9)
}

func TestSDKClient_CreateMessage_Error(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "api_error",
				"message": "Internal server error",
			},
		})
	}))
	defer ts.Close()

	client := newTestClient(ts.URL)
	_, err := client.CreateMessage(context.Background(), MessageRequest{
		Model:     "claude-haiku-4-5-20251001",
		MaxTokens: 1024,
		Messages:  []Message{{Role: "user", Content: "Hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic: create message")
	assert.Equal(t, 1, calls)
}

func TestToSDKMessages(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
		{Role: "unknown", Content: "x"},
		{Role: "user", ImageURLs: []string{"https://example.com/a.png"}},
	})
	require.Len(t, msgs, 4)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[0].Role)
	assert.Equal(t, sdk.MessageParamRoleAssistant, msgs[1].Role)
	assert.Equal(t, sdk.MessageParamRoleUser, msgs[2].Role)

	require.Len(t, msgs[3].Content, 1)
	assert.NotNil(t, msgs[3].Content[0].OfImage)
}

func TestToSDKMessages_EmptyContentStillSendsText(t *testing.T) {
	msgs := toSDKMessages([]Message{{Role: "user"}})
	require.Len(t, msgs[0].Content, 1)
	assert.NotNil(t, msgs[0].Content[0].OfText)
}

func TestToSDKSystemBlocks(t *testing.T) {
	blocks := toSDKSystemBlocks([]SystemBlock{
		{Text: "plain"},
		{Text: "cached", CacheControl: &CacheControl{TTL: "1h"}},
		{Text: "cached default", CacheControl: &CacheControl{}},
	})
	require.Len(t, blocks, 3)
	assert.Equal(t, "plain", blocks[0].Text)
	assert.Equal(t, sdk.CacheControlEphemeralTTL("1h"), blocks[1].CacheControl.TTL)
	assert.Equal(t, sdk.CacheControlEphemeralTTL(""), blocks[2].CacheControl.TTL)
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("prompt")
	require.Len(t, blocks, 1)
	assert.Equal(t, "prompt", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestMessageResponse_Text(t *testing.T) {
	var nilResp *MessageResponse
	assert.Equal(t, "", nilResp.Text())

	r := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "a"},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "b"},
	}}
	assert.Equal(t, "ab", r.Text())
}

func TestEstimateCost(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	assert.InDelta(t, 6.0, u.EstimateCost("claude-haiku-4-5-20251001"), 1e-9)
	assert.InDelta(t, 18.0, u.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
	assert.Equal(t, 0.0, u.EstimateCost("unknown-model"))

	cached := TokenUsage{CacheCreationInputTokens: 1_000_000, CacheReadInputTokens: 1_000_000}
	assert.InDelta(t, 3.0*1.25+3.0*0.1, cached.EstimateCost("claude-sonnet-4-5-20250929"), 1e-9)
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 1}
	u.Add(TokenUsage{InputTokens: 2, OutputTokens: 3, CacheReadInputTokens: 4})
	assert.Equal(t, TokenUsage{InputTokens: 3, OutputTokens: 3, CacheReadInputTokens: 4}, u)
}

func TestLogCost_DoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		TokenUsage{InputTokens: 10}.LogCost("claude-haiku-4-5-20251001", "analysis")
	})
}
