package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torvix/backend/internal/config"
)

func newTestOpenAI(t *testing.T, retries int, h http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return NewOpenAIClient(config.OpenAIConfig{
		APIKey:                "sk-test",
		Model:                 "gpt-5-mini",
		BaseURL:               srv.URL + "/v1",
		Timeout:               2 * time.Second,
		MaxOutputTokenRetries: retries,
	}, NewCircuitBreaker("openai-"+t.Name()))
}

func decodeParams(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var params map[string]any
	assert.NoError(t, json.NewDecoder(r.Body).Decode(&params))
	return params
}

func TestOpenAI_Chat(t *testing.T) {
	t.Parallel()

	c := newTestOpenAI(t, 0, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		params := decodeParams(t, r)
		assert.Equal(t, "gpt-5-mini", params["model"])
		assert.Equal(t, "How much protein is in an egg?", params["input"])
		assert.Equal(t, "Be brief", params["instructions"])
		assert.Equal(t, float64(300), params["max_output_tokens"])
		_, hasTemp := params["temperature"]
		assert.False(t, hasTemp)

		_, _ = w.Write([]byte(`{"model":"gpt-5-mini-2025","status":"completed","output":[{"content":[{"type":"output_text","text":"About 6 g."}]}]}`))
	})

	system := "Be brief"
	maxTokens := 300
	res, err := c.Chat(context.Background(), ChatParams{
		Prompt:          "How much protein is in an egg?",
		SystemPrompt:    &system,
		MaxOutputTokens: &maxTokens,
	})
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-mini-2025", res.Model)
	assert.Equal(t, "About 6 g.", res.Text)
}

func TestOpenAI_ChatEmptyResponse(t *testing.T) {
	t.Parallel()

	c := newTestOpenAI(t, 0, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"completed","output_text":"   ","output":[]}`))
	})
	_, err := c.Chat(context.Background(), ChatParams{Prompt: "hi"})
	requireAppErr(t, err, http.StatusBadGateway, "OpenAI returned an empty response")
}

func TestOpenAI_MissingKey(t *testing.T) {
	t.Parallel()

	c := NewOpenAIClient(config.OpenAIConfig{BaseURL: "http://unused"}, NewCircuitBreaker("openai-nokey"))
	_, err := c.Chat(context.Background(), ChatParams{Prompt: "hi"})
	requireAppErr(t, err, http.StatusInternalServerError, "Missing OPENAI_API_KEY")
}

func TestOpenAI_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantDetail string
	}{
		{name: "bad request", status: 400, body: `{"error":{"message":"Unsupported parameter: 'temperature'"}}`, wantStatus: 400, wantDetail: "Unsupported parameter: 'temperature'"},
		{name: "auth", status: 401, body: `{"error":{"message":"Incorrect API key"}}`, wantStatus: 401, wantDetail: "OpenAI authentication failed"},
		{name: "rate limit", status: 429, body: `{"error":{"message":"slow down"}}`, wantStatus: 429, wantDetail: "OpenAI rate limit exceeded"},
		{name: "not found", status: 404, body: `{"error":{"message":"model does not exist"}}`, wantStatus: 404, wantDetail: "model does not exist"},
		{name: "server error", status: 500, body: `{"error":{"message":"oops"}}`, wantStatus: 502, wantDetail: "OpenAI API request failed"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := newTestOpenAI(t, 0, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.Chat(context.Background(), ChatParams{Prompt: "hi"})
			requireAppErr(t, err, tc.wantStatus, tc.wantDetail)
		})
	}
}

const mealAnalysisJSON = `{"dishName":"Овсянка","totalWeight":250,"totalMacros":{"calories":300,"protein":10,"fat":6,"fatSaturated":1,"carbs":50,"fiber":7,"sugar":null},"ingredients":[{"name":"овсяные хлопья","quantity":1,"weightPerUnit":60,"macrosPer100g":{"calories":370,"protein":13,"fat":7,"carbs":60,"fiber":10}}]}`

func TestOpenAI_AnalyzeFoodPhoto(t *testing.T) {
	t.Parallel()

	c := newTestOpenAI(t, 0, func(w http.ResponseWriter, r *http.Request) {
		params := decodeParams(t, r)
		assert.Equal(t, float64(DefaultFoodPhotoMaxOutputTokens), params["max_output_tokens"])

		input := params["input"].([]any)[0].(map[string]any)
		content := input["content"].([]any)
		text := content[0].(map[string]any)
		assert.Equal(t, "input_text", text["type"])
		assert.Contains(t, text["text"], `Russian (language code "ru")`)
		assert.Contains(t, text["text"], "fatSaturated")
		image := content[1].(map[string]any)
		assert.Equal(t, "input_image", image["type"])
		assert.Equal(t, "data:image/png;base64,iVBO", image["image_url"])

		format := params["text"].(map[string]any)["format"].(map[string]any)
		assert.Equal(t, "json_schema", format["type"])
		assert.Equal(t, true, format["strict"])

		reply, _ := json.Marshal(map[string]any{"status": "completed", "output_text": mealAnalysisJSON})
		_, _ = w.Write(reply)
	})

	res, err := c.AnalyzeFoodPhoto(context.Background(), []byte{0x89, 0x50, 0x4e}, "image/png", "RU", "")
	require.NoError(t, err)
	assert.Equal(t, "Овсянка", res.DishName)
	assert.Equal(t, 250.0, res.TotalWeight)
	assert.JSONEq(t, `{"calories":300,"protein":10,"fat":6,"fatSaturated":1,"carbs":50,"fiber":7,"sugar":null}`, string(res.TotalMacros))
	assert.Contains(t, string(res.Ingredients), "овсяные хлопья")
}

func TestOpenAI_AnalyzeFoodPhotoRejectsLanguage(t *testing.T) {
	t.Parallel()

	c := newTestOpenAI(t, 0, func(http.ResponseWriter, *http.Request) {
		t.Error("no request expected")
	})
	_, err := c.AnalyzeFoodPhoto(context.Background(), []byte{1}, "image/jpeg", "jp", "")
	requireAppErr(t, err, http.StatusUnprocessableEntity, "Unsupported language code: jp")
}

func TestOpenAI_AnalyzeFoodPhotoInvalidJSON(t *testing.T) {
	t.Parallel()

	c := newTestOpenAI(t, 0, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"completed","output_text":"{\"dishName\":"}`))
	})
	_, err := c.AnalyzeFoodPhoto(context.Background(), []byte{1}, "image/jpeg", "en", "")
	requireAppErr(t, err, http.StatusBadGateway, "OpenAI returned an invalid meal analysis")
}

func TestOpenAI_RetriesTruncatedResponses(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var budgets []float64
	c := newTestOpenAI(t, 2, func(w http.ResponseWriter, r *http.Request) {
		params := decodeParams(t, r)
		mu.Lock()
		budgets = append(budgets, params["max_output_tokens"].(float64))
		n := len(budgets)
		mu.Unlock()

		if n == 1 {
			_, _ = w.Write([]byte(`{"status":"incomplete","incomplete_details":{"reason":"max_output_tokens"},"output":[]}`))
			return
		}
		reply, _ := json.Marshal(map[string]any{"status": "completed", "output_text": mealAnalysisJSON})
		_, _ = w.Write(reply)
	})

	res, err := c.AnalyzeFoodPhoto(context.Background(), []byte{1}, "image/jpeg", "en", "")
	require.NoError(t, err)
	assert.Equal(t, "Овсянка", res.DishName)
	assert.Equal(t, []float64{1200, 2400}, budgets)
}

func TestOpenAI_RetryBudgetExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestOpenAI(t, 1, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"status":"incomplete","incomplete_details":{"reason":"max_output_tokens"},"output":[]}`))
	})

	_, err := c.AnalyzeFoodPhoto(context.Background(), []byte{1}, "image/jpeg", "en", "")
	requireAppErr(t, err, http.StatusBadGateway, "OpenAI returned an empty response")
	assert.Equal(t, int32(2), calls.Load())
}
