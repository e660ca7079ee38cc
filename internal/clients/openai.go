package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sony/gobreaker"

	"torvix/backend/internal/apperr"
	"torvix/backend/internal/config"
)

// DefaultFoodPhotoMaxOutputTokens is the initial budget of a photo analysis.
const DefaultFoodPhotoMaxOutputTokens = 1200

// FoodPhotoLanguages maps the accepted language codes to the language name
// given to the model.
var FoodPhotoLanguages = map[string]string{
	"en": "English",
	"ru": "Russian",
	"uk": "Ukrainian",
	"be": "Belarusian",
	"kk": "Kazakh",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
	"pt": "Portuguese",
	"pl": "Polish",
	"tr": "Turkish",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
}

// ChatParams is the input of Chat. Nil fields are not sent.
type ChatParams struct {
	Prompt          string
	SystemPrompt    *string
	Model           string
	Temperature     *float64
	MaxOutputTokens *int
}

// ChatResult is the output of Chat.
type ChatResult struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

// FoodAnalysis is the meal estimated from a photo.
type FoodAnalysis struct {
	DishName    string          `json:"dishName"`
	TotalWeight float64         `json:"totalWeight"`
	TotalMacros json.RawMessage `json:"totalMacros"`
	Ingredients json.RawMessage `json:"ingredients"`
}

// responsesReply is the subset of a Responses API reply the service reads.
type responsesReply struct {
	Model             string `json:"model"`
	Status            string `json:"status"`
	OutputText        string `json:"output_text"`
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details"`
	Output []struct {
		Content []struct {
			Text *string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// text returns output_text when present, else the concatenated content texts.
func (r *responsesReply) text() string {
	if t := strings.TrimSpace(r.OutputText); t != "" {
		return t
	}
	var b strings.Builder
	for _, item := range r.Output {
		for _, c := range item.Content {
			if c.Text != nil {
				b.WriteString(*c.Text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// OpenAIClient calls the OpenAI Responses API.
type OpenAIClient struct {
	rest    restClient
	apiKey  string
	baseURL string
	model   string
	retries int
}

// NewOpenAIClient constructs an OpenAIClient.
func NewOpenAIClient(cfg config.OpenAIConfig, cb *gobreaker.CircuitBreaker) *OpenAIClient {
	return &OpenAIClient{
		rest:    newRESTClient(cb, cfg.Timeout),
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		retries: cfg.MaxOutputTokenRetries,
	}
}

func (c *OpenAIClient) checkCredentials() error {
	if c.apiKey != "" {
		return nil
	}
	return apperr.Internal("Missing OPENAI_API_KEY")
}

// Chat sends a single prompt and returns the model's text answer.
func (c *OpenAIClient) Chat(ctx context.Context, p ChatParams) (*ChatResult, error) {
	if err := c.checkCredentials(); err != nil {
		return nil, err
	}

	model := p.Model
	if model == "" {
		model = c.model
	}
	params := map[string]any{
		"model": model,
		"input": p.Prompt,
	}
	if p.SystemPrompt != nil {
		params["instructions"] = *p.SystemPrompt
	}
	if p.Temperature != nil {
		params["temperature"] = *p.Temperature
	}
	if p.MaxOutputTokens != nil {
		params["max_output_tokens"] = *p.MaxOutputTokens
	}

	reply, err := c.createResponse(ctx, params, c.retries)
	if err != nil {
		return nil, err
	}
	text := reply.text()
	if text == "" {
		return nil, apperr.BadGateway("OpenAI returned an empty response")
	}
	if reply.Model != "" {
		model = reply.Model
	}
	return &ChatResult{Model: model, Text: text}, nil
}

// AnalyzeFoodPhoto asks the model to estimate the meal shown in image and
// answer in language.
func (c *OpenAIClient) AnalyzeFoodPhoto(ctx context.Context, image []byte, contentType, language, model string) (*FoodAnalysis, error) {
	if err := c.checkCredentials(); err != nil {
		return nil, err
	}
	languageName, ok := FoodPhotoLanguages[strings.ToLower(strings.TrimSpace(language))]
	if !ok {
		return nil, apperr.Unprocessable(fmt.Sprintf("Unsupported language code: %s", language))
	}
	if model == "" {
		model = c.model
	}
	if !strings.HasPrefix(contentType, "image/") {
		contentType = "image/jpeg"
	}

	params := map[string]any{
		"model": model,
		"input": []any{
			map[string]any{
				"role": "user",
				"content": []any{
					map[string]any{"type": "input_text", "text": foodPhotoPrompt(strings.ToLower(language), languageName)},
					map[string]any{
						"type":      "input_image",
						"image_url": "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image),
					},
				},
			},
		},
		"text": map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   "meal_analysis",
				"strict": true,
				"schema": mealAnalysisSchema,
			},
		},
		"max_output_tokens": DefaultFoodPhotoMaxOutputTokens,
	}

	reply, err := c.createResponse(ctx, params, c.retries)
	if err != nil {
		return nil, err
	}
	text := reply.text()
	if text == "" {
		return nil, apperr.BadGateway("OpenAI returned an empty response")
	}

	var analysis FoodAnalysis
	if err := json.Unmarshal([]byte(text), &analysis); err != nil || strings.TrimSpace(analysis.DishName) == "" {
		return nil, apperr.Wrap(http.StatusBadGateway, "OpenAI returned an invalid meal analysis", err)
	}
	if len(analysis.Ingredients) == 0 || string(analysis.Ingredients) == "null" {
		analysis.Ingredients = json.RawMessage(`[]`)
	}
	return &analysis, nil
}

// createResponse posts params to /responses. A reply cut short by the
// max_output_tokens budget is retried with the budget doubled, at most
// retries times.
func (c *OpenAIClient) createResponse(ctx context.Context, params map[string]any, retries int) (*responsesReply, error) {
	for attempt := 0; ; attempt++ {
		reply, err := c.post(ctx, params)
		if err != nil {
			return nil, err
		}

		budget, hasBudget := params["max_output_tokens"].(int)
		truncated := reply.Status == "incomplete" && reply.IncompleteDetails != nil &&
			reply.IncompleteDetails.Reason == "max_output_tokens"
		if !truncated || !hasBudget || attempt >= retries {
			return reply, nil
		}

		slog.InfoContext(ctx, "openai response truncated, retrying with larger budget",
			"max_output_tokens", budget, "attempt", attempt+1)
		params["max_output_tokens"] = budget * 2
	}
}

func (c *OpenAIClient) post(ctx context.Context, params map[string]any) (*responsesReply, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encoding openai request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(c.baseURL, "/responses"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building openai request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.rest.do(ctx, req)
	switch {
	case errors.Is(err, errUpstreamTimeout):
		return nil, apperr.Wrap(http.StatusGatewayTimeout, "OpenAI request timed out", err)
	case errors.Is(err, errCircuitOpen):
		return nil, apperr.Wrap(http.StatusServiceUnavailable, "OpenAI API is temporarily unavailable", err)
	case err != nil:
		return nil, apperr.Wrap(http.StatusBadGateway, "Cannot reach OpenAI API", err)
	}

	if resp.Status >= http.StatusBadRequest {
		return nil, openAIStatusError(resp)
	}

	var reply responsesReply
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		return nil, apperr.Wrap(http.StatusBadGateway, "OpenAI API request failed", err)
	}
	return &reply, nil
}

func openAIStatusError(resp *upstreamResponse) *apperr.Error {
	message := openAIErrorMessage(resp.Body)
	switch {
	case resp.Status == http.StatusUnauthorized:
		return apperr.New(http.StatusUnauthorized, "OpenAI authentication failed")
	case resp.Status == http.StatusTooManyRequests:
		return apperr.New(http.StatusTooManyRequests, "OpenAI rate limit exceeded")
	case resp.Status >= http.StatusInternalServerError:
		return apperr.BadGateway("OpenAI API request failed")
	default:
		return apperr.New(resp.Status, message)
	}
}

// openAIErrorMessage reads error.message from an OpenAI error body.
func openAIErrorMessage(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return upstreamErrorDetail(body, "OpenAI API request failed")
}

func foodPhotoPrompt(code, name string) string {
	return fmt.Sprintf(`You are a nutrition assistant. Identify the dish in the photo and estimate its nutrition.
Write dishName and every ingredient name in %s (language code "%s").
Return JSON with these fields:
- dishName: short dish name
- totalWeight: total weight in grams
- totalMacros: calories (kcal), protein, fat, fatSaturated, carbs, fiber, sugar (grams)
- ingredients: list of {name, quantity, weightPerUnit (grams), macrosPer100g: {calories, protein, fat, carbs, fiber}}
Use plain numbers. Estimate when unsure; use null only when a value cannot be estimated at all.`, name, code)
}

var nullableNumber = map[string]any{"type": []string{"number", "null"}}

var mealAnalysisSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"dishName", "totalWeight", "totalMacros", "ingredients"},
	"properties": map[string]any{
		"dishName":    map[string]any{"type": "string"},
		"totalWeight": map[string]any{"type": "number"},
		"totalMacros": map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"required":             []string{"calories", "protein", "fat", "fatSaturated", "carbs", "fiber", "sugar"},
			"properties": map[string]any{
				"calories":     map[string]any{"type": "number"},
				"protein":      map[string]any{"type": "number"},
				"fat":          map[string]any{"type": "number"},
				"fatSaturated": nullableNumber,
				"carbs":        map[string]any{"type": "number"},
				"fiber":        map[string]any{"type": "number"},
				"sugar":        nullableNumber,
			},
		},
		"ingredients": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"name", "quantity", "weightPerUnit", "macrosPer100g"},
				"properties": map[string]any{
					"name":          map[string]any{"type": "string"},
					"quantity":      nullableNumber,
					"weightPerUnit": nullableNumber,
					"macrosPer100g": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"required":             []string{"calories", "protein", "fat", "carbs", "fiber"},
						"properties": map[string]any{
							"calories": nullableNumber,
							"protein":  nullableNumber,
							"fat":      nullableNumber,
							"carbs":    nullableNumber,
							"fiber":    nullableNumber,
						},
					},
				},
			},
		},
	},
}
