package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"torvix/backend/internal/apperr"
	"torvix/backend/internal/cache"
	"torvix/backend/internal/config"
)

// Nutriments are per-100 g values of a product.
type Nutriments struct {
	CaloriesPer100g     *float64 `json:"caloriesPer100g"`
	ProteinPer100g      *float64 `json:"proteinPer100g"`
	FatPer100g          *float64 `json:"fatPer100g"`
	SaturatedFatPer100g *float64 `json:"saturatedFatPer100g"`
	CarbsPer100g        *float64 `json:"carbsPer100g"`
	SugarPer100g        *float64 `json:"sugarPer100g"`
	FiberPer100g        *float64 `json:"fiberPer100g"`
	SaltPer100g         *float64 `json:"saltPer100g"`
	SodiumPer100g       *float64 `json:"sodiumPer100g"`
}

// Product is the normalised Open Food Facts product.
type Product struct {
	Barcode         string     `json:"barcode"`
	ProductName     *string    `json:"productName"`
	Brands          *string    `json:"brands"`
	Quantity        *string    `json:"quantity"`
	IngredientsText *string    `json:"ingredientsText"`
	ImageURL        *string    `json:"imageUrl"`
	NutriscoreGrade *string    `json:"nutriscoreGrade"`
	EcoscoreGrade   *string    `json:"ecoscoreGrade"`
	NovaGroup       *int       `json:"novaGroup"`
	Nutriments      Nutriments `json:"nutriments"`
}

// OpenFoodFactsClient looks products up by barcode.
type OpenFoodFactsClient struct {
	rest     restClient
	baseURL  string
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewOpenFoodFactsClient constructs an OpenFoodFactsClient. c may be nil to
// disable caching.
func NewOpenFoodFactsClient(cfg config.OpenFoodFactConfig, cacheCfg config.CacheConfig, c cache.Cache, cb *gobreaker.CircuitBreaker) *OpenFoodFactsClient {
	return &OpenFoodFactsClient{
		rest:     newRESTClient(cb, cfg.Timeout()),
		baseURL:  cfg.BaseURL,
		cache:    c,
		cacheTTL: cacheCfg.ProductTTL,
	}
}

// Product fetches and normalises the product with barcode.
func (c *OpenFoodFactsClient) Product(ctx context.Context, barcode string) (*Product, error) {
	key := cache.Key("off-product", barcode)
	var cached Product
	if cache.GetJSON(ctx, c.cache, key, &cached) {
		return &cached, nil
	}

	raw, err := c.fetch(ctx, barcode)
	if err != nil {
		return nil, err
	}
	p := normalizeProduct(barcode, raw)
	cache.SetJSON(ctx, c.cache, key, p, c.cacheTTL)
	return p, nil
}

func (c *OpenFoodFactsClient) fetch(ctx context.Context, barcode string) (map[string]any, error) {
	target := joinURL(c.baseURL, fmt.Sprintf("/api/v2/product/%s.json", barcode))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building open food facts request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "TorvixBackend/1.0")

	resp, err := c.rest.do(ctx, req)
	switch {
	case errors.Is(err, errUpstreamTimeout):
		return nil, apperr.Wrap(http.StatusGatewayTimeout, "Open Food Facts request timed out", err)
	case errors.Is(err, errCircuitOpen):
		return nil, apperr.Wrap(http.StatusServiceUnavailable, "Open Food Facts is temporarily unavailable", err)
	case err != nil:
		return nil, apperr.Wrap(http.StatusBadGateway, "Cannot reach Open Food Facts API", err)
	}

	if resp.Status == http.StatusNotFound {
		return nil, apperr.NotFound("Product not found")
	}
	if resp.Status >= http.StatusBadRequest {
		return nil, apperr.BadGateway("Open Food Facts request failed")
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body, &payload); err != nil || payload == nil {
		return nil, apperr.BadGateway("Open Food Facts returned invalid JSON")
	}

	product, ok := payload["product"].(map[string]any)
	if status, _ := payload["status"].(float64); status != 1 || !ok {
		return nil, apperr.NotFound("Product not found")
	}
	return product, nil
}

func normalizeProduct(barcode string, product map[string]any) *Product {
	nutriments, _ := product["nutriments"].(map[string]any)
	if nutriments == nil {
		nutriments = map[string]any{}
	}

	return &Product{
		Barcode:         barcode,
		ProductName:     pickString(product, "product_name", "product_name_ru", "product_name_en"),
		Brands:          pickString(product, "brands"),
		Quantity:        pickString(product, "quantity"),
		IngredientsText: pickString(product, "ingredients_text", "ingredients_text_ru", "ingredients_text_en"),
		ImageURL:        pickString(product, "image_front_url", "image_url"),
		NutriscoreGrade: pickString(product, "nutriscore_grade"),
		EcoscoreGrade:   pickString(product, "ecoscore_grade"),
		NovaGroup:       pickInt(product, "nova_group", "nova-group"),
		Nutriments: Nutriments{
			CaloriesPer100g:     pickFloat(nutriments, "energy-kcal_100g", "energy-kcal"),
			ProteinPer100g:      pickFloat(nutriments, "proteins_100g"),
			FatPer100g:          pickFloat(nutriments, "fat_100g"),
			SaturatedFatPer100g: pickFloat(nutriments, "saturated-fat_100g"),
			CarbsPer100g:        pickFloat(nutriments, "carbohydrates_100g"),
			SugarPer100g:        pickFloat(nutriments, "sugars_100g"),
			FiberPer100g:        pickFloat(nutriments, "fiber_100g"),
			SaltPer100g:         pickFloat(nutriments, "salt_100g"),
			SodiumPer100g:       pickFloat(nutriments, "sodium_100g"),
		},
	}
}

// pickString returns the first non-blank string under keys, trimmed.
func pickString(m map[string]any, keys ...string) *string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return &s
			}
		}
	}
	return nil
}

// pickFloat returns the first value under keys that is a number or a numeric
// string.
func pickFloat(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return &v
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

// pickInt is pickFloat for integers; fractional numbers are truncated.
func pickInt(m map[string]any, keys ...string) *int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			n := int(math.Trunc(v))
			return &n
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return &n
			}
		}
	}
	return nil
}
