package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"torvix/backend/internal/apperr"
	"torvix/backend/internal/cache"
	"torvix/backend/internal/config"
)

// MaxImageBytes bounds images downloaded for the nutrients-from-image fallback.
const MaxImageBytes = 8 * 1024 * 1024

const (
	edamamFallbackDetail = "Edamam Food Database request failed"
	imageDownloadTimeout = 20 * time.Second
)

// JSONResponse is an upstream JSON body passed through with its status.
type JSONResponse struct {
	Status int
	Body   json.RawMessage
}

// ImageRequest is the nutrients-from-image body. One of the fields is set.
type ImageRequest struct {
	Image    string `json:"image,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// EdamamClient proxies the Edamam Food Database API.
type EdamamClient struct {
	rest    restClient
	appID   string
	appKey  string
	baseURL string

	cache    cache.Cache
	cacheTTL time.Duration

	imageDo func(req *http.Request) (*http.Response, error)
}

// NewEdamamClient constructs an EdamamClient. c may be nil to disable
// auto-complete caching.
func NewEdamamClient(cfg config.FoodDatabaseConfig, cacheCfg config.CacheConfig, c cache.Cache, cb *gobreaker.CircuitBreaker) *EdamamClient {
	return &EdamamClient{
		rest:     newRESTClient(cb, cfg.Timeout),
		appID:    cfg.AppID,
		appKey:   cfg.AppKey,
		baseURL:  cfg.BaseURL,
		cache:    c,
		cacheTTL: cacheCfg.AutoCompleteTTL,
		imageDo:  http.DefaultClient.Do,
	}
}

func (c *EdamamClient) checkCredentials() error {
	if c.appID != "" && c.appKey != "" {
		return nil
	}
	return apperr.Internal("Missing FOOD_DATABASE_API_ID or FOOD_DATABASE_API_KEY")
}

// Parser calls GET /api/food-database/v2/parser with query.
func (c *EdamamClient) Parser(ctx context.Context, query url.Values, accountUser string) (*JSONResponse, error) {
	if err := c.checkCredentials(); err != nil {
		return nil, err
	}
	return c.call(ctx, http.MethodGet, "/api/food-database/v2/parser", query, nil, accountUser)
}

// Nutrients calls POST /api/food-database/v2/nutrients with body.
func (c *EdamamClient) Nutrients(ctx context.Context, body []byte, accountUser string) (*JSONResponse, error) {
	if err := c.checkCredentials(); err != nil {
		return nil, err
	}
	return c.call(ctx, http.MethodPost, "/api/food-database/v2/nutrients", url.Values{}, body, accountUser)
}

// NutrientsFromImage calls POST /api/food-database/nutrients-from-image. When
// Edamam rejects a bare image_url as an invalid image, the image is fetched
// here and resent inline as a data URI.
func (c *EdamamClient) NutrientsFromImage(ctx context.Context, in ImageRequest, accountUser string) (*JSONResponse, error) {
	if err := c.checkCredentials(); err != nil {
		return nil, err
	}
	query := url.Values{"beta": {"true"}}
	const path = "/api/food-database/nutrients-from-image"

	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encoding image request: %w", err)
	}

	resp, err := c.call(ctx, http.MethodPost, path, query, body, accountUser)
	if err == nil {
		return resp, nil
	}

	appErr, ok := apperr.As(err)
	if !ok || appErr.Status != http.StatusBadRequest || !strings.Contains(appErr.Detail, "Invalid image") ||
		in.Image != "" || in.ImageURL == "" {
		return nil, err
	}

	dataURI, err := c.imageToDataURI(ctx, in.ImageURL)
	if err != nil {
		return nil, err
	}
	body, err = json.Marshal(ImageRequest{Image: dataURI})
	if err != nil {
		return nil, fmt.Errorf("encoding image request: %w", err)
	}
	return c.call(ctx, http.MethodPost, path, query, body, accountUser)
}

// AutoComplete calls GET /auto-complete. Successful answers are cached.
func (c *EdamamClient) AutoComplete(ctx context.Context, q string, limit int, accountUser string) (*JSONResponse, error) {
	if err := c.checkCredentials(); err != nil {
		return nil, err
	}

	query := url.Values{"q": {q}}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	key := cache.Key("edamam-autocomplete", strings.ToLower(q), strconv.Itoa(limit))
	var cached json.RawMessage
	if cache.GetJSON(ctx, c.cache, key, &cached) {
		return &JSONResponse{Status: http.StatusOK, Body: cached}, nil
	}

	resp, err := c.call(ctx, http.MethodGet, "/auto-complete", query, nil, accountUser)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusOK {
		cache.SetJSON(ctx, c.cache, key, resp.Body, c.cacheTTL)
	}
	return resp, nil
}

func (c *EdamamClient) call(ctx context.Context, method, path string, query url.Values, body []byte, accountUser string) (*JSONResponse, error) {
	query.Set("app_id", c.appID)
	query.Set("app_key", c.appKey)
	target := joinURL(c.baseURL, path) + "?" + query.Encode()

	var reader io.Reader
	if method != http.MethodGet && body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("building edamam request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accountUser != "" {
		req.Header.Set("Edamam-Account-User", accountUser)
	}

	resp, err := c.rest.do(ctx, req)
	switch {
	case errors.Is(err, errUpstreamTimeout):
		return nil, apperr.Wrap(http.StatusGatewayTimeout, "Edamam Food Database request timed out", err)
	case errors.Is(err, errCircuitOpen):
		return nil, apperr.Wrap(http.StatusServiceUnavailable, "Edamam Food Database is temporarily unavailable", err)
	case err != nil:
		return nil, apperr.Wrap(http.StatusBadGateway, "Cannot reach Edamam Food Database API", err)
	}

	if resp.Status >= http.StatusBadRequest {
		return nil, apperr.New(resp.Status, upstreamErrorDetail(resp.Body, edamamFallbackDetail))
	}
	if !json.Valid(resp.Body) {
		return nil, apperr.BadGateway("Invalid response from Edamam Food Database API")
	}
	return &JSONResponse{Status: resp.Status, Body: resp.Body}, nil
}

// upstreamErrorDetail extracts a human readable message from an error body:
// an object's message, error or detail field, the first element of a list,
// or the raw text cut to 300 characters.
func upstreamErrorDetail(raw []byte, fallback string) string {
	text := string(raw)
	if strings.TrimSpace(text) == "" {
		return fallback
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		r := []rune(text)
		if len(r) > 300 {
			r = r[:300]
		}
		return string(r)
	}

	switch v := parsed.(type) {
	case map[string]any:
		if s := firstString(v, "message", "error", "detail"); s != "" {
			return s
		}
	case []any:
		if len(v) > 0 {
			if first, ok := v[0].(map[string]any); ok {
				if s := firstString(first, "message", "error", "errorCode"); s != "" {
					return s
				}
			}
		}
	}
	return fallback
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// imageToDataURI downloads an http(s) image and encodes it as a data URI.
func (c *EdamamClient) imageToDataURI(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apperr.New(http.StatusBadRequest, "image_url must use http or https")
	}

	ctx, cancel := context.WithTimeout(ctx, imageDownloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", apperr.New(http.StatusBadRequest, "Cannot download image_url")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; TorvixBackend/1.0)")
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := c.imageDo(req)
	if err != nil {
		if errors.Is(classifyTransportError(err), errUpstreamTimeout) {
			return "", apperr.Wrap(http.StatusRequestTimeout, "Timed out while downloading image_url", err)
		}
		return "", apperr.Wrap(http.StatusBadRequest, "Cannot download image_url", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", apperr.New(http.StatusBadRequest, fmt.Sprintf("Cannot download image_url (HTTP %d)", resp.StatusCode))
	}

	contentType, _, _ := strings.Cut(resp.Header.Get("Content-Type"), ";")
	contentType = strings.TrimSpace(contentType)
	if !strings.HasPrefix(contentType, "image/") {
		return "", apperr.New(http.StatusBadRequest, "image_url must point to an image resource")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		if errors.Is(classifyTransportError(err), errUpstreamTimeout) {
			return "", apperr.Wrap(http.StatusRequestTimeout, "Timed out while downloading image_url", err)
		}
		return "", apperr.Wrap(http.StatusBadRequest, "Cannot download image_url", err)
	}
	if len(data) > MaxImageBytes {
		return "", apperr.New(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("Image is too large (max %d bytes)", MaxImageBytes))
	}

	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
