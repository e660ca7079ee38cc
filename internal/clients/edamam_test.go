package clients

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torvix/backend/internal/cache"
	"torvix/backend/internal/config"
)

func newTestEdamam(t *testing.T, h http.HandlerFunc) *EdamamClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	return NewEdamamClient(
		config.FoodDatabaseConfig{AppID: "id", AppKey: "key", BaseURL: srv.URL, Timeout: 2 * time.Second},
		config.CacheConfig{AutoCompleteTTL: time.Minute},
		cache.NewMemory(time.Minute, time.Minute),
		NewCircuitBreaker("edamam-"+t.Name()),
	)
}

func TestEdamam_MissingCredentials(t *testing.T) {
	t.Parallel()

	c := NewEdamamClient(config.FoodDatabaseConfig{BaseURL: "http://unused"}, config.CacheConfig{}, nil, NewCircuitBreaker("edamam-nocreds"))
	_, err := c.Parser(context.Background(), url.Values{"ingr": {"apple"}}, "")
	requireAppErr(t, err, http.StatusInternalServerError, "Missing FOOD_DATABASE_API_ID or FOOD_DATABASE_API_KEY")
}

func TestEdamam_Parser(t *testing.T) {
	t.Parallel()

	c := newTestEdamam(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/food-database/v2/parser", r.URL.Path)
		assert.Equal(t, "id", r.URL.Query().Get("app_id"))
		assert.Equal(t, "key", r.URL.Query().Get("app_key"))
		assert.Equal(t, "apple", r.URL.Query().Get("ingr"))
		assert.Equal(t, []string{"vegan", "gluten-free"}, r.URL.Query()["health"])
		assert.Equal(t, "user-42", r.Header.Get("Edamam-Account-User"))
		_, _ = w.Write([]byte(`{"text":"apple","hints":[]}`))
	})

	query := url.Values{"ingr": {"apple"}, "health": {"vegan", "gluten-free"}}
	resp, err := c.Parser(context.Background(), query, "user-42")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.JSONEq(t, `{"text":"apple","hints":[]}`, string(resp.Body))
}

func TestEdamam_Nutrients(t *testing.T) {
	t.Parallel()

	c := newTestEdamam(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/food-database/v2/nutrients", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"ingredients":[{"quantity":1,"measureURI":"m","foodId":"f"}]}`, string(body))
		_, _ = w.Write([]byte(`{"calories":52}`))
	})

	body := []byte(`{"ingredients":[{"quantity":1,"measureURI":"m","foodId":"f"}]}`)
	resp, err := c.Nutrients(context.Background(), body, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"calories":52}`, string(resp.Body))
}

func TestEdamam_UpstreamErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantDetail string
	}{
		{name: "client error passes through", status: http.StatusBadRequest, body: `{"message":"Invalid ingr"}`, wantStatus: 400, wantDetail: "Invalid ingr"},
		{name: "server error message", status: http.StatusServiceUnavailable, body: "", wantStatus: 503, wantDetail: "Edamam Food Database request failed"},
		{name: "quota", status: http.StatusTooManyRequests, body: `[{"errorCode":"limit","message":"Usage limits are exceeded"}]`, wantStatus: 429, wantDetail: "Usage limits are exceeded"},
		{name: "invalid json", status: http.StatusOK, body: "<html>", wantStatus: 502, wantDetail: "Invalid response from Edamam Food Database API"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := newTestEdamam(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := c.Parser(context.Background(), url.Values{"ingr": {"x"}}, "")
			requireAppErr(t, err, tc.wantStatus, tc.wantDetail)
		})
	}
}

func TestEdamam_Unreachable(t *testing.T) {
	t.Parallel()

	c := NewEdamamClient(
		config.FoodDatabaseConfig{AppID: "id", AppKey: "key", BaseURL: "http://127.0.0.1:1", Timeout: time.Second},
		config.CacheConfig{}, nil, NewCircuitBreaker("edamam-unreachable"),
	)
	_, err := c.AutoComplete(context.Background(), "app", 5, "")
	requireAppErr(t, err, http.StatusBadGateway, "Cannot reach Edamam Food Database API")
}

func TestEdamam_AutoCompleteCached(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c := newTestEdamam(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/auto-complete", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`["apple","apple juice"]`))
	})

	for i := 0; i < 3; i++ {
		resp, err := c.AutoComplete(context.Background(), "App", 5, "")
		require.NoError(t, err)
		assert.JSONEq(t, `["apple","apple juice"]`, string(resp.Body))
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestEdamam_NutrientsFromImage(t *testing.T) {
	t.Parallel()

	c := newTestEdamam(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/food-database/nutrients-from-image", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("beta"))
		var in ImageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "data:image/png;base64,AAA", in.Image)
		_, _ = w.Write([]byte(`{"recipe":{}}`))
	})

	resp, err := c.NutrientsFromImage(context.Background(), ImageRequest{Image: "data:image/png;base64,AAA"}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"recipe":{}}`, string(resp.Body))
}

func TestEdamam_NutrientsFromImageFallsBackToDataURI(t *testing.T) {
	t.Parallel()

	imageSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg; charset=binary")
		_, _ = w.Write([]byte{0xff, 0xd8, 0xff})
	}))
	t.Cleanup(imageSrv.Close)

	var mu sync.Mutex
	var bodies []ImageRequest
	c := newTestEdamam(t, func(w http.ResponseWriter, r *http.Request) {
		var in ImageRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		mu.Lock()
		bodies = append(bodies, in)
		mu.Unlock()

		if in.ImageURL != "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`[{"errorCode":"illegal_argument","message":"Invalid image"}]`))
			return
		}
		_, _ = w.Write([]byte(`{"recipe":{"calories":10}}`))
	})

	resp, err := c.NutrientsFromImage(context.Background(), ImageRequest{ImageURL: imageSrv.URL + "/meal.jpg"}, "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"recipe":{"calories":10}}`, string(resp.Body))

	require.Len(t, bodies, 2)
	assert.Equal(t, imageSrv.URL+"/meal.jpg", bodies[0].ImageURL)
	assert.Equal(t, "data:image/jpeg;base64,/9j/", bodies[1].Image)
}

func TestEdamam_ImageToDataURIErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>"))
		case "/huge":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte(strings.Repeat("x", MaxImageBytes+1)))
		}
	}))
	t.Cleanup(srv.Close)

	c := newTestEdamam(t, func(http.ResponseWriter, *http.Request) {})
	ctx := context.Background()

	_, err := c.imageToDataURI(ctx, "ftp://example.com/a.png")
	requireAppErr(t, err, http.StatusBadRequest, "image_url must use http or https")

	_, err = c.imageToDataURI(ctx, srv.URL+"/gone")
	requireAppErr(t, err, http.StatusBadRequest, "Cannot download image_url (HTTP 404)")

	_, err = c.imageToDataURI(ctx, srv.URL+"/page")
	requireAppErr(t, err, http.StatusBadRequest, "image_url must point to an image resource")

	_, err = c.imageToDataURI(ctx, srv.URL+"/huge")
	requireAppErr(t, err, http.StatusRequestEntityTooLarge, "Image is too large (max 8388608 bytes)")
}
