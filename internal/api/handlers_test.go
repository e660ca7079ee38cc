package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"torvix/backend/internal/apperr"
	"torvix/backend/internal/auth"
	"torvix/backend/internal/clients"
	"torvix/backend/internal/orchestrator"
	"torvix/backend/internal/stats"
	"torvix/backend/internal/store"
)

// noopLogger returns a slog.Logger that discards all output.
func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func init() {
	gin.SetMode(gin.TestMode)
}

const testToken = "valid-access-token"

// fakeOrchestrator is a test double that implements orchestratorService.
type fakeOrchestrator struct {
	inProgress   bool
	ready        bool
	deepProbes   map[string]orchestrator.ProbeResult
	bootstrapErr error
	// bootstrapDelay simulates slow bootstrap so async tests can verify 202.
	bootstrapDelay time.Duration
	bootstrapCalls atomic.Int32
}

func (f *fakeOrchestrator) IsBootstrapInProgress() bool { return f.inProgress }
func (f *fakeOrchestrator) IsReady() bool               { return f.ready }

func (f *fakeOrchestrator) RunBootstrap(_ context.Context) (*orchestrator.BootstrapResult, error) {
	f.bootstrapCalls.Add(1)
	if f.bootstrapDelay > 0 {
		time.Sleep(f.bootstrapDelay)
	}
	if f.bootstrapErr != nil {
		return nil, f.bootstrapErr
	}
	return &orchestrator.BootstrapResult{
		Status: orchestrator.StatusOK,
		Phases: map[string]orchestrator.PhaseResult{},
	}, nil
}

func (f *fakeOrchestrator) RunDeepHealth(_ context.Context) map[string]orchestrator.ProbeResult {
	if f.deepProbes != nil {
		return f.deepProbes
	}
	return map[string]orchestrator.ProbeResult{}
}

// fakeAuth accepts testToken for user 7 and records the last call.
type fakeAuth struct {
	mu           sync.Mutex
	registered   *auth.Registration
	updated      *auth.Update
	refreshToken string
	err          error
}

func testUser() *store.User {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &store.User{ID: 7, Email: "ann@example.com", Name: "Ann", CreatedAt: ts, UpdatedAt: ts}
}

func (f *fakeAuth) EmailExists(_ context.Context, email string) (string, bool, error) {
	return email, email == "ann@example.com", f.err
}

func (f *fakeAuth) Register(_ context.Context, r auth.Registration) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = &r
	if f.err != nil {
		return nil, f.err
	}
	u := testUser()
	u.Email, u.Name = r.Email, r.Name
	u.Gender = r.Profile.Gender
	return u, nil
}

func (f *fakeAuth) Login(_ context.Context, email, password string) (*auth.TokenPair, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &auth.TokenPair{AccessToken: "a", RefreshToken: "r", TokenType: "bearer"}, nil
}

func (f *fakeAuth) Refresh(_ context.Context, tok string) (*auth.TokenPair, error) {
	f.mu.Lock()
	f.refreshToken = tok
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &auth.TokenPair{AccessToken: "a2", RefreshToken: "r2", TokenType: "bearer"}, nil
}

func (f *fakeAuth) Logout(_ context.Context, tok string) error {
	f.mu.Lock()
	f.refreshToken = tok
	f.mu.Unlock()
	return f.err
}

func (f *fakeAuth) Authenticate(_ context.Context, tok string) (*store.User, error) {
	if tok != testToken {
		return nil, apperr.Unauthorized("Invalid authentication credentials")
	}
	return testUser(), nil
}

func (f *fakeAuth) UpdateProfile(_ context.Context, userID int64, u auth.Update) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = &u
	if f.err != nil {
		return nil, f.err
	}
	user := testUser()
	if u.Name != nil {
		user.Name = *u.Name
	}
	return user, nil
}

// fakeStats records the user and arguments of the last call.
type fakeStats struct {
	userID int64
	day    store.Date
	mealID int64
	dishID int64
	input  *stats.MealInput
	err    error
}

func (f *fakeStats) CreateMeal(_ context.Context, userID int64, in stats.MealInput) (*stats.Meal, error) {
	f.userID, f.input = userID, &in
	if f.err != nil {
		return nil, f.err
	}
	return &stats.Meal{
		ID:          1,
		Time:        *in.Time,
		DishName:    in.DishName,
		TotalWeight: in.TotalWeight,
		TotalMacros: json.RawMessage(`{}`),
		Ingredients: json.RawMessage(`[]`),
	}, nil
}

func (f *fakeStats) Overview(_ context.Context, userID int64) (*stats.Statistics, error) {
	f.userID = userID
	return &stats.Statistics{Days: []stats.Day{}}, f.err
}

func (f *fakeStats) Day(_ context.Context, userID int64, day store.Date) (*stats.Day, error) {
	f.userID, f.day = userID, day
	return &stats.Day{Day: day, Meals: []stats.Meal{}}, f.err
}

func (f *fakeStats) DeleteDay(_ context.Context, userID int64, day store.Date) error {
	f.userID, f.day = userID, day
	return f.err
}

func (f *fakeStats) DeleteMeal(_ context.Context, userID int64, day store.Date, mealID int64) error {
	f.userID, f.day, f.mealID = userID, day, mealID
	return f.err
}

func (f *fakeStats) DishNames(_ context.Context, userID int64) (*stats.DishNames, error) {
	f.userID = userID
	return &stats.DishNames{DishNames: []stats.DishName{{ID: 3, DishName: "Soup"}}}, f.err
}

func (f *fakeStats) MealsByDish(_ context.Context, userID, dishID int64) (*stats.MealsByDish, error) {
	f.userID, f.dishID = userID, dishID
	if f.err != nil {
		return nil, f.err
	}
	return &stats.MealsByDish{DishID: dishID, DishName: "Soup", Meals: []stats.Meal{}}, nil
}

// fakeFoodDB answers every call with resp and records its inputs.
type fakeFoodDB struct {
	mu          sync.Mutex
	query       url.Values
	body        []byte
	image       clients.ImageRequest
	q           string
	limit       int
	accountUser string
	calls       int
	resp        *clients.JSONResponse
	err         error
}

func (f *fakeFoodDB) answer(accountUser string) (*clients.JSONResponse, error) {
	f.calls++
	f.accountUser = accountUser
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &clients.JSONResponse{Status: http.StatusOK, Body: json.RawMessage(`{"ok":true}`)}, nil
}

func (f *fakeFoodDB) Parser(_ context.Context, query url.Values, accountUser string) (*clients.JSONResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = query
	return f.answer(accountUser)
}

func (f *fakeFoodDB) Nutrients(_ context.Context, body []byte, accountUser string) (*clients.JSONResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = body
	return f.answer(accountUser)
}

func (f *fakeFoodDB) NutrientsFromImage(_ context.Context, in clients.ImageRequest, accountUser string) (*clients.JSONResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.image = in
	return f.answer(accountUser)
}

func (f *fakeFoodDB) AutoComplete(_ context.Context, q string, limit int, accountUser string) (*clients.JSONResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.q, f.limit = q, limit
	return f.answer(accountUser)
}

type fakeCatalog struct {
	barcode string
	err     error
}

func (f *fakeCatalog) Product(_ context.Context, barcode string) (*clients.Product, error) {
	f.barcode = barcode
	if f.err != nil {
		return nil, f.err
	}
	name := "Cola"
	return &clients.Product{Barcode: barcode, ProductName: &name}, nil
}

type fakeAssistant struct {
	chat        clients.ChatParams
	image       []byte
	contentType string
	language    string
	model       string
	err         error
}

func (f *fakeAssistant) Chat(_ context.Context, p clients.ChatParams) (*clients.ChatResult, error) {
	f.chat = p
	if f.err != nil {
		return nil, f.err
	}
	return &clients.ChatResult{Model: "gpt-test", Text: "hello"}, nil
}

func (f *fakeAssistant) AnalyzeFoodPhoto(_ context.Context, image []byte, contentType, language, model string) (*clients.FoodAnalysis, error) {
	f.image, f.contentType, f.language, f.model = image, contentType, language, model
	if f.err != nil {
		return nil, f.err
	}
	return &clients.FoodAnalysis{
		DishName:    "Salad",
		TotalWeight: 250,
		TotalMacros: json.RawMessage(`{"calories":120}`),
		Ingredients: json.RawMessage(`[]`),
	}, nil
}

// testServices returns Services backed by fresh fakes.
func testServices() Services {
	return Services{
		Orchestrator: &fakeOrchestrator{},
		Auth:         &fakeAuth{},
		Stats:        &fakeStats{},
		FoodDatabase: &fakeFoodDB{},
		Products:     &fakeCatalog{},
		OpenAI:       &fakeAssistant{},
	}
}

// serve runs one request through the full router.
func serve(t *testing.T, svc Services, method, target string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	NewRouter(svc, "torvix-test").Handler().ServeHTTP(w, req)
	return w
}

func bearer() []string { return []string{"Authorization", "Bearer " + testToken} }

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

// firstFieldError returns loc and type of the first 422 entry.
func firstFieldError(t *testing.T, w *httptest.ResponseRecorder) ([]any, string) {
	t.Helper()
	require.Equal(t, http.StatusUnprocessableEntity, w.Code, w.Body.String())
	detail, ok := decode(t, w)["detail"].([]any)
	require.True(t, ok, "detail should be a list: %s", w.Body.String())
	require.NotEmpty(t, detail)
	first := detail[0].(map[string]any)
	return first["loc"].([]any), first["type"].(string)
}

// --- Platform handlers ---

func TestBootstrap_202WhenNotRunning(t *testing.T) {
	t.Parallel()
	orch := &fakeOrchestrator{bootstrapDelay: 50 * time.Millisecond}
	svc := testServices()
	svc.Orchestrator = orch

	w := serve(t, svc, http.MethodPost, "/api/v1/bootstrap", nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "accepted", decode(t, w)["status"])
	assert.Eventually(t, func() bool { return orch.bootstrapCalls.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestBootstrap_409WhenInProgress(t *testing.T) {
	t.Parallel()
	orch := &fakeOrchestrator{inProgress: true}
	svc := testServices()
	svc.Orchestrator = orch

	w := serve(t, svc, http.MethodPost, "/api/v1/bootstrap", nil)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "in-progress", decode(t, w)["status"])
	assert.Zero(t, orch.bootstrapCalls.Load())
}

func TestHealth_AlwaysOK(t *testing.T) {
	t.Parallel()
	w := serve(t, testServices(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "shallow", body["mode"])
}

func TestDeepHealth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		probes     map[string]orchestrator.ProbeResult
		wantCode   int
		wantStatus string
	}{
		{
			name: "all ok with skipped dependency",
			probes: map[string]orchestrator.ProbeResult{
				"postgres": {Name: "postgres", OK: true},
				"redis":    {Name: "redis", OK: true, Skipped: true},
			},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name: "one failing",
			probes: map[string]orchestrator.ProbeResult{
				"postgres": {Name: "postgres", OK: true},
				"nats":     {Name: "nats", OK: false, Error: "circuit open"},
			},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := testServices()
			svc.Orchestrator = &fakeOrchestrator{deepProbes: tc.probes}

			w := serve(t, svc, http.MethodGet, "/health/deep", nil)

			assert.Equal(t, tc.wantCode, w.Code)
			body := decode(t, w)
			assert.Equal(t, tc.wantStatus, body["status"])
			assert.Len(t, body["dependencies"], len(tc.probes))
		})
	}
}

func TestReady(t *testing.T) {
	t.Parallel()
	for _, ready := range []bool{true, false} {
		svc := testServices()
		svc.Orchestrator = &fakeOrchestrator{ready: ready}

		w := serve(t, svc, http.MethodGet, "/ready", nil)

		want := http.StatusServiceUnavailable
		if ready {
			want = http.StatusOK
		}
		assert.Equal(t, want, w.Code)
		assert.Equal(t, ready, decode(t, w)["ready"])
	}
}

// --- Middleware ---

func TestRecovery_PanicReturns500Detail(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.Use(Recovery(noopLogger()))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"detail":"Internal Server Error"}`, w.Body.String())
}

func TestRequestLogger_RequestID(t *testing.T) {
	t.Parallel()
	r := gin.New()
	r.Use(RequestLogger(noopLogger()))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Len(t, w.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(requestIDHeader))
}

func TestMetrics_ExposesRequestCounter(t *testing.T) {
	t.Parallel()
	svc := testServices()
	svc.Registry = NewRegistry()
	router := NewRouter(svc, "torvix-test").Handler()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `torvix_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, w.Body.String(), "torvix_http_request_duration_seconds")
}

func TestRequireUser(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		header string
		detail string
	}{
		{"missing header", "", "Not authenticated"},
		{"wrong scheme", "Basic abc", "Not authenticated"},
		{"empty token", "Bearer ", "Not authenticated"},
		{"invalid token", "Bearer nope", "Invalid authentication credentials"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var headers []string
			if tc.header != "" {
				headers = []string{"Authorization", tc.header}
			}
			w := serve(t, testServices(), http.MethodGet, "/auth/me", nil, headers...)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
			assert.Equal(t, tc.detail, decode(t, w)["detail"])
		})
	}
}

func TestNotFound_Detail(t *testing.T) {
	t.Parallel()
	w := serve(t, testServices(), http.MethodGet, "/nope", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"detail":"Not Found"}`, w.Body.String())
}
