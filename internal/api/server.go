package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"torvix/backend/internal/auth"
	"torvix/backend/internal/clients"
	"torvix/backend/internal/orchestrator"
	"torvix/backend/internal/stats"
	"torvix/backend/internal/store"
)

// orchestratorService is the subset of *orchestrator.Orchestrator used by the
// HTTP handlers. Declaring it as an interface allows test doubles to be injected.
type orchestratorService interface {
	RunBootstrap(ctx context.Context) (*orchestrator.BootstrapResult, error)
	RunDeepHealth(ctx context.Context) map[string]orchestrator.ProbeResult
	IsReady() bool
	IsBootstrapInProgress() bool
}

// authService is satisfied by *auth.Service.
type authService interface {
	EmailExists(ctx context.Context, email string) (string, bool, error)
	Register(ctx context.Context, r auth.Registration) (*store.User, error)
	Login(ctx context.Context, email, password string) (*auth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Authenticate(ctx context.Context, accessToken string) (*store.User, error)
	UpdateProfile(ctx context.Context, userID int64, u auth.Update) (*store.User, error)
}

// statsService is satisfied by *stats.Service.
type statsService interface {
	CreateMeal(ctx context.Context, userID int64, in stats.MealInput) (*stats.Meal, error)
	Overview(ctx context.Context, userID int64) (*stats.Statistics, error)
	Day(ctx context.Context, userID int64, day store.Date) (*stats.Day, error)
	DeleteDay(ctx context.Context, userID int64, day store.Date) error
	DeleteMeal(ctx context.Context, userID int64, day store.Date, mealID int64) error
	DishNames(ctx context.Context, userID int64) (*stats.DishNames, error)
	MealsByDish(ctx context.Context, userID, dishID int64) (*stats.MealsByDish, error)
}

// foodDatabase is satisfied by *clients.EdamamClient.
type foodDatabase interface {
	Parser(ctx context.Context, query url.Values, accountUser string) (*clients.JSONResponse, error)
	Nutrients(ctx context.Context, body []byte, accountUser string) (*clients.JSONResponse, error)
	NutrientsFromImage(ctx context.Context, in clients.ImageRequest, accountUser string) (*clients.JSONResponse, error)
	AutoComplete(ctx context.Context, q string, limit int, accountUser string) (*clients.JSONResponse, error)
}

// productCatalog is satisfied by *clients.OpenFoodFactsClient.
type productCatalog interface {
	Product(ctx context.Context, barcode string) (*clients.Product, error)
}

// assistant is satisfied by *clients.OpenAIClient.
type assistant interface {
	Chat(ctx context.Context, p clients.ChatParams) (*clients.ChatResult, error)
	AnalyzeFoodPhoto(ctx context.Context, image []byte, contentType, language, model string) (*clients.FoodAnalysis, error)
}

// Services are the dependencies the router dispatches to.
type Services struct {
	Orchestrator orchestratorService
	Auth         authService
	Stats        statsService
	FoodDatabase foodDatabase
	Products     productCatalog
	OpenAI       assistant

	// BootstrapTimeout bounds a bootstrap started through the API.
	BootstrapTimeout time.Duration
	// Registry receives the HTTP metrics; nil creates a private one.
	Registry *prometheus.Registry
}

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// NewRouter constructs a Router with the full middleware chain and all routes
// registered. Middleware order:
//  1. Recovery: panic → 500
//  2. otelgin: trace context per request
//  3. RequestLogger: request id and structured request logging
//  4. Metrics: Prometheus counters and latency
func NewRouter(svc Services, serviceName string) *Router {
	registerValidators()

	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	reg := svc.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	engine.Use(Recovery(slog.Default()))
	engine.Use(OTEL(serviceName))
	engine.Use(RequestLogger(slog.Default()))
	engine.Use(Metrics(reg))

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
	})
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"detail": "Method Not Allowed"})
	})

	platform := &PlatformHandler{orchestrator: svc.Orchestrator, bootstrapTimeout: svc.BootstrapTimeout}
	engine.GET("/health", platform.Health)
	engine.GET("/health/deep", platform.DeepHealth)
	engine.GET("/ready", platform.Ready)
	engine.POST("/api/v1/bootstrap", platform.Bootstrap)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	requireUser := RequireUser(svc.Auth)

	ah := &AuthHandler{auth: svc.Auth}
	authGroup := engine.Group("/auth")
	authGroup.GET("/email_exists", ah.EmailExists)
	authGroup.POST("/register", ah.Register)
	authGroup.POST("/login", ah.Login)
	authGroup.POST("/refresh", ah.Refresh)
	authGroup.POST("/logout", ah.Logout)
	authGroup.GET("/me", requireUser, ah.Me)
	authGroup.PATCH("/me", requireUser, ah.UpdateMe)

	sh := &StatsHandler{stats: svc.Stats}
	statsGroup := engine.Group("/stats", requireUser)
	statsGroup.POST("/meals", sh.CreateMeal)
	statsGroup.GET("", sh.Overview)
	statsGroup.GET("/days/:day/meals", sh.Day)
	statsGroup.DELETE("/days/:day", sh.DeleteDay)
	statsGroup.DELETE("/days/:day/meals/:mealId", sh.DeleteMeal)
	statsGroup.GET("/dish-names", sh.DishNames)
	statsGroup.GET("/dishes", sh.MealsByDish)

	fh := &FoodDatabaseHandler{edamam: svc.FoodDatabase}
	food := engine.Group("/api/food-database")
	food.GET("/v2/parser", fh.Parser)
	food.POST("/v2/nutrients", fh.Nutrients)
	food.POST("/nutrients-from-image", fh.NutrientsFromImage)
	food.POST("/v2/nutrients-from-image", fh.NutrientsFromImage)
	food.GET("/auto-complete", fh.AutoComplete)
	engine.POST("/nutrients-from-image", fh.NutrientsFromImage)

	ph := &ProductsHandler{catalog: svc.Products}
	off := engine.Group("/api/open-food-facts")
	off.GET("/products/:barcode", ph.ByPath)
	off.POST("/product", ph.ByBody)

	oh := &OpenAIHandler{openai: svc.OpenAI}
	ai := engine.Group("/api/openai", requireUser)
	ai.POST("/chat", oh.Chat)
	ai.POST("/food-photo", oh.FoodPhoto)

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}
