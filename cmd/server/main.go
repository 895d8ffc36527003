// Command server runs the radix room server: the HTTP surface around
// the room runtime (C1-C5) plus the operational scaffolding a
// deployable instance needs (config, logging, metrics, tracing,
// health, rate limiting, auth).
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/giilbert/radix/internal/v1/apperr"
	"github.com/giilbert/radix/internal/v1/auth"
	"github.com/giilbert/radix/internal/v1/config"
	"github.com/giilbert/radix/internal/v1/health"
	"github.com/giilbert/radix/internal/v1/judge"
	"github.com/giilbert/radix/internal/v1/logging"
	appmw "github.com/giilbert/radix/internal/v1/middleware"
	"github.com/giilbert/radix/internal/v1/ratelimit"
	"github.com/giilbert/radix/internal/v1/repository"
	"github.com/giilbert/radix/internal/v1/room"
	"github.com/giilbert/radix/internal/v1/tracing"
	"go.uber.org/zap"
)

func main() {
	for _, path := range []string{".env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting radix room server", zap.String("go_env", cfg.GoEnv))

	if addr := os.Getenv("OTEL_COLLECTOR_ADDR"); addr != "" {
		tp, err := tracing.InitTracer(ctx, "radix-room-server", addr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to initialize", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
		}
	}

	var redisClient *redis.Client
	var cache judge.ResultCache = judge.NewNoopCache()
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if rc, err := judge.NewRedisResultCache(ctx, cfg.RedisAddr, cfg.RedisPassword); err != nil {
			logging.Warn(ctx, "judge result cache disabled: redis unreachable", zap.Error(err))
		} else {
			cache = rc
		}
	}

	sandbox := judge.NewPistonSandbox(cfg.PistonURL)
	queue := judge.NewQueue(sandbox, cache)
	defer queue.Close()

	users := repository.NewInMemory()
	problems := repository.NewInMemory()
	registry := room.NewRegistry(queue)

	var validator appmw.TokenValidator
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication disabled via SKIP_AUTH=true, do not use in production")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(ctx, "failed to build auth validator", zap.Error(err))
		}
		validator = v
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisClient, validator)
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("CORS_ORIGIN", []string{cfg.CorsOrigin})
	upgrader := room.Upgrader(allowedOrigins)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("radix-room-server"))
	router.Use(appmw.CorrelationID())
	router.Use(corsMiddleware(allowedOrigins))
	router.Use(rateLimiter.GlobalMiddleware())

	healthHandler := health.NewHandler(redisClient)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/room/list", listRoomsHandler(registry))

	authed := router.Group("/room")
	authed.Use(appmw.Authenticate(validator, users))
	{
		authed.POST("", rateLimiter.MiddlewareForEndpoint("rooms"), createRoomHandler(registry, problems))
		authed.GET("/:name/can-connect", canConnectHandler(registry))
		authed.GET("/:name", connectHandler(registry, upgrader, rateLimiter))
	}

	srv := &http.Server{
		Addr:    "0.0.0.0:" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}
	logging.Info(ctx, "server exiting")
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	c := cors.DefaultConfig()
	c.AllowOrigins = allowedOrigins
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", appmw.HeaderXCorrelationID)
	return cors.New(c)
}

// createRoomRequest is the POST /room body, per spec.md §6.
type createRoomRequest struct {
	Name     string                      `json:"name"`
	Public   bool                        `json:"public"`
	Problems []repository.ProblemsFilter `json:"problems"`
}

func createRoomHandler(registry *room.Registry, problems *repository.InMemory) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner, ok := appmw.UserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		var req createRoomRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apperr.Respond(c, apperr.Validation("invalid request body"))
			return
		}
		if req.Name == "" {
			apperr.Respond(c, apperr.Validation("name is required"))
			return
		}

		resolved, err := problems.GetProblemsByFilter(c.Request.Context(), req.Problems)
		if err != nil {
			apperr.Respond(c, err)
			return
		}

		if _, err := registry.CreateRoom(owner, req.Name, req.Public, resolved); err != nil {
			apperr.Respond(c, mapRegistryError(err))
			return
		}

		c.JSON(http.StatusOK, gin.H{"name": req.Name})
	}
}

func listRoomsHandler(registry *room.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, registry.List())
	}
}

func canConnectHandler(registry *room.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := appmw.UserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}
		canConnect, reason := registry.CanConnect(user.ID, c.Param("name"))
		c.JSON(http.StatusOK, gin.H{"canConnect": canConnect, "reason": reason})
	}
}

func connectHandler(registry *room.Registry, upgrader websocket.Upgrader, rateLimiter *ratelimit.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := appmw.UserFromContext(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
			return
		}

		if !rateLimiter.CheckWebSocket(c) {
			return
		}
		if err := rateLimiter.CheckWebSocketUser(c.Request.Context(), string(user.ID)); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}

		r, err := registry.Join(user.ID, c.Param("name"))
		if err != nil {
			apperr.Respond(c, mapRegistryError(err))
			return
		}

		// room.Serve's onExit fires once the connection's pumps have
		// stopped; if the upgrade itself fails it never starts them, so
		// membership must be released here too rather than left stuck.
		if err := room.Serve(c.Writer, c.Request, upgrader, r, user, rateLimiter, func() { registry.Leave(user.ID) }); err != nil {
			registry.Leave(user.ID)
			logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err), zap.String("room", string(r.ID())))
		}
	}
}

func mapRegistryError(err error) error {
	switch {
	case errors.Is(err, room.ErrRoomExists):
		return apperr.Conflict("room already exists")
	case errors.Is(err, room.ErrAlreadyConnected):
		return apperr.Conflict("already connected to a room")
	case errors.Is(err, room.ErrRoomNotFound):
		return apperr.NotFound("room not found")
	default:
		return err
	}
}
