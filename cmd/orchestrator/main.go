// aSDLC orchestrator service - initializes the event stream infrastructure
// and serves health endpoints for the pipeline.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/jb-612/dox-asdlc/pkg/streams"
	"github.com/jb-612/dox-asdlc/pkg/tenant"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	httpPort := getEnv("SERVICE_PORT", "8080")
	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	ginMode := getEnv("GIN_MODE", "release")
	gin.SetMode(ginMode)

	keyer := tenant.Keyer{
		Enabled: getEnv("TENANT_ENABLED", "false") == "true",
		Default: getEnv("TENANT_DEFAULT", "default"),
	}
	groups := strings.Split(getEnv("CONSUMER_GROUPS", "development-handlers"), ",")

	slog.Info("Starting aSDLC orchestrator service", "port", httpPort, "redis_addr", redisAddr)

	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()

	client := streams.NewClient(rdb)
	stream := keyer.Stream("")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	results, err := client.InitializeGroups(initCtx, stream, groups)
	cancel()
	if err != nil {
		log.Fatalf("Failed to initialize consumer groups: %v", err)
	}
	for group, created := range results {
		status := "exists"
		if created {
			status = "created"
		}
		slog.Info("Consumer group initialized", "group", group, "status", status)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "orchestrator"})
	})
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive", "service": "orchestrator"})
	})
	router.GET("/health/ready", func(c *gin.Context) {
		checkCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := rdb.Ping(checkCtx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unready", "error": err.Error()})
			return
		}

		info, err := client.Info(checkCtx, stream)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unready", "error": err.Error()})
			return
		}

		groupStats := make([]gin.H, 0, len(info.Groups))
		for _, g := range info.Groups {
			groupStats = append(groupStats, gin.H{
				"name":           g.Name,
				"consumers":      g.Consumers,
				"pending":        g.Pending,
				"last_delivered": g.LastDelivered,
			})
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        "ready",
			"stream":        info.Stream,
			"stream_length": info.Length,
			"groups":        groupStats,
		})
	})

	server := &http.Server{Addr: ":" + httpPort, Handler: router}

	go func() {
		slog.Info("Health endpoints listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	slog.Info("Orchestrator service stopped")
}
