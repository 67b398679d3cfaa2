package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"panel-quiz-service/internal/app"
	"panel-quiz-service/internal/metrics"
)

// RouterConfig carries what the router needs from the service config.
type RouterConfig struct {
	JWTSecret string
	RateRPS   float64
	RateBurst int
}

func NewRouter(service *app.GameService, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestIDMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	ws := NewWSHandler(service, cfg.JWTSecret)
	router.GET("/ws", gin.WrapF(ws.ServeWS))

	api := router.Group("/api/v1")
	api.Use(JWTAuthMiddleware(cfg.JWTSecret))
	api.Use(RateLimitMiddleware(NewRateLimiter(cfg.RateRPS, cfg.RateBurst)))
	NewHandler(service).Register(api)

	return router
}

// StartServer serves router on port in the background.
func StartServer(router http.Handler, port string) *http.Server {
	addr := fmt.Sprintf(":%s", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("address", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	return srv
}

// ShutdownServer waits up to timeout for in-flight requests.
func ShutdownServer(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}
