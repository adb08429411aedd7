package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"vending-machine/internal/logger"
	"vending-machine/internal/metrics"
	"vending-machine/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func NewRouter(h *Handlers, jwtSecret string, zl *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), logger.GinLogger(zl))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	router.POST("/api/auth", h.PostAuth)

	protected := router.Group("/api", middleware.JWTAuthMiddleware(jwtSecret, h.Logger))
	protected.GET("/coins", h.GetCoins)
	protected.POST("/reset", h.PostReset)
	protected.POST("/state", h.PostState)
	protected.POST("/snapshot", h.PostSnapshot)
	return router
}

// Run serves handler on addr until ctx is cancelled.
func Run(ctx context.Context, addr string, handler http.Handler, zl *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zl.Info("Starting admin server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
