package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbarros/product-catalog-service/internal/auth"
	"github.com/mbarros/product-catalog-service/internal/config"
	"github.com/mbarros/product-catalog-service/internal/handlers"
	"github.com/mbarros/product-catalog-service/internal/producer"
	"github.com/mbarros/product-catalog-service/internal/queue"
	"github.com/mbarros/product-catalog-service/internal/store"
)

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready, /metrics
// Authenticated: /products, /categories, /catalog
func NewRouter(cfg config.Config, st *store.PostgresStore, q *queue.Queue, prod *producer.Producer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}

		depth, err := q.Depth(ctx)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "queue_depth": depth})
	})

	// Prometheus pipeline metrics.
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth group enforces owner context via X-API-Key.
	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(cfg.APIKeys))

	handlers.RegisterProductRoutes(authGroup, st, prod)
	handlers.RegisterCategoryRoutes(authGroup, st, prod)
	handlers.RegisterCatalogRoutes(authGroup, st)

	return r
}
