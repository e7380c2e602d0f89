package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbarros/product-catalog-service/internal/auth"
	"github.com/mbarros/product-catalog-service/internal/models"
	"github.com/mbarros/product-catalog-service/internal/store"
)

// RegisterCatalogRoutes registers the serving-path endpoint.
//
// GET /catalog
//   - Requires X-API-Key (owner context)
//   - Always returns the last successfully published snapshot; a stalled
//     pipeline degrades staleness, never correctness.
func RegisterCatalogRoutes(r gin.IRoutes, st *store.PostgresStore) {
	r.GET("/catalog", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)

		snap, err := st.LatestSnapshot(c.Request.Context(), ownerID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no catalog published yet"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		c.JSON(http.StatusOK, models.SnapshotResponse{
			Version:      snap.Version,
			GeneratedAt:  snap.GeneratedAt.UTC().Format(time.RFC3339),
			ProductCount: snap.ProductCount,
			Payload:      snap.Payload,
		})
	})
}
