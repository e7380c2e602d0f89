package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mbarros/product-catalog-service/internal/auth"
	"github.com/mbarros/product-catalog-service/internal/models"
	"github.com/mbarros/product-catalog-service/internal/obs"
	"github.com/mbarros/product-catalog-service/internal/producer"
	"github.com/mbarros/product-catalog-service/internal/store"
)

// emit notifies the pipeline after a mutation has durably committed. The
// record write already succeeded, so an emit failure degrades snapshot
// freshness only; it never fails the mutation response.
//
// The enqueue must outlive the request: a client that disconnects right after
// the commit would otherwise cancel the retries and silently drop the event.
func emit(c *gin.Context, prod *producer.Producer, ownerID string, eventType models.EventType, entityID string) {
	ctx := context.WithoutCancel(c.Request.Context())
	if _, err := prod.Emit(ctx, ownerID, eventType, entityID); err != nil {
		obs.Logger.Error("event_emit_failed",
			"owner_id", ownerID,
			"event_type", string(eventType),
			"entity_id", entityID,
			"error", err.Error(),
		)
	}
}

// RegisterProductRoutes registers the product CRUD endpoints.
//
// Every successful mutation emits a catalog event post-commit; the pipeline
// rebuilds the owner's snapshot asynchronously.
func RegisterProductRoutes(r gin.IRoutes, st *store.PostgresStore, prod *producer.Producer) {
	r.POST("/products", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)

		var req models.ProductCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if req.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
			return
		}
		if req.Price < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "price must be >= 0"})
			return
		}

		p, err := st.CreateProduct(c.Request.Context(), models.Product{
			ID:          uuid.New().String(),
			OwnerID:     ownerID,
			Title:       req.Title,
			Description: req.Description,
			Price:       req.Price,
			CategoryID:  req.CategoryID,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db insert failed"})
			return
		}

		emit(c, prod, ownerID, models.ProductUpserted, p.ID)
		c.JSON(http.StatusCreated, p)
	})

	r.GET("/products/:id", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)

		p, err := st.GetProduct(c.Request.Context(), ownerID, c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, p)
	})

	r.PUT("/products/:id", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)

		var req models.ProductUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if req.Version < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "version required"})
			return
		}

		p, err := st.UpdateProduct(c.Request.Context(), ownerID, c.Param("id"), req)
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		case errors.Is(err, store.ErrVersionConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "version conflict"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db update failed"})
			return
		}

		emit(c, prod, ownerID, models.ProductUpserted, p.ID)
		c.JSON(http.StatusOK, p)
	})

	r.DELETE("/products/:id", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)
		id := c.Param("id")

		err := st.DeleteProduct(c.Request.Context(), ownerID, id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db delete failed"})
			return
		}

		emit(c, prod, ownerID, models.ProductDeleted, id)
		c.Status(http.StatusNoContent)
	})
}
