package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mbarros/product-catalog-service/internal/auth"
	"github.com/mbarros/product-catalog-service/internal/models"
	"github.com/mbarros/product-catalog-service/internal/producer"
	"github.com/mbarros/product-catalog-service/internal/store"
)

// RegisterCategoryRoutes registers the category CRUD endpoints.
func RegisterCategoryRoutes(r gin.IRoutes, st *store.PostgresStore, prod *producer.Producer) {
	r.POST("/categories", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)

		var req models.CategoryCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if req.Title == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
			return
		}

		cat, err := st.CreateCategory(c.Request.Context(), models.Category{
			ID:          uuid.New().String(),
			OwnerID:     ownerID,
			Title:       req.Title,
			Description: req.Description,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db insert failed"})
			return
		}

		emit(c, prod, ownerID, models.CategoryUpserted, cat.ID)
		c.JSON(http.StatusCreated, cat)
	})

	r.GET("/categories/:id", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)

		cat, err := st.GetCategory(c.Request.Context(), ownerID, c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, cat)
	})

	r.PUT("/categories/:id", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)

		var req models.CategoryUpdateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
			return
		}
		if req.Version < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "version required"})
			return
		}

		cat, err := st.UpdateCategory(c.Request.Context(), ownerID, c.Param("id"), req)
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
			return
		case errors.Is(err, store.ErrVersionConflict):
			c.JSON(http.StatusConflict, gin.H{"error": "version conflict"})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db update failed"})
			return
		}

		emit(c, prod, ownerID, models.CategoryUpserted, cat.ID)
		c.JSON(http.StatusOK, cat)
	})

	r.DELETE("/categories/:id", func(c *gin.Context) {
		ownerID := auth.OwnerID(c)
		id := c.Param("id")

		err := st.DeleteCategory(c.Request.Context(), ownerID, id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db delete failed"})
			return
		}

		emit(c, prod, ownerID, models.CategoryDeleted, id)
		c.Status(http.StatusNoContent)
	})
}
