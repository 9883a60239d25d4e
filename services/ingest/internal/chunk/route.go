package chunk

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.RouterGroup, store Store) {
	h := NewHandler(store)

	r.PUT("/jobs/:jobId/chunks/:index", h.Put)
}
