package job

import (
	"github.com/gin-gonic/gin"
)

func RegisterRoutes(r *gin.RouterGroup, service *Service, dispatcher *Dispatcher) {
	h := NewHandler(service, dispatcher)

	g := r.Group("/jobs")
	{
		g.POST("", h.Submit)
		g.GET("/:jobId", h.Status)
		g.GET("/:jobId/result", h.Result)
	}
}
