package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-thesis-api/internal/middleware"
	"github.com/noah-isme/sma-thesis-api/internal/models"
)

// ThesisRoutes bundles what RegisterThesisRoutes needs.
type ThesisRoutes struct {
	Handler *ThesisHandler
	// Auth authenticates every route except the signed download.
	Auth gin.HandlerFunc
	// DownloadAudit runs on the signed download route when set.
	DownloadAudit gin.HandlerFunc
}

// RegisterThesisRoutes mounts the thesis API under group.
func RegisterThesisRoutes(group *gin.RouterGroup, routes ThesisRoutes) {
	h := routes.Handler
	authors := middleware.RequireRoles(models.RoleStudent, models.RoleAdmin, models.RoleSuperAdmin)

	group.GET("/workflow/transitions", h.TransitionTable)

	download := []gin.HandlerFunc{}
	if routes.DownloadAudit != nil {
		download = append(download, routes.DownloadAudit)
	}
	download = append(download, h.DownloadDocument)
	group.GET("/theses/:id/document/download", download...)

	theses := group.Group("/theses")
	if routes.Auth != nil {
		theses.Use(routes.Auth)
	}
	theses.POST("", authors, h.Create)
	theses.GET("", h.List)
	theses.GET("/:id", h.Get)
	theses.PATCH("/:id", authors, h.Update)
	theses.DELETE("/:id", authors, h.Delete)
	theses.POST("/:id/transition", h.Transition)
	theses.POST("/:id/document", authors, h.UploadDocument)
	theses.GET("/:id/document", h.DocumentURL)
	theses.GET("/:id/feedback", h.Feedback)
	theses.POST("/:id/feedback", h.AppendFeedback)
	theses.GET("/:id/report", h.Report)
}
