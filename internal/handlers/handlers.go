package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/collab"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/config"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/middleware"
	"github.com/HungHsunHan/open-yolo-annotator-sub000/internal/repository"
)

type HandlerSet struct {
	log       zerolog.Logger
	cfg       *config.AppConfig
	service   *collab.Service
	occupancy *collab.OccupancyLimiter
	catalog   *repository.CatalogRepository
	db        *pgxpool.Pool
	cache     *redis.Client
}

func NewHandlerSet(
	log zerolog.Logger,
	cfg *config.AppConfig,
	service *collab.Service,
	occupancy *collab.OccupancyLimiter,
	catalog *repository.CatalogRepository,
	db *pgxpool.Pool,
	cache *redis.Client,
) HandlerSet {
	return HandlerSet{
		log:       log,
		cfg:       cfg,
		service:   service,
		occupancy: occupancy,
		catalog:   catalog,
		db:        db,
		cache:     cache,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")

	projects := v1.Group("/projects/:projectId")
	projects.Use(middleware.Identity(h.cfg))
	{
		projects.POST("/session", h.RegisterSession)
		projects.POST("/session/:sessionId/heartbeat", h.Heartbeat)
		projects.DELETE("/session/:sessionId", h.UnregisterSession)

		projects.GET("/images", h.ListImages)
		projects.GET("/images/:imageId/status", h.ImageStatus)
		projects.POST("/images/:imageId/assign", h.AssignImage)
		projects.POST("/images/:imageId/release", h.ReleaseImage)
		projects.POST("/images/:imageId/force-assign", h.ForceAssignImage)
		projects.POST("/images/:imageId/activity", h.RecordActivity)

		projects.GET("/state", h.ProjectState)
		projects.GET("/events", h.Events)

		projects.POST("/occupancy/enter", h.OccupancyEnter)
		projects.POST("/occupancy/leave", h.OccupancyLeave)
		projects.GET("/occupancy", h.OccupancyList)
	}
}
