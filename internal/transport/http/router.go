package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/uptrace/bun"
)

type RouterConfig struct {
	CORSAllowed string
}

func Router(cfg RouterConfig, svc schedulingService, db *bun.DB, log *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger(log))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := NewHandler(svc, log)

	r.GET("/healthz", func(c *gin.Context) {
		if db != nil {
			if err := db.PingContext(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.POST("/appointments", h.CreateAppointment)
		api.GET("/appointments", h.ListAppointments)
		api.GET("/appointments/:id", h.GetAppointment)
		api.POST("/appointments/:id/reschedule", h.RescheduleAppointment)
		api.POST("/appointments/:id/cancel", h.CancelAppointment)
		api.POST("/appointments/:id/start", h.StartAppointment)
		api.POST("/appointments/:id/complete", h.CompleteAppointment)
		api.POST("/appointments/:id/feedback", h.SubmitFeedback)
		api.POST("/appointments/:id/no-show", h.MarkNoShow)
		api.GET("/technicians/:id/availability", h.TechnicianAvailability)
	}

	return r
}
