package router

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"crosscall-backend/internal/config"
	"crosscall-backend/internal/handlers"
	"crosscall-backend/internal/metrics"
	"crosscall-backend/internal/middleware"
	"crosscall-backend/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// corsMiddleware applies the configured origin whitelist; without one every
// origin is allowed.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		allowedOrigins := []string{"*"}
		allowCredentials := false
		maxAge := 3600
		if config.AppConfig != nil && len(config.AppConfig.CORS.AllowedOrigins) > 0 {
			allowedOrigins = config.AppConfig.CORS.AllowedOrigins
			allowCredentials = config.AppConfig.CORS.AllowCredentials
			if config.AppConfig.CORS.MaxAge > 0 {
				maxAge = config.AppConfig.CORS.MaxAge
			}
		}

		if len(allowedOrigins) == 1 && allowedOrigins[0] == "*" {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			allowed := false
			for _, allowedOrigin := range allowedOrigins {
				if strings.TrimSpace(allowedOrigin) == origin {
					allowed = true
					break
				}
			}
			if allowed {
				c.Header("Access-Control-Allow-Origin", origin)
			} else {
				logrus.WithFields(logrus.Fields{
					"request_origin": origin,
					"path":           c.Request.URL.Path,
					"method":         c.Request.Method,
				}).Warn("🚫 CORS: Request blocked - Origin not in whitelist")
			}
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, Cache-Control, Accept")
		if allowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}
		c.Header("Access-Control-Max-Age", strconv.Itoa(maxAge))

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// metricsMiddleware records per-route request durations.
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func SetupRouter(
	requestHandler *handlers.RequestHandler,
	adminHandler *handlers.AdminHandler,
	adminAuthHandler *handlers.AdminAuthHandler,
	pushService *services.PushService,
) *gin.Engine {
	r := gin.Default()

	r.Use(corsMiddleware())
	r.Use(metricsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", func(c *gin.Context) {
		pushService.HandleConnection(c.Writer, c.Request)
	})

	v1 := r.Group("/api/v1")
	{
		requests := v1.Group("/requests")
		{
			requests.POST("", requestHandler.CreateRequestHandler)
			requests.POST("/hash", requestHandler.HashRequestHandler)
			requests.GET("", requestHandler.ListRequestsHandler)
			requests.GET("/:id", requestHandler.GetRequestHandler)
			requests.GET("/:id/status", requestHandler.GetStatusHandler)
			requests.GET("/:id/calls", requestHandler.GetCallsHandler)
			requests.POST("/:id/cancel", requestHandler.CancelRequestHandler)
			requests.POST("/:id/claim", requestHandler.ClaimRewardHandler)
		}

		adminAuth := middleware.NewAdminAuthMiddleware(logrus.StandardLogger())
		admin := v1.Group("/admin")
		{
			admin.POST("/login", adminAuthHandler.AdminLoginHandler)
			admin.POST("/totp/generate", adminAuthHandler.GenerateTOTPSecretHandler)

			guarded := admin.Group("")
			guarded.Use(adminAuth.RequireAdminAuth())
			{
				guarded.GET("/requests", adminHandler.ListAllRequestsHandler)
				guarded.GET("/escrow/summary", adminHandler.EscrowSummaryHandler)
			}
		}
	}

	return r
}
