package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/safemap/safemap_backend/api"
	"github.com/safemap/safemap_backend/config"
	"github.com/safemap/safemap_backend/geocoding"
	"github.com/safemap/safemap_backend/models"
	"github.com/safemap/safemap_backend/photos"
	"github.com/safemap/safemap_backend/safedream"
	"github.com/safemap/safemap_backend/syncengine"
	"github.com/safemap/safemap_backend/utils"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so the platform considers the revision
	// healthy. Until DB/Redis are ready, app endpoints return 503.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// In production require an explicit allowlist via CORS_ALLOWED_ORIGINS
	// (comma-separated); everywhere else allow all.
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	r.Use(cors.New(corsConfig))

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Build the sync stack. Missing credentials disable a capability, never
	// the whole server.
	var source syncengine.Source
	client, err := safedream.NewClient(os.Getenv("SAFE_DREAM_AUTH_KEY"), os.Getenv("SAFE_DREAM_ESNTL_ID"))
	if err != nil {
		logger.WithFields(logrus.Fields{
			"field": "main",
		}).Warn("safe dream sync disabled: " + err.Error())
	} else {
		source = client
	}

	var geocoder syncengine.Geocoder
	kakao, err := geocoding.NewKakaoGeocoder(os.Getenv("KAKAO_REST_API_KEY"))
	if err != nil {
		logger.WithFields(logrus.Fields{
			"field": "main",
		}).Warn("geocoding disabled: " + err.Error())
	} else {
		geocoder = kakao
	}

	var scheduler *syncengine.Scheduler
	if source != nil {
		engine := syncengine.NewEngine(source, syncengine.NewStore(config.GetDB()), geocoder, photos.NewCollector())
		scheduler = syncengine.NewScheduler(engine, syncengine.NewRunGuard())
	}

	v1 := r.Group("/api/v1")
	v1.GET("/health", api.HealthHandler())
	v1.GET("/missing-persons", api.ListMissingPersonsHandler())
	v1.GET("/missing-persons/export", api.ExportHandler())
	v1.GET("/missing-persons/stats", api.StatsHandler())
	v1.GET("/missing-persons/:externalId", api.GetMissingPersonHandler())
	if scheduler != nil {
		v1.POST("/sync/trigger", syncengine.TriggerSyncHandler(scheduler))
		v1.GET("/sync/status", syncengine.StatusHandler(scheduler))
		v1.GET("/sync/runs", syncengine.SyncHistoryHandler())
		v1.GET("/sync/runs/:id", syncengine.SyncRunDetailHandler())
	}
	r.NoRoute(customNotFoundHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run blocking DDL; allow running it as a separate job.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	if scheduler != nil && config.BoolFromEnv("SYNC_SCHEDULER_ENABLED", true) {
		scheduler.Start()
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop the scheduler first so no new run starts while we drain.
	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
