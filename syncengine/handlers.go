package syncengine

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/safemap/safemap_backend/models"
	"github.com/safemap/safemap_backend/utils"
)

const maxDisplayErrors = 10

type TriggerSyncRequest struct {
	ScrapePhotos     *bool `json:"scrape_photos"`
	GeocodeAddresses *bool `json:"geocode_addresses"`
	ProcessAll       bool  `json:"process_all"`
}

type TriggerSyncResponse struct {
	RunId         uint     `json:"run_id"`
	Success       bool     `json:"success"`
	TotalFetched  int      `json:"total_fetched"`
	NewAdded      int      `json:"new_added"`
	Updated       int      `json:"updated"`
	Skipped       int      `json:"skipped"`
	Resolved      int      `json:"resolved"`
	Geocoded      int      `json:"geocoded"`
	GeocodeFailed int      `json:"geocode_failed"`
	PhotosScraped int      `json:"photos_scraped"`
	TotalPhotos   int      `json:"total_photos"`
	ErrorCount    int      `json:"error_count"`
	Errors        []string `json:"errors"`
	DurationMs    int64    `json:"duration_ms"`
	CorrelationId string   `json:"correlation_id"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Status        string  `json:"status"`
	TriggeredBy   string  `json:"triggered_by"`
	InitialSync   bool    `json:"initial_sync"`
	StartedAt     *string `json:"started_at"`
	FinishedAt    *string `json:"finished_at"`
	DurationMs    int64   `json:"duration_ms"`
	RecordsSynced int     `json:"records_synced"`
	ErrorCount    int     `json:"error_count"`
}

type SyncErrorResponse struct {
	ID         uint   `json:"id"`
	EntityType string `json:"entity_type"`
	ExternalId string `json:"external_id"`
	ErrorCode  string `json:"error_code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Errors []SyncErrorResponse `json:"errors"`
}

// TriggerSyncHandler runs a reconciliation pass synchronously and returns its
// counters. Enrichment steps default on; process_all widens enrichment to the
// whole table instead of the incremental window.
func TriggerSyncHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TriggerSyncRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		opts := Options{
			TriggeredBy:      models.SyncTriggeredManual,
			InitialSync:      req.ProcessAll,
			GeocodeAddresses: req.GeocodeAddresses == nil || *req.GeocodeAddresses,
			ScrapePhotos:     req.ScrapePhotos == nil || *req.ScrapePhotos,
		}

		result, err := scheduler.TriggerManual(c.Request.Context(), opts)
		if err != nil {
			if errors.Is(err, ErrRunInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		c.JSON(http.StatusOK, TriggerSyncResponse{
			RunId:         result.RunId,
			Success:       result.Success,
			TotalFetched:  result.TotalFetched,
			NewAdded:      result.NewAdded,
			Updated:       result.Updated,
			Skipped:       result.Skipped,
			Resolved:      result.Resolved,
			Geocoded:      result.Geocoded,
			GeocodeFailed: result.GeocodeFailed,
			PhotosScraped: result.PhotosScraped,
			TotalPhotos:   result.TotalPhotos,
			ErrorCount:    len(result.Errors),
			Errors:        result.DisplayErrors(maxDisplayErrors),
			DurationMs:    result.Duration.Milliseconds(),
			CorrelationId: cid,
		})
	}
}

// StatusHandler reports scheduler state plus the latest run.
func StatusHandler(scheduler *Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		latest, err := models.GetLatestSyncRun(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := gin.H{
			"scheduler_active": scheduler.IsActive(),
			"sync_running":     scheduler.IsRunning(),
		}
		if missing, err := models.CountByStatus(c.Request.Context(), models.PersonStatusMissing); err == nil {
			resp["missing_count"] = missing
		}
		if resolved, err := models.CountByStatus(c.Request.Context(), models.PersonStatusResolved); err == nil {
			resp["resolved_count"] = resolved
		}
		if latest != nil {
			resp["last_run"] = mapRunToResponse(latest)
		}
		c.JSON(http.StatusOK, resp)
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		runs, err := models.ListSyncRuns(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		run, err := models.GetSyncRun(c.Request.Context(), uint(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		errs, err := models.ListSyncErrors(c.Request.Context(), run.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Errors:          mapErrors(errs),
		})
	}
}

func mapRunToResponse(run *models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Status:        run.Status,
		TriggeredBy:   run.TriggeredBy,
		InitialSync:   run.InitialSync,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
	}
}

func mapErrors(errorsList []*models.SyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:         errItem.ID,
			EntityType: errItem.EntityType,
			ExternalId: errItem.ExternalId,
			ErrorCode:  errItem.ErrorCode,
			Message:    errItem.Message,
			Retryable:  errItem.Retryable,
		})
	}
	return out
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
