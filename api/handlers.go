package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/safemap/safemap_backend/config"
	"github.com/safemap/safemap_backend/models"
)

const statsCacheTTL = 5 * time.Minute

// HealthHandler reports liveness plus backing-store readiness. It never
// returns non-200; degraded stores show up in the body so probes can decide.
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus := "ok"
		if db := config.GetDB(); db == nil {
			dbStatus = "unavailable"
		} else if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			dbStatus = "unavailable"
		}

		redisStatus := "ok"
		if rdb := config.GetRedisDB(); rdb == nil || rdb.Ping(c.Request.Context()).Err() != nil {
			redisStatus = "unavailable"
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"db":     dbStatus,
			"redis":  redisStatus,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ListMissingPersonsHandler lists records newest-first. Filters: status
// (missing/resolved/all), days, or an explicit start_date/end_date pair
// (YYYY-MM-DD); days wins when both are given.
func ListMissingPersonsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := models.MissingPersonFilter{
			Status: strings.TrimSpace(c.Query("status")),
			Skip:   intQuery(c, "skip", 0),
			Limit:  intQuery(c, "limit", 100),
		}
		if filter.Status != "" && filter.Status != "all" &&
			filter.Status != string(models.PersonStatusMissing) &&
			filter.Status != string(models.PersonStatusResolved) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		if filter.Limit > 1000 {
			filter.Limit = 1000
		}
		if v := strings.TrimSpace(c.Query("days")); v != "" {
			days, err := strconv.Atoi(v)
			if err != nil || days <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
				return
			}
			filter.Days = days
		}

		startRaw := strings.TrimSpace(c.Query("start_date"))
		endRaw := strings.TrimSpace(c.Query("end_date"))
		if startRaw != "" || endRaw != "" {
			if startRaw == "" || endRaw == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "start_date and end_date must be given together"})
				return
			}
			start, err := time.Parse("2006-01-02", startRaw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_date"})
				return
			}
			end, err := time.Parse("2006-01-02", endRaw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_date"})
				return
			}
			if start.After(end) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "start_date must not be after end_date"})
				return
			}
			end = end.Add(24*time.Hour - time.Nanosecond)
			filter.StartDate = &start
			filter.EndDate = &end
		}

		persons, total, err := models.ListMissingPersons(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]gin.H, 0, len(persons))
		for _, person := range persons {
			items = append(items, personToResponse(person))
		}
		c.JSON(http.StatusOK, gin.H{"total": total, "items": items})
	}
}

// GetMissingPersonHandler returns one record by upstream case id.
func GetMissingPersonHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		externalId := strings.TrimSpace(c.Param("externalId"))
		if externalId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "external id is required"})
			return
		}

		person, err := models.GetMissingPersonByExternalId(c.Request.Context(), externalId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if person == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, personToResponse(person))
	}
}

// StatsHandler aggregates counts over the requested period. Results are
// cached in redis per period so dashboard polling stays off the database.
func StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		days := intQuery(c, "days", 30)
		if days <= 0 || days > 365 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days"})
			return
		}

		cacheKey := "MissingPersonStats:" + strconv.Itoa(days)
		var cached models.MissingPersonStats
		if exists, err := config.GetRedisObject(cacheKey, &cached); err == nil && exists {
			c.JSON(http.StatusOK, &cached)
			return
		}

		stats, err := models.GetMissingPersonStats(c.Request.Context(), days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		_ = config.SetRedisObject(cacheKey, stats, statsCacheTTL)
		c.JSON(http.StatusOK, stats)
	}
}

func personToResponse(person *models.MissingPerson) gin.H {
	return gin.H{
		"id":                   person.ID,
		"external_id":          person.ExternalId,
		"name":                 person.Name,
		"missing_date":         person.MissingDate,
		"age":                  person.Age,
		"age_now":              person.AgeNow,
		"gender":               person.Gender,
		"location_address":     person.LocationAddress,
		"location_detail":      person.LocationDetail,
		"latitude":             person.Latitude,
		"longitude":            person.Longitude,
		"geocoding_status":     person.GeocodingStatus,
		"height":               person.Height,
		"weight":               person.Weight,
		"body_type":            person.BodyType,
		"face_shape":           person.FaceShape,
		"hair_style":           person.HairStyle,
		"hair_color":           person.HairColor,
		"clothing_description": person.ClothingDescription,
		"special_features":     person.SpecialFeatures,
		"photo_urls":           person.PhotoURLList(),
		"photo_count":          person.PhotoCount,
		"status":               person.Status,
		"resolved_at":          person.ResolvedAt,
		"created_at":           person.CreatedAt,
		"updated_at":           person.UpdatedAt,
	}
}

func intQuery(c *gin.Context, name string, fallback int) int {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
