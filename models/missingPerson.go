package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/safemap/safemap_backend/config"
	"gorm.io/gorm"
)

// MissingPerson is the canonical entity reconciled against the upstream feed.
// external_id is the upstream case identifier and the sole join key; rows are
// never hard-deleted by the sync engine, only transitioned to resolved.
type MissingPerson struct {
	ID              uint            `gorm:"primary_key" json:"id"`
	ExternalId      string          `gorm:"uniqueIndex;size:64;not null" json:"external_id"`
	Name            string          `gorm:"size:100" json:"name"`
	MissingDate     *time.Time      `gorm:"index" json:"missing_date"`
	Age             *int            `json:"age"`
	AgeNow          *int            `json:"age_now"`
	Gender          *Gender         `gorm:"type:enum('M','F')" json:"gender"`
	LocationAddress string          `gorm:"size:255" json:"location_address"`
	LocationDetail  string          `gorm:"type:text" json:"location_detail"`
	Latitude        *float64        `json:"latitude"`
	Longitude       *float64        `json:"longitude"`
	GeocodingStatus GeocodingStatus `gorm:"type:enum('pending','success','failed');default:'pending'" json:"geocoding_status"`

	Height              *int   `json:"height"`
	Weight              *int   `json:"weight"`
	BodyType            string `gorm:"size:100" json:"body_type"`
	FaceShape           string `gorm:"size:100" json:"face_shape"`
	HairStyle           string `gorm:"size:100" json:"hair_style"`
	HairColor           string `gorm:"size:100" json:"hair_color"`
	ClothingDescription string `gorm:"type:text" json:"clothing_description"`
	SpecialFeatures     string `gorm:"type:text" json:"special_features"`

	PhotoURLs          string     `gorm:"type:text" json:"photo_urls"`
	PhotoCount         int        `gorm:"default:0" json:"photo_count"`
	PhotosDownloadedAt *time.Time `json:"photos_downloaded_at"`

	Status     PersonStatus `gorm:"type:enum('missing','resolved');index;not null;default:'missing'" json:"status"`
	ResolvedAt *time.Time   `json:"resolved_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PhotoURLList splits the comma-joined photo_urls column.
func (p *MissingPerson) PhotoURLList() []string {
	if strings.TrimSpace(p.PhotoURLs) == "" {
		return nil
	}
	return strings.Split(p.PhotoURLs, ",")
}

func GetMissingPersonByExternalId(ctx context.Context, externalId string) (*MissingPerson, error) {
	var person MissingPerson
	err := config.GetDB().WithContext(ctx).
		Where("external_id = ?", externalId).
		Take(&person).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &person, nil
}

func CountByStatus(ctx context.Context, status PersonStatus) (int64, error) {
	var count int64
	err := config.GetDB().WithContext(ctx).
		Model(&MissingPerson{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

// MissingPersonFilter narrows list queries. Days and the explicit date range
// are mutually exclusive; Days wins when both are set.
type MissingPersonFilter struct {
	Status    string // "missing", "resolved" or "" / "all"
	Days      int
	StartDate *time.Time
	EndDate   *time.Time
	Skip      int
	Limit     int
}

func listQuery(ctx context.Context, filter MissingPersonFilter) *gorm.DB {
	query := config.GetDB().WithContext(ctx).Model(&MissingPerson{})

	if filter.Status != "" && filter.Status != "all" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Days > 0 {
		since := time.Now().AddDate(0, 0, -filter.Days)
		query = query.Where("missing_date >= ?", since)
	} else if filter.StartDate != nil && filter.EndDate != nil {
		query = query.Where("missing_date >= ? AND missing_date <= ?", *filter.StartDate, *filter.EndDate)
	}
	return query
}

func ListMissingPersons(ctx context.Context, filter MissingPersonFilter) ([]*MissingPerson, int64, error) {
	query := listQuery(ctx, filter)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var persons []*MissingPerson
	err := query.Order("missing_date DESC").
		Offset(filter.Skip).
		Limit(limit).
		Find(&persons).Error
	if err != nil {
		return nil, 0, err
	}
	return persons, total, nil
}

type LocationCount struct {
	Region string `json:"region"`
	Count  int64  `json:"count"`
}

type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

type MissingPersonStats struct {
	PeriodDays       int              `json:"period_days"`
	TotalCount       int64            `json:"total_count"`
	StatusStatistics map[string]int64 `json:"status_statistics"`
	GenderStatistics map[string]int64 `json:"gender_statistics"`
	TopLocations     []LocationCount  `json:"top_locations"`
	DailyStatistics  []DailyCount     `json:"daily_statistics"`
}

// GetMissingPersonStats aggregates counts over the last `days` days of
// missing_date: totals, status/gender breakdowns, top five locations and a
// per-day histogram (capped at 30 buckets).
func GetMissingPersonStats(ctx context.Context, days int) (*MissingPersonStats, error) {
	db := config.GetDB().WithContext(ctx)
	since := time.Now().AddDate(0, 0, -days)

	stats := &MissingPersonStats{
		PeriodDays:       days,
		StatusStatistics: map[string]int64{},
		GenderStatistics: map[string]int64{},
	}

	base := func() *gorm.DB {
		return db.Model(&MissingPerson{}).Where("missing_date >= ?", since)
	}

	if err := base().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}

	for _, status := range []PersonStatus{PersonStatusMissing, PersonStatusResolved} {
		var count int64
		if err := base().Where("status = ?", status).Count(&count).Error; err != nil {
			return nil, err
		}
		stats.StatusStatistics[string(status)] = count
	}

	for _, gender := range []Gender{GenderMale, GenderFemale} {
		var count int64
		if err := base().Where("gender = ?", gender).Count(&count).Error; err != nil {
			return nil, err
		}
		stats.GenderStatistics[string(gender)] = count
	}

	if err := base().
		Select("location_address AS region, COUNT(id) AS count").
		Group("location_address").
		Order("count DESC").
		Limit(5).
		Scan(&stats.TopLocations).Error; err != nil {
		return nil, err
	}

	buckets := days
	if buckets > 30 {
		buckets = 30
	}
	for i := 0; i < buckets; i++ {
		day := time.Now().AddDate(0, 0, -i)
		dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
		dayEnd := dayStart.Add(24*time.Hour - time.Nanosecond)

		var count int64
		err := db.Model(&MissingPerson{}).
			Where("missing_date >= ? AND missing_date <= ?", dayStart, dayEnd).
			Count(&count).Error
		if err != nil {
			return nil, err
		}
		stats.DailyStatistics = append(stats.DailyStatistics, DailyCount{
			Date:  dayStart.Format("2006-01-02"),
			Count: count,
		})
	}

	return stats, nil
}
