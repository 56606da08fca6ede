package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/safemap/safemap_backend/config"
	"github.com/safemap/safemap_backend/models"
	"github.com/safemap/safemap_backend/safedream"
	"gorm.io/gorm"
)

// gormStore implements Store over the relational store. The engine is the
// sole writer of missing_persons, so no write-write contention is handled.
type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// conn resolves the handle lazily: the server wires the engine before the
// database connection is established, so a nil handle falls back to the
// global connection at first use.
func (s *gormStore) conn() *gorm.DB {
	if s.db == nil {
		s.db = config.GetDB()
	}
	return s.db
}

func (s *gormStore) MissingExternalIds(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.conn().WithContext(ctx).
		Model(&models.MissingPerson{}).
		Where("status = ?", models.PersonStatusMissing).
		Pluck("external_id", &ids).Error
	return ids, err
}

func (s *gormStore) MarkResolved(ctx context.Context, externalIds []string, now time.Time) error {
	if len(externalIds) == 0 {
		return nil
	}
	return s.conn().WithContext(ctx).
		Model(&models.MissingPerson{}).
		Where("external_id IN ? AND status = ?", externalIds, models.PersonStatusMissing).
		Updates(map[string]interface{}{
			"status":      models.PersonStatusResolved,
			"resolved_at": now,
			"updated_at":  now,
		}).Error
}

// UpsertBatch writes one batch inside a single transaction; a failure on one
// record is collected and the rest of the batch still commits.
func (s *gormStore) UpsertBatch(ctx context.Context, batch []*safedream.Person) (int, int, []error) {
	var added, updated int
	var recordErrs []error

	err := s.conn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, person := range batch {
			created, err := upsertPerson(tx, person)
			if err != nil {
				recordErrs = append(recordErrs, errors.New("upsert "+person.ExternalId+": "+err.Error()))
				continue
			}
			if created {
				added++
			} else {
				updated++
			}
		}
		return nil
	})
	if err != nil {
		recordErrs = append(recordErrs, err)
	}
	return added, updated, recordErrs
}

func upsertPerson(tx *gorm.DB, person *safedream.Person) (bool, error) {
	var existing models.MissingPerson
	err := tx.Where("external_id = ?", person.ExternalId).Take(&existing).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		row := models.MissingPerson{
			ExternalId:          person.ExternalId,
			Name:                person.Name,
			MissingDate:         person.MissingDate,
			Age:                 person.Age,
			AgeNow:              person.AgeNow,
			Gender:              genderOf(person),
			LocationAddress:     person.LocationAddress,
			LocationDetail:      person.LocationDetail,
			GeocodingStatus:     models.GeocodingStatusPending,
			Height:              person.Height,
			Weight:              person.Weight,
			BodyType:            person.BodyType,
			FaceShape:           person.FaceShape,
			HairStyle:           person.HairStyle,
			HairColor:           person.HairColor,
			ClothingDescription: person.ClothingDescription,
			SpecialFeatures:     person.SpecialFeatures,
			Status:              models.PersonStatusMissing,
		}
		if err := tx.Create(&row).Error; err != nil {
			return false, err
		}
		return true, nil
	}

	if err := tx.Model(&existing).Updates(personUpdateFields(person, time.Now())).Error; err != nil {
		return false, err
	}
	return false, nil
}

// personUpdateFields builds the column set for refreshing an existing row.
// A record re-appearing in the feed is missing again, whatever the stored
// status said, so status and resolved_at are always reset.
func personUpdateFields(person *safedream.Person, now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"name":                 person.Name,
		"missing_date":         person.MissingDate,
		"age":                  person.Age,
		"age_now":              person.AgeNow,
		"gender":               genderOf(person),
		"location_address":     person.LocationAddress,
		"location_detail":      person.LocationDetail,
		"height":               person.Height,
		"weight":               person.Weight,
		"body_type":            person.BodyType,
		"face_shape":           person.FaceShape,
		"hair_style":           person.HairStyle,
		"hair_color":           person.HairColor,
		"clothing_description": person.ClothingDescription,
		"special_features":     person.SpecialFeatures,
		"status":               models.PersonStatusMissing,
		"resolved_at":          nil,
		"updated_at":           now,
	}
}

func genderOf(person *safedream.Person) *models.Gender {
	if person.Gender == nil {
		return nil
	}
	g := models.Gender(*person.Gender)
	return &g
}

func (s *gormStore) PendingGeocoding(ctx context.Context, window time.Duration, limit int) ([]GeocodeTarget, error) {
	query := s.conn().WithContext(ctx).
		Model(&models.MissingPerson{}).
		Where("status = ?", models.PersonStatusMissing).
		Where("latitude IS NULL").
		Where("location_address IS NOT NULL AND location_address != ''")
	if window > 0 {
		query = query.Where("created_at >= ?", time.Now().Add(-window))
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.MissingPerson
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	targets := make([]GeocodeTarget, 0, len(rows))
	for _, row := range rows {
		targets = append(targets, GeocodeTarget{
			ID:         row.ID,
			ExternalId: row.ExternalId,
			Address:    row.LocationAddress,
		})
	}
	return targets, nil
}

func (s *gormStore) SaveCoordinates(ctx context.Context, updates []GeocodeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	now := time.Now()
	return s.conn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, update := range updates {
			fields := map[string]interface{}{
				"geocoding_status": models.GeocodingStatusFailed,
				"updated_at":       now,
			}
			if update.Coordinates != nil {
				fields["latitude"] = update.Coordinates.Latitude
				fields["longitude"] = update.Coordinates.Longitude
				fields["geocoding_status"] = models.GeocodingStatusSuccess
			}
			if err := tx.Model(&models.MissingPerson{}).
				Where("id = ?", update.ID).
				Updates(fields).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *gormStore) PendingPhotos(ctx context.Context, window time.Duration, limit int) ([]PhotoTarget, error) {
	query := s.conn().WithContext(ctx).
		Model(&models.MissingPerson{}).
		Where("status = ?", models.PersonStatusMissing).
		Where("photo_urls IS NULL OR photo_urls = ''")
	if window > 0 {
		query = query.Where("created_at >= ?", time.Now().Add(-window))
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []models.MissingPerson
	if err := query.Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	targets := make([]PhotoTarget, 0, len(rows))
	for _, row := range rows {
		targets = append(targets, PhotoTarget{ID: row.ID, ExternalId: row.ExternalId})
	}
	return targets, nil
}

func (s *gormStore) SavePhotos(ctx context.Context, id uint, urls []string, now time.Time) error {
	return s.conn().WithContext(ctx).
		Model(&models.MissingPerson{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"photo_urls":           strings.Join(urls, ","),
			"photo_count":          len(urls),
			"photos_downloaded_at": now,
			"updated_at":           now,
		}).Error
}

func (s *gormStore) CreateRun(ctx context.Context, triggeredBy string, initialSync bool) (uint, error) {
	now := time.Now()
	run := models.SyncRun{
		Status:      models.SyncRunStatusRunning,
		TriggeredBy: triggeredBy,
		InitialSync: initialSync,
		StartedAt:   &now,
	}
	if err := s.conn().WithContext(ctx).Create(&run).Error; err != nil {
		return 0, err
	}
	return run.ID, nil
}

func (s *gormStore) FinishRun(ctx context.Context, runId uint, status string, result *RunResult) error {
	statsJSON, _ := json.Marshal(result)
	finishedAt := time.Now()
	return s.conn().WithContext(ctx).
		Model(&models.SyncRun{}).
		Where("id = ?", runId).
		Updates(map[string]interface{}{
			"status":         status,
			"finished_at":    finishedAt,
			"duration_ms":    result.Duration.Milliseconds(),
			"records_synced": result.NewAdded + result.Updated,
			"error_count":    len(result.Errors),
			"stats_json":     statsJSON,
		}).Error
}

func (s *gormStore) RecordError(ctx context.Context, runId uint, entityType string, externalId string, code string, message string, retryable bool) {
	errRec := models.SyncError{
		SyncRunId:  runId,
		EntityType: entityType,
		ExternalId: externalId,
		ErrorCode:  code,
		Message:    message,
		Retryable:  retryable,
	}
	if err := s.conn().WithContext(ctx).Create(&errRec).Error; err != nil {
		config.LogError(config.GetLogger(), "syncengine", "RecordError", entityType, nil, err)
	}
}
