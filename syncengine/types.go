package syncengine

import (
	"context"
	"time"

	"github.com/safemap/safemap_backend/geocoding"
	"github.com/safemap/safemap_backend/safedream"
)

// Source fetches one page of the upstream listing. Retry policy belongs to
// the engine, not the source.
type Source interface {
	FetchPage(ctx context.Context, rowSize int, pageNum int) (*safedream.PageResult, error)
}

// Geocoder resolves a free-text address, nil on any failure.
type Geocoder interface {
	Geocode(ctx context.Context, address string) *geocoding.Coordinates
}

// PhotoCollector discovers a person's photo asset URLs, possibly empty.
type PhotoCollector interface {
	Collect(ctx context.Context, externalId string) []string
}

// GeocodeTarget is a stored record still waiting for coordinates.
type GeocodeTarget struct {
	ID         uint
	ExternalId string
	Address    string
}

// GeocodeUpdate carries a geocoding outcome back to the store. A nil
// Coordinates marks the lookup as failed.
type GeocodeUpdate struct {
	ID          uint
	Coordinates *geocoding.Coordinates
}

// PhotoTarget is a stored record with no photos collected yet.
type PhotoTarget struct {
	ID         uint
	ExternalId string
}

// Store is the engine's only write path into the relational store. The
// engine is the sole writer of the entity table.
type Store interface {
	// MissingExternalIds returns the external ids of every record currently
	// in missing status.
	MissingExternalIds(ctx context.Context) ([]string, error)

	// MarkResolved transitions the given records to resolved status. It must
	// commit before any upsert of the same run begins.
	MarkResolved(ctx context.Context, externalIds []string, now time.Time) error

	// UpsertBatch writes one batch of normalized records. Existing rows are
	// refreshed and forced back to missing; new rows are inserted as missing.
	// A failure on one record is reported, not fatal to the batch.
	UpsertBatch(ctx context.Context, batch []*safedream.Person) (added int, updated int, recordErrs []error)

	// PendingGeocoding selects missing-status records without coordinates,
	// optionally restricted to those created within the window, capped at
	// limit (0 = no cap).
	PendingGeocoding(ctx context.Context, window time.Duration, limit int) ([]GeocodeTarget, error)

	SaveCoordinates(ctx context.Context, updates []GeocodeUpdate) error

	// PendingPhotos selects missing-status records without photos, same
	// window/limit semantics as PendingGeocoding.
	PendingPhotos(ctx context.Context, window time.Duration, limit int) ([]PhotoTarget, error)

	SavePhotos(ctx context.Context, id uint, urls []string, now time.Time) error

	// Run bookkeeping.
	CreateRun(ctx context.Context, triggeredBy string, initialSync bool) (uint, error)
	FinishRun(ctx context.Context, runId uint, status string, result *RunResult) error
	RecordError(ctx context.Context, runId uint, entityType string, externalId string, code string, message string, retryable bool)
}

// Options select the scope of one reconciliation run.
type Options struct {
	TriggeredBy       string
	InitialSync       bool
	GeocodeAddresses  bool
	ScrapePhotos      bool
	MaxGeocodePersons int
	MaxPhotoPersons   int
}

// RunResult aggregates the counters of one reconciliation run. Errors holds
// every recorded error; display layers truncate it, counters never do.
type RunResult struct {
	RunId         uint          `json:"run_id"`
	Success       bool          `json:"success"`
	TotalFetched  int           `json:"total_fetched"`
	NewAdded      int           `json:"new_added"`
	Updated       int           `json:"updated"`
	Skipped       int           `json:"skipped"`
	Resolved      int           `json:"resolved"`
	Geocoded      int           `json:"geocoded"`
	GeocodeFailed int           `json:"geocode_failed"`
	PhotosScraped int           `json:"photos_scraped"`
	TotalPhotos   int           `json:"total_photos"`
	Errors        []string      `json:"errors"`
	StartTime     time.Time     `json:"start_time"`
	Duration      time.Duration `json:"duration"`
}

// DisplayErrors returns at most limit error messages for API responses.
func (r *RunResult) DisplayErrors(limit int) []string {
	if limit <= 0 || len(r.Errors) <= limit {
		return r.Errors
	}
	return r.Errors[:limit]
}

func (r *RunResult) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}
