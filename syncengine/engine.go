package syncengine

import (
	"context"
	"fmt"
	"time"

	"github.com/safemap/safemap_backend/config"
	"github.com/safemap/safemap_backend/models"
	"github.com/safemap/safemap_backend/safedream"
	"github.com/sirupsen/logrus"
)

// Engine reconciles the upstream feed against the local store: it pages the
// full catalog, resolves records that disappeared from it, upserts the rest
// and fans out geocoding and photo enrichment. One run at a time; paging and
// enrichment are sequential to respect upstream rate tolerance.
type Engine struct {
	source   Source
	geocoder Geocoder
	photos   PhotoCollector
	store    Store
	logger   *logrus.Logger

	rowSize      int
	maxPages     int
	batchSize    int
	pageDelay    time.Duration
	enrichWindow time.Duration
}

// NewEngine wires the engine with its collaborators. geocoder and photos may
// be nil when the corresponding credential is absent; those enrichment passes
// are then skipped.
func NewEngine(source Source, store Store, geocoder Geocoder, photos PhotoCollector) *Engine {
	return &Engine{
		source:       source,
		geocoder:     geocoder,
		photos:       photos,
		store:        store,
		logger:       config.GetLogger(),
		rowSize:      config.IntFromEnv("SYNC_ROW_SIZE", 100),
		maxPages:     config.IntFromEnv("SYNC_MAX_PAGES", 50),
		batchSize:    config.IntFromEnv("SYNC_BATCH_SIZE", 50),
		pageDelay:    500 * time.Millisecond,
		enrichWindow: time.Hour,
	}
}

// Run executes one full reconciliation pass. Only a total inability to fetch
// page 1 (or a panic) marks the run failed; every other error is accumulated
// in the result and the run continues.
func (e *Engine) Run(ctx context.Context, opts Options) *RunResult {
	result := &RunResult{
		Success:   true,
		StartTime: time.Now(),
	}

	runId, err := e.store.CreateRun(ctx, opts.TriggeredBy, opts.InitialSync)
	if err != nil {
		config.LogError(e.logger, "syncengine", "Run", "create run", nil, err)
	} else {
		result.RunId = runId
	}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.addError(fmt.Sprintf("sync run panicked: %v", r))
		}
		result.Duration = time.Since(result.StartTime)
		e.finishRun(ctx, result)
	}()

	raw, fetchErr := e.fetchAll(ctx, result)
	if fetchErr != nil {
		// Page 1 unreachable: nothing to reconcile against.
		result.Success = false
		result.addError(fetchErr.Error())
		e.recordError(ctx, result, "page", "", "fetch_failed", fetchErr.Error(), true)
		return result
	}

	persons, upstreamIds := e.normalizeAll(raw, result)

	e.resolveAbsent(ctx, upstreamIds, result)
	e.upsertAll(ctx, persons, result)

	if opts.GeocodeAddresses && e.geocoder != nil {
		e.geocodePass(ctx, opts, result)
	}
	if opts.ScrapePhotos && e.photos != nil {
		e.photoPass(ctx, opts, result)
	}

	return result
}

// fetchAll pages through the catalog. The first page yields totalCount; the
// last page is requested with exactly the remaining record count. An error or
// empty page after page 1 halts paging but keeps the records collected so far.
func (e *Engine) fetchAll(ctx context.Context, result *RunResult) ([]safedream.RawPerson, error) {
	first, err := e.source.FetchPage(ctx, e.rowSize, 1)
	if err != nil {
		return nil, fmt.Errorf("page 1 fetch failed: %w", err)
	}

	var all []safedream.RawPerson
	all = append(all, first.Records...)
	result.TotalFetched += len(first.Records)

	totalCount := first.TotalCount
	actualPages := e.maxPages
	if totalCount > 0 {
		neededPages := (totalCount + e.rowSize - 1) / e.rowSize
		if neededPages < actualPages {
			actualPages = neededPages
		}
	}

	e.logger.WithFields(logrus.Fields{
		"totalCount": totalCount,
		"pages":      actualPages,
	}).Info("catalog fetch started")

	for page := 2; page <= actualPages; page++ {
		currentRowSize := e.rowSize
		if totalCount > 0 {
			remaining := totalCount - (page-1)*e.rowSize
			if remaining < currentRowSize {
				currentRowSize = remaining
			}
			if currentRowSize <= 0 {
				break
			}
		}

		pageResult, err := e.source.FetchPage(ctx, currentRowSize, page)
		if err != nil {
			msg := fmt.Sprintf("page %d fetch failed: %v", page, err)
			result.addError(msg)
			e.recordError(ctx, result, "page", fmt.Sprint(page), "fetch_failed", msg, true)
			break
		}
		if len(pageResult.Records) == 0 {
			break
		}

		all = append(all, pageResult.Records...)
		result.TotalFetched += len(pageResult.Records)

		if !sleepCtx(ctx, e.pageDelay) {
			break
		}
	}

	return all, nil
}

func (e *Engine) normalizeAll(raw []safedream.RawPerson, result *RunResult) ([]*safedream.Person, map[string]struct{}) {
	persons := make([]*safedream.Person, 0, len(raw))
	upstreamIds := make(map[string]struct{}, len(raw))

	for _, item := range raw {
		person := safedream.Normalize(item)
		if person == nil {
			result.Skipped++
			continue
		}
		persons = append(persons, person)
		upstreamIds[person.ExternalId] = struct{}{}
	}
	return persons, upstreamIds
}

// resolveAbsent transitions every stored missing record that the fresh full
// pull no longer contains. Absence from the feed is the only resolution
// signal the upstream provides. This commits before any upsert runs.
func (e *Engine) resolveAbsent(ctx context.Context, upstreamIds map[string]struct{}, result *RunResult) {
	missingIds, err := e.store.MissingExternalIds(ctx)
	if err != nil {
		msg := fmt.Sprintf("loading missing ids failed: %v", err)
		result.addError(msg)
		e.recordError(ctx, result, "resolution", "", "load_failed", msg, true)
		return
	}

	var resolved []string
	for _, id := range missingIds {
		if _, present := upstreamIds[id]; !present {
			resolved = append(resolved, id)
		}
	}
	if len(resolved) == 0 {
		return
	}

	if err := e.store.MarkResolved(ctx, resolved, time.Now()); err != nil {
		msg := fmt.Sprintf("marking %d records resolved failed: %v", len(resolved), err)
		result.addError(msg)
		e.recordError(ctx, result, "resolution", "", "mark_failed", msg, true)
		return
	}
	result.Resolved = len(resolved)

	e.logger.WithFields(logrus.Fields{"resolved": len(resolved)}).Info("resolution detected")
}

func (e *Engine) upsertAll(ctx context.Context, persons []*safedream.Person, result *RunResult) {
	for start := 0; start < len(persons); start += e.batchSize {
		end := start + e.batchSize
		if end > len(persons) {
			end = len(persons)
		}
		batch := persons[start:end]

		added, updated, recordErrs := e.store.UpsertBatch(ctx, batch)
		result.NewAdded += added
		result.Updated += updated
		for _, err := range recordErrs {
			result.addError(err.Error())
			e.recordError(ctx, result, "person", "", "upsert_failed", err.Error(), true)
		}
	}
}

func (e *Engine) geocodePass(ctx context.Context, opts Options, result *RunResult) {
	window := e.enrichWindow
	if opts.InitialSync {
		// Initial sync works the whole backlog, not just recent rows.
		window = 0
	}

	targets, err := e.store.PendingGeocoding(ctx, window, opts.MaxGeocodePersons)
	if err != nil {
		msg := fmt.Sprintf("selecting geocode targets failed: %v", err)
		result.addError(msg)
		e.recordError(ctx, result, "geocode", "", "select_failed", msg, true)
		return
	}
	if len(targets) == 0 {
		return
	}

	e.logger.WithFields(logrus.Fields{"targets": len(targets)}).Info("geocoding pass started")

	var pending []GeocodeUpdate
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := e.store.SaveCoordinates(ctx, pending); err != nil {
			msg := fmt.Sprintf("saving %d coordinates failed: %v", len(pending), err)
			result.addError(msg)
			e.recordError(ctx, result, "geocode", "", "save_failed", msg, true)
		}
		pending = pending[:0]
	}

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		coords := e.geocoder.Geocode(ctx, target.Address)
		if coords != nil {
			result.Geocoded++
		} else {
			result.GeocodeFailed++
		}
		pending = append(pending, GeocodeUpdate{ID: target.ID, Coordinates: coords})

		if len(pending) >= e.batchSize {
			flush()
		}
	}
	flush()
}

func (e *Engine) photoPass(ctx context.Context, opts Options, result *RunResult) {
	window := e.enrichWindow
	if opts.InitialSync {
		window = 0
	}

	targets, err := e.store.PendingPhotos(ctx, window, opts.MaxPhotoPersons)
	if err != nil {
		msg := fmt.Sprintf("selecting photo targets failed: %v", err)
		result.addError(msg)
		e.recordError(ctx, result, "photo", "", "select_failed", msg, true)
		return
	}
	if len(targets) == 0 {
		return
	}

	e.logger.WithFields(logrus.Fields{"targets": len(targets)}).Info("photo pass started")

	for _, target := range targets {
		if ctx.Err() != nil {
			break
		}
		urls := e.photos.Collect(ctx, target.ExternalId)
		if len(urls) == 0 {
			continue
		}
		if err := e.store.SavePhotos(ctx, target.ID, urls, time.Now()); err != nil {
			msg := fmt.Sprintf("saving photos for %s failed: %v", target.ExternalId, err)
			result.addError(msg)
			e.recordError(ctx, result, "photo", target.ExternalId, "save_failed", msg, true)
			continue
		}
		result.PhotosScraped++
		result.TotalPhotos += len(urls)
	}
}

func (e *Engine) finishRun(ctx context.Context, result *RunResult) {
	status := models.SyncRunStatusSuccess
	if !result.Success {
		status = models.SyncRunStatusFailed
	} else if len(result.Errors) > 0 {
		status = models.SyncRunStatusPartial
	}

	if result.RunId != 0 {
		if err := e.store.FinishRun(ctx, result.RunId, status, result); err != nil {
			config.LogError(e.logger, "syncengine", "finishRun", "finish run", nil, err)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"runId":        result.RunId,
		"status":       status,
		"fetched":      result.TotalFetched,
		"added":        result.NewAdded,
		"updated":      result.Updated,
		"resolved":     result.Resolved,
		"skipped":      result.Skipped,
		"geocoded":     result.Geocoded,
		"photoPersons": result.PhotosScraped,
		"photos":       result.TotalPhotos,
		"errors":       len(result.Errors),
		"duration":     result.Duration.String(),
	}).Info("sync run finished")
}

func (e *Engine) recordError(ctx context.Context, result *RunResult, entityType string, externalId string, code string, message string, retryable bool) {
	if result.RunId == 0 {
		return
	}
	e.store.RecordError(ctx, result.RunId, entityType, externalId, code, message, retryable)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
