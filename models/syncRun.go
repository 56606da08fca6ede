package models

import (
	"context"
	"errors"
	"time"

	"github.com/safemap/safemap_backend/config"
	"gorm.io/gorm"
)

// SyncRun is one reconciliation pass against the upstream feed. A run is
// marked failed only when page 1 could not be fetched or the run panicked;
// per-record failures leave it partial.
type SyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Status        string     `gorm:"size:20;index;not null" json:"status"`
	TriggeredBy   string     `gorm:"size:20" json:"triggered_by"`
	InitialSync   bool       `gorm:"default:false" json:"initial_sync"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type SyncError struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	SyncRunId  uint      `gorm:"index;not null" json:"sync_run_id"`
	EntityType string    `gorm:"size:50" json:"entity_type"`
	ExternalId string    `gorm:"size:64" json:"external_id"`
	ErrorCode  string    `gorm:"size:64" json:"error_code"`
	Message    string    `gorm:"type:text" json:"message"`
	Retryable  bool      `gorm:"default:false" json:"retryable"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func GetSyncRun(ctx context.Context, id uint) (*SyncRun, error) {
	var run SyncRun
	err := config.GetDB().WithContext(ctx).Where("id = ?", id).Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func GetLatestSyncRun(ctx context.Context) (*SyncRun, error) {
	var run SyncRun
	err := config.GetDB().WithContext(ctx).Order("id DESC").Take(&run).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*SyncRun
	err := config.GetDB().WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func ListSyncErrors(ctx context.Context, runId uint) ([]*SyncError, error) {
	var errs []*SyncError
	err := config.GetDB().WithContext(ctx).
		Where("sync_run_id = ?", runId).
		Order("id").
		Find(&errs).Error
	return errs, err
}
