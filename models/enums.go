package models

type Gender string

const (
	GenderMale   Gender = "M"
	GenderFemale Gender = "F"
)

type PersonStatus string

const (
	PersonStatusMissing  PersonStatus = "missing"
	PersonStatusResolved PersonStatus = "resolved"
)

type GeocodingStatus string

const (
	GeocodingStatusPending GeocodingStatus = "pending"
	GeocodingStatusSuccess GeocodingStatus = "success"
	GeocodingStatusFailed  GeocodingStatus = "failed"
)

const (
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual  = "manual"
	SyncTriggeredSystem  = "system"
	SyncTriggeredStartup = "startup"
	SyncTriggeredCLI     = "cli"
)
