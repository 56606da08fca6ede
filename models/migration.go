package models

import (
	"log"

	"github.com/safemap/safemap_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&MissingPerson{},
		&SyncRun{}, &SyncError{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
