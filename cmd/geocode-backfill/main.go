package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/safemap/safemap_backend/config"
	"github.com/safemap/safemap_backend/geocoding"
	"github.com/safemap/safemap_backend/syncengine"
)

// Re-geocodes stored records that still have no coordinates, without pulling
// from the upstream feed. Useful after a Kakao key rotation or quota reset.
func main() {
	limit := flag.Int("limit", 0, "Maximum number of records to geocode (0 = no limit)")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	geocoder, err := geocoding.NewKakaoGeocoder(os.Getenv("KAKAO_REST_API_KEY"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build geocoder: %v\n", err)
		os.Exit(1)
	}

	store := syncengine.NewStore(db)
	targets, err := store.PendingGeocoding(ctx, 0, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list pending records: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("geocoding %d records\n", len(targets))

	var geocoded, failed int
	start := time.Now()
	for _, target := range targets {
		coords := geocoder.Geocode(ctx, target.Address)
		if coords != nil {
			geocoded++
		} else {
			failed++
		}
		if err := store.SaveCoordinates(ctx, []syncengine.GeocodeUpdate{{ID: target.ID, Coordinates: coords}}); err != nil {
			fmt.Fprintf(os.Stderr, "record %s: save failed: %v\n", target.ExternalId, err)
		}
	}

	fmt.Printf("done geocoded=%d failed=%d cache=%d duration=%s\n",
		geocoded, failed, geocoder.CacheSize(), time.Since(start))
}
