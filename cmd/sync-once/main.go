package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/safemap/safemap_backend/config"
	"github.com/safemap/safemap_backend/geocoding"
	"github.com/safemap/safemap_backend/models"
	"github.com/safemap/safemap_backend/photos"
	"github.com/safemap/safemap_backend/safedream"
	"github.com/safemap/safemap_backend/syncengine"
)

func main() {
	geocode := flag.Bool("geocode", true, "Geocode pending addresses after the sync pass")
	scrapePhotos := flag.Bool("photos", true, "Scrape photos for records without any")
	processAll := flag.Bool("all", false, "Enrich the whole table instead of recently created rows")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	client, err := safedream.NewClient(os.Getenv("SAFE_DREAM_AUTH_KEY"), os.Getenv("SAFE_DREAM_ESNTL_ID"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot build upstream client: %v\n", err)
		os.Exit(1)
	}

	var geocoder syncengine.Geocoder
	if *geocode {
		kakao, err := geocoding.NewKakaoGeocoder(os.Getenv("KAKAO_REST_API_KEY"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "geocoding disabled: %v\n", err)
		} else {
			geocoder = kakao
		}
	}

	engine := syncengine.NewEngine(client, syncengine.NewStore(db), geocoder, photos.NewCollector())
	result := engine.Run(ctx, syncengine.Options{
		TriggeredBy:      models.SyncTriggeredCLI,
		InitialSync:      *processAll,
		GeocodeAddresses: *geocode && geocoder != nil,
		ScrapePhotos:     *scrapePhotos,
	})

	fmt.Printf("run=%d success=%v fetched=%d added=%d updated=%d skipped=%d resolved=%d geocoded=%d photos=%d errors=%d duration=%s\n",
		result.RunId, result.Success, result.TotalFetched, result.NewAdded, result.Updated,
		result.Skipped, result.Resolved, result.Geocoded, result.TotalPhotos, len(result.Errors), result.Duration)
	for _, msg := range result.DisplayErrors(20) {
		fmt.Fprintln(os.Stderr, msg)
	}
	if !result.Success {
		os.Exit(1)
	}
}
