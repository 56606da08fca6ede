package photos

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"

	"github.com/safemap/safemap_backend/config"
	"github.com/sirupsen/logrus"
)

const (
	// The photo source answers empty slots with a fixed placeholder image.
	// A payload of exactly this many bytes means no further photos exist.
	placeholderSize = 2860

	// Payloads below this are "no image" sentinels, not real photos.
	minImageSize = 1000

	// Indexed asset slots probed per person.
	maxSlots = 10
)

// Collector discovers a person's photo assets by probing indexed slots on the
// upstream detail endpoint. Duplicate payloads are dropped by content hash.
type Collector struct {
	baseURL string
	http    *http.Client

	maxRetries  int
	backoffBase time.Duration
	slotDelay   time.Duration
	personDelay time.Duration
}

func NewCollector() *Collector {
	baseURL := strings.TrimSpace(os.Getenv("SAFE_DREAM_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://www.safe182.go.kr"
	}
	// The asset endpoints only answer after the detail page set its cookies.
	jar, _ := cookiejar.New(nil)
	return &Collector{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{Timeout: 30 * time.Second, Jar: jar},
		maxRetries:  3,
		backoffBase: 2 * time.Second,
		slotDelay:   500 * time.Millisecond,
		personDelay: 3 * time.Second,
	}
}

// Collect returns the unique photo asset URLs for one person, possibly empty.
// It never returns an error: any terminal failure just ends probing with
// whatever was found so far.
func (c *Collector) Collect(ctx context.Context, externalId string) []string {
	logger := config.GetLogger()

	detailURL := fmt.Sprintf("%s/home/lcm/lcmMssGet.do?msspsnIdntfccd=%s&rptDscd=2", c.baseURL, externalId)
	if _, err := c.downloadWithRetry(ctx, detailURL); err != nil {
		config.LogError(logger, "photos", "Collect", externalId, nil, err)
		return nil
	}

	var photoURLs []string
	seenHashes := make(map[string]struct{})

	for idx := 0; idx < maxSlots; idx++ {
		photoURL := fmt.Sprintf("%s/home/lcm/blobImgListView.do?tknphotoFileIdx=%d", c.baseURL, idx)

		data, err := c.downloadWithRetry(ctx, photoURL)
		if err != nil {
			config.LogError(logger, "photos", "Collect", externalId, logrus.Fields{"slot": idx}, err)
			break
		}

		if len(data) < minImageSize {
			break
		}
		if len(data) == placeholderSize {
			// Placeholder sentinel: no photo in this or any later slot.
			break
		}

		sum := md5.Sum(data)
		hash := hex.EncodeToString(sum[:])
		if _, dup := seenHashes[hash]; dup {
			continue
		}
		seenHashes[hash] = struct{}{}
		photoURLs = append(photoURLs, photoURL)

		if !sleepCtx(ctx, c.slotDelay) {
			break
		}
	}

	if len(photoURLs) > 0 {
		sleepCtx(ctx, c.personDelay)
	}
	return photoURLs
}

// downloadWithRetry fetches a URL, retrying transient failures with
// exponential backoff (base delay doubling per attempt) up to the retry
// ceiling. Non-2xx statuses count as transient.
func (c *Collector) downloadWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoffBase << (attempt - 1)
			if !sleepCtx(ctx, wait) {
				return nil, ctx.Err()
			}
		}

		data, err := c.download(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (c *Collector) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	// The source serves browser sessions only; plain client requests 403.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("Referer", "https://www.safe182.go.kr/")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("photo endpoint HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
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
