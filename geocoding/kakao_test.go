package geocoding

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestGeocoder(t *testing.T, handler http.Handler) *KakaoGeocoder {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("KAKAO_API_BASE_URL", srv.URL)

	g, err := NewKakaoGeocoder("test-key")
	if err != nil {
		t.Fatalf("NewKakaoGeocoder failed: %v", err)
	}
	return g
}

func TestGeocodePrefersRoadAddress(t *testing.T) {
	g := newTestGeocoder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != addressPath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"documents": [{
			"road_address": {"x": "127.0276", "y": "37.4979"},
			"address": {"x": "126.0000", "y": "36.0000"}
		}]}`)
	}))

	coords := g.Geocode(context.Background(), "서울 강남구 테헤란로 152")
	if coords == nil {
		t.Fatal("expected coordinates, got nil")
	}
	if coords.Latitude != 37.4979 || coords.Longitude != 127.0276 {
		t.Errorf("coords = %+v, want road-address match", coords)
	}
}

func TestGeocodeFallsBackToLotAddress(t *testing.T) {
	g := newTestGeocoder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"documents": [{"address": {"x": "126.9780", "y": "37.5665"}}]}`)
	}))

	coords := g.Geocode(context.Background(), "서울 중구")
	if coords == nil {
		t.Fatal("expected coordinates, got nil")
	}
	if coords.Latitude != 37.5665 || coords.Longitude != 126.9780 {
		t.Errorf("coords = %+v", coords)
	}
}

func TestGeocodeKeywordFallback(t *testing.T) {
	var addressCalls, keywordCalls int32
	g := newTestGeocoder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case addressPath:
			atomic.AddInt32(&addressCalls, 1)
			fmt.Fprint(w, `{"documents": []}`)
		case keywordPath:
			atomic.AddInt32(&keywordCalls, 1)
			fmt.Fprint(w, `{"documents": [{"x": "129.0756", "y": "35.1796"}]}`)
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))

	coords := g.Geocode(context.Background(), "부산역 앞")
	if coords == nil {
		t.Fatal("expected coordinates from keyword fallback, got nil")
	}
	if coords.Latitude != 35.1796 || coords.Longitude != 129.0756 {
		t.Errorf("coords = %+v", coords)
	}
	if addressCalls != 1 || keywordCalls != 1 {
		t.Errorf("calls = address %d keyword %d, want 1/1", addressCalls, keywordCalls)
	}
}

func TestGeocodeCachesByExactAddress(t *testing.T) {
	var calls int32
	g := newTestGeocoder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"documents": [{"address": {"x": "127.0", "y": "37.0"}}]}`)
	}))

	first := g.Geocode(context.Background(), "서울시 어딘가")
	second := g.Geocode(context.Background(), "서울시 어딘가")
	if first == nil || second == nil {
		t.Fatal("expected coordinates on both calls")
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second call cached)", calls)
	}
	if g.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", g.CacheSize())
	}
	if second != first {
		t.Error("cached call should return the stored value")
	}
}

func TestGeocodeEmptyAddress(t *testing.T) {
	g := newTestGeocoder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty address")
	}))
	if coords := g.Geocode(context.Background(), "   "); coords != nil {
		t.Errorf("coords = %+v, want nil", coords)
	}
}

func TestGeocodeFailureNotCached(t *testing.T) {
	var calls int32
	g := newTestGeocoder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))

	if coords := g.Geocode(context.Background(), "주소"); coords != nil {
		t.Errorf("coords = %+v, want nil on API error", coords)
	}
	if g.CacheSize() != 0 {
		t.Errorf("cache size = %d, failures must not be cached", g.CacheSize())
	}
}

func TestThrottleEnforcesWindow(t *testing.T) {
	var calls int32
	g := newTestGeocoder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprint(w, `{"documents": [{"address": {"x": "127.0", "y": "37.0"}}]}`)
	}))

	start := time.Now()
	for i := 0; i < 15; i++ {
		// Distinct addresses so the cache never short-circuits the request.
		if coords := g.Geocode(context.Background(), fmt.Sprintf("주소 %d", i)); coords == nil {
			t.Fatalf("call %d returned nil", i)
		}
	}
	elapsed := time.Since(start)

	if calls != 15 {
		t.Fatalf("upstream calls = %d, want 15", calls)
	}
	// Ten requests fill the rolling window; the eleventh must wait until the
	// first one ages out, so the batch cannot finish inside one window.
	if elapsed < windowLength {
		t.Errorf("15 lookups finished in %v, want at least %v", elapsed, windowLength)
	}
}

func TestThrottleRespectsCancellation(t *testing.T) {
	g := newTestGeocoder(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"documents": []}`)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	// Fill the window, then cancel; the next throttle wait must return.
	for i := 0; i < requestsPerWindow; i++ {
		g.throttle(ctx)
	}
	cancel()
	if err := g.throttle(ctx); err == nil {
		t.Error("expected a context error from throttle after cancel")
	}
}
