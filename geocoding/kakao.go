package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/safemap/safemap_backend/config"
)

const (
	addressPath = "/v2/local/search/address.json"
	keywordPath = "/v2/local/search/keyword.json"

	// Kakao allows at most 10 requests started within any rolling second.
	requestsPerWindow = 10
	windowLength      = time.Second
)

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// KakaoGeocoder converts free-text addresses into coordinates. The cache and
// the rate-limit window are per-instance state; construct one per process and
// pass it by reference wherever geocoding is needed.
type KakaoGeocoder struct {
	apiKey  string
	baseURL string
	http    *http.Client

	mu     sync.Mutex
	cache  map[string]*Coordinates
	starts []time.Time
}

func NewKakaoGeocoder(apiKey string) (*KakaoGeocoder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("kakao rest api key is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("KAKAO_API_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://dapi.kakao.com"
	}
	return &KakaoGeocoder{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		cache:   make(map[string]*Coordinates),
	}, nil
}

// Geocode resolves an address to coordinates, or nil when the address is
// empty, unresolvable or the lookup fails. Lookup errors are logged, never
// propagated. Successful results are cached by exact address string for the
// geocoder's lifetime.
func (g *KakaoGeocoder) Geocode(ctx context.Context, address string) *Coordinates {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil
	}

	g.mu.Lock()
	if cached, ok := g.cache[address]; ok {
		g.mu.Unlock()
		return cached
	}
	g.mu.Unlock()

	coords, err := g.lookupAddress(ctx, address)
	if err != nil {
		config.LogError(config.GetLogger(), "geocoding", "Geocode", address, nil, err)
		return nil
	}
	if coords == nil {
		// Structured lookup came back empty; try the keyword/POI index.
		coords, err = g.lookupKeyword(ctx, address)
		if err != nil {
			config.LogError(config.GetLogger(), "geocoding", "Geocode", address, nil, err)
			return nil
		}
	}
	if coords == nil {
		return nil
	}

	g.mu.Lock()
	g.cache[address] = coords
	g.mu.Unlock()
	return coords
}

// CacheSize reports how many addresses have been resolved and cached.
func (g *KakaoGeocoder) CacheSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cache)
}

type kakaoAddressDoc struct {
	RoadAddress *kakaoPoint `json:"road_address"`
	Address     *kakaoPoint `json:"address"`
}

type kakaoPoint struct {
	X string `json:"x"`
	Y string `json:"y"`
}

type kakaoKeywordDoc struct {
	X string `json:"x"`
	Y string `json:"y"`
}

func (g *KakaoGeocoder) lookupAddress(ctx context.Context, address string) (*Coordinates, error) {
	body, err := g.get(ctx, addressPath, address)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Documents []kakaoAddressDoc `json:"documents"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Documents) == 0 {
		return nil, nil
	}

	first := parsed.Documents[0]
	// Road-address match wins over the lot-address match when both exist.
	point := first.RoadAddress
	if point == nil {
		point = first.Address
	}
	if point == nil {
		return nil, nil
	}
	return pointToCoordinates(point.X, point.Y)
}

func (g *KakaoGeocoder) lookupKeyword(ctx context.Context, address string) (*Coordinates, error) {
	body, err := g.get(ctx, keywordPath, address)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Documents []kakaoKeywordDoc `json:"documents"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Documents) == 0 {
		return nil, nil
	}
	return pointToCoordinates(parsed.Documents[0].X, parsed.Documents[0].Y)
}

func (g *KakaoGeocoder) get(ctx context.Context, path string, query string) ([]byte, error) {
	if err := g.throttle(ctx); err != nil {
		return nil, err
	}

	endpoint := g.baseURL + path + "?" + url.Values{"query": {query}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "KakaoAK "+g.apiKey)

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kakao api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// throttle blocks until starting another request keeps at most
// requestsPerWindow starts within the rolling window.
func (g *KakaoGeocoder) throttle(ctx context.Context) error {
	for {
		g.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-windowLength)
		kept := g.starts[:0]
		for _, t := range g.starts {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		g.starts = kept

		if len(g.starts) < requestsPerWindow {
			g.starts = append(g.starts, now)
			g.mu.Unlock()
			return nil
		}

		wait := g.starts[0].Add(windowLength).Sub(now)
		g.mu.Unlock()

		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func pointToCoordinates(x string, y string) (*Coordinates, error) {
	lon, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q: %v", x, err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(y), 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q: %v", y, err)
	}
	return &Coordinates{Latitude: lat, Longitude: lon}, nil
}
