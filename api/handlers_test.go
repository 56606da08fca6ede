package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newListRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/missing-persons", ListMissingPersonsHandler())
	return r
}

func listStatus(t *testing.T, query string) int {
	t.Helper()
	router := newListRouter()
	req := httptest.NewRequest(http.MethodGet, "/missing-persons"+query, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestListRejectsInvalidStatus(t *testing.T) {
	if code := listStatus(t, "?status=vanished"); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestListRejectsInvalidDays(t *testing.T) {
	for _, q := range []string{"?days=abc", "?days=0", "?days=-3"} {
		if code := listStatus(t, q); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, code)
		}
	}
}

func TestListRejectsBadDateRange(t *testing.T) {
	cases := []string{
		"?start_date=2024-01-01",                          // end missing
		"?end_date=2024-01-31",                            // start missing
		"?start_date=bogus&end_date=2024-01-31",           // unparseable start
		"?start_date=2024-01-01&end_date=31/01/2024",      // unparseable end
		"?start_date=2024-02-01&end_date=2024-01-01",      // inverted range
	}
	for _, q := range cases {
		if code := listStatus(t, q); code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, code)
		}
	}
}

func TestStatsRejectsInvalidPeriod(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/stats", StatsHandler())

	for _, q := range []string{"?days=0", "?days=400"} {
		req := httptest.NewRequest(http.MethodGet, "/stats"+q, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestGetMissingPersonRequiresId(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/missing-persons/:externalId", GetMissingPersonHandler())

	req := httptest.NewRequest(http.MethodGet, "/missing-persons/%20", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
