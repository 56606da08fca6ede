package safedream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("SAFE_DREAM_BASE_URL", srv.URL)

	client, err := NewClient("test-key", "")
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestFetchPageRequestShape(t *testing.T) {
	var gotPath, gotBody, gotContentType string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"totalCount": 1, "list": [{"msspsnIdntfccd": "a1"}]}`))
	})

	result, err := client.FetchPage(context.Background(), 100, 2)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if result.TotalCount != 1 || len(result.Records) != 1 {
		t.Errorf("result = %+v, want totalCount 1 and one record", result)
	}

	if gotPath != "/api/lcm/findChildList.do" {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.HasPrefix(gotContentType, "application/x-www-form-urlencoded") {
		t.Errorf("content type = %q", gotContentType)
	}
	for _, want := range []string{
		"authKey=test-key",
		"esntlId=10000855",
		"rowSize=100",
		"page=2",
	} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("body missing %q: %s", want, gotBody)
		}
	}
	if strings.Count(gotBody, "writngTrgetDscds=") != 3 {
		t.Errorf("expected the three category codes repeated, body: %s", gotBody)
	}
	for _, code := range []string{"writngTrgetDscds=010", "writngTrgetDscds=060", "writngTrgetDscds=070"} {
		if !strings.Contains(gotBody, code) {
			t.Errorf("body missing %q", code)
		}
	}
}

func TestFetchPageRejectsMissingKeys(t *testing.T) {
	// HTTP 200 with an error body must still fail: success requires both
	// totalCount and list keys.
	cases := map[string]string{
		"error message only": `{"msg": "인증키가 유효하지 않습니다"}`,
		"totalCount only":    `{"totalCount": 10}`,
		"list only":          `{"list": []}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(payload))
			})

			_, err := client.FetchPage(context.Background(), 100, 1)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !errors.Is(err, ErrUpstream) {
				t.Errorf("error %v does not wrap ErrUpstream", err)
			}
		})
	}
}

func TestFetchPageEmptyListIsSuccess(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalCount": 0, "list": []}`))
	})

	result, err := client.FetchPage(context.Background(), 100, 1)
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if result.TotalCount != 0 || len(result.Records) != 0 {
		t.Errorf("result = %+v, want empty success", result)
	}
}

func TestFetchPageNonSuccessStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})

	_, err := client.FetchPage(context.Background(), 100, 1)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("error %v does not wrap ErrUpstream", err)
	}
}

func TestNewClientRequiresAuthKey(t *testing.T) {
	if _, err := NewClient("  ", ""); err == nil {
		t.Error("expected an error for empty auth key")
	}
}
