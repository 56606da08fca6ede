package safedream

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
	"time"
)

const defaultEsntlId = "10000855"

// Target category codes requested from the listing endpoint
// (missing children, disabled persons, dementia patients).
var defaultTargetCodes = []string{"010", "060", "070"}

// ErrUpstream marks failures of the listing endpoint: transport errors,
// non-2xx statuses and payloads missing the expected keys. The client never
// retries; retry policy belongs to the caller.
var ErrUpstream = errors.New("upstream listing error")

type Client struct {
	baseURL     string
	authKey     string
	esntlId     string
	targetCodes []string
	http        *http.Client
}

func NewClient(authKey string, esntlId string) (*Client, error) {
	if strings.TrimSpace(authKey) == "" {
		return nil, errors.New("safe dream auth key is empty")
	}
	baseURL := strings.TrimSpace(os.Getenv("SAFE_DREAM_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://www.safe182.go.kr"
	}
	if strings.TrimSpace(esntlId) == "" {
		esntlId = defaultEsntlId
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		authKey:     authKey,
		esntlId:     esntlId,
		targetCodes: defaultTargetCodes,
		http:        &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type listResponse struct {
	TotalCount *int         `json:"totalCount"`
	List       *[]RawPerson `json:"list"`
	Msg        string       `json:"msg"`
}

// FetchPage retrieves one page of the upstream listing. Success requires both
// the totalCount and list keys in the payload, regardless of HTTP status.
func (c *Client) FetchPage(ctx context.Context, rowSize int, pageNum int) (*PageResult, error) {
	params := url.Values{}
	params.Set("esntlId", c.esntlId)
	params.Set("authKey", c.authKey)
	params.Set("rowSize", strconv.Itoa(rowSize))
	params.Set("page", strconv.Itoa(pageNum))
	params.Set("sexdstnDscd", "")
	params.Set("nm", "")
	params.Set("detailDate1", "")
	params.Set("detailDate2", "")
	params.Set("age1", "")
	params.Set("age2", "")
	params.Set("etcSpfeatr", "")
	params.Set("occrAdres", "")
	params.Set("xmlUseYN", "")

	// The endpoint expects the category codes repeated, not comma joined.
	bodyParts := []string{params.Encode()}
	for _, code := range c.targetCodes {
		bodyParts = append(bodyParts, "writngTrgetDscds="+code)
	}
	body := strings.Join(bodyParts, "&")

	endpoint := c.baseURL + "/api/lcm/findChildList.do"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
	}

	var parsed listResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrUpstream, err)
	}
	if parsed.TotalCount == nil || parsed.List == nil {
		return nil, fmt.Errorf("%w: unexpected response shape (msg=%q)", ErrUpstream, parsed.Msg)
	}

	return &PageResult{
		TotalCount: *parsed.TotalCount,
		Records:    *parsed.List,
	}, nil
}
