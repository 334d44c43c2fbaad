package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantarc/quantarc/internal/config"
	"github.com/quantarc/quantarc/internal/ratelimit"
)

type pageResponse struct {
	code  int
	msg   string
	items [][]any
}

// scriptedServer replays one canned response per request, repeating the last
// one when the script runs out. The decoded requests are captured.
func scriptedServer(t *testing.T, script []pageResponse, requests *[]apiRequest) *httptest.Server {
	t.Helper()
	call := 0
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req apiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*requests = append(*requests, req)

		resp := script[len(script)-1]
		if call < len(script) {
			resp = script[call]
		}
		call++

		out := map[string]any{
			"code": resp.code,
			"msg":  resp.msg,
			"data": map[string]any{
				"fields": []string{"ts_code", "close"},
				"items":  resp.items,
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(out))
	}))
}

func testClient(t *testing.T, url string) (*Client, *config.LimitStore) {
	t.Helper()
	limits, err := config.NewLimitStore(filepath.Join(t.TempDir(), "limitmax.yaml"))
	require.NoError(t, err)
	cfg := config.Config{
		APIURL:     url,
		Token:      "test-token",
		RetryCount: 3,
		RetryDelay: time.Millisecond,
	}
	return NewClient(cfg, ratelimit.NewGate(60000), limits), limits
}

func rows(n int, prefix string) [][]any {
	items := make([][]any, n)
	for i := range items {
		items[i] = []any{prefix + strconv.Itoa(i), float64(i)}
	}
	return items
}

func TestResolvePrefersVIPEndpoint(t *testing.T) {
	ep, err := Resolve("income")
	require.NoError(t, err)
	assert.Equal(t, "income_vip", ep.APIName)
	assert.Equal(t, "income", ep.DataType)

	ep, err = Resolve("daily")
	require.NoError(t, err)
	assert.Equal(t, "daily", ep.APIName)

	_, err = Resolve("no_such_endpoint")
	assert.Error(t, err)
}

func TestCallDecodesTabularPayload(t *testing.T) {
	var requests []apiRequest
	srv := scriptedServer(t, []pageResponse{{items: [][]any{{"000001.SZ", 10.5}, {"600000.SH", nil}}}}, &requests)
	defer srv.Close()
	c, _ := testClient(t, srv.URL)

	ep, err := Resolve("trade_cal")
	require.NoError(t, err)
	fr, status := c.Call(context.Background(), ep, map[string]string{"start_date": "20260101"})

	assert.Equal(t, StatusSuccess, status)
	require.Equal(t, 2, fr.RowCount())
	assert.Equal(t, []string{"ts_code", "close"}, fr.Columns)
	assert.Equal(t, "000001.SZ", fr.Rows[0]["ts_code"])
	assert.Nil(t, fr.Rows[1]["close"])

	require.Len(t, requests, 1)
	assert.Equal(t, "trade_cal", requests[0].APIName)
	assert.Equal(t, "test-token", requests[0].Token)
	assert.Equal(t, "20260101", requests[0].Params["start_date"])
}

func TestCallPaginatesOnFullPages(t *testing.T) {
	var requests []apiRequest
	srv := scriptedServer(t, []pageResponse{
		{items: rows(3, "a")},
		{items: rows(3, "b")},
		{items: rows(1, "c")},
	}, &requests)
	defer srv.Close()
	c, _ := testClient(t, srv.URL)

	ep := Endpoint{DataType: "daily", APIName: "daily", Spec: Spec{Paginated: true, LimitMax: 3}}
	fr, status := c.Call(context.Background(), ep, map[string]string{"trade_date": "20260820"})

	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, 7, fr.RowCount())

	require.Len(t, requests, 3)
	assert.Equal(t, "0", requests[0].Params["offset"])
	assert.Equal(t, "3", requests[1].Params["offset"])
	assert.Equal(t, "6", requests[2].Params["offset"])
	for _, req := range requests {
		assert.Equal(t, "3", req.Params["limit"])
		assert.Equal(t, "20260820", req.Params["trade_date"])
	}
}

func TestCallDiscoversLargerLimitmax(t *testing.T) {
	var requests []apiRequest
	srv := scriptedServer(t, []pageResponse{
		{items: rows(5, "a")}, // more than the configured cap of 3
		{items: rows(2, "b")},
	}, &requests)
	defer srv.Close()
	c, limits := testClient(t, srv.URL)

	ep := Endpoint{DataType: "daily", APIName: "daily", Spec: Spec{Paginated: true, LimitMax: 3}}
	fr, status := c.Call(context.Background(), ep, nil)

	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, 7, fr.RowCount())

	require.Len(t, requests, 2)
	assert.Equal(t, "5", requests[1].Params["offset"], "the observed page size drives the next offset")
	assert.Equal(t, "5", requests[1].Params["limit"])
	assert.Equal(t, 5, limits.Get("daily", 3), "the discovered cap must be remembered")
}

func TestCallDeduplicatesOverlappingPages(t *testing.T) {
	// Overlap of 1: the second page repeats the last row of the first.
	var requests []apiRequest
	srv := scriptedServer(t, []pageResponse{
		{items: [][]any{{"a", 1.0}, {"b", 2.0}, {"c", 3.0}}},
		{items: [][]any{{"c", 3.0}, {"d", 4.0}}},
	}, &requests)
	defer srv.Close()
	c, _ := testClient(t, srv.URL)

	ep := Endpoint{DataType: "income", APIName: "income_vip", Spec: Spec{Paginated: true, LimitMax: 3, OverlapRows: 1}}
	fr, status := c.Call(context.Background(), ep, nil)

	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, 4, fr.RowCount(), "the overlapped row must appear once")

	require.Len(t, requests, 2)
	assert.Equal(t, "2", requests[1].Params["offset"], "offset advances short of the page size")
}

func TestCallReturnsErrorStatusAfterExhaustedRetries(t *testing.T) {
	var requests []apiRequest
	srv := scriptedServer(t, []pageResponse{{code: 2002, msg: "permission denied"}}, &requests)
	defer srv.Close()
	c, _ := testClient(t, srv.URL)

	ep, err := Resolve("trade_cal")
	require.NoError(t, err)
	fr, status := c.Call(context.Background(), ep, nil)

	assert.Equal(t, StatusError, status)
	assert.True(t, fr.Empty())
	assert.Len(t, requests, 3, "every configured attempt is spent before giving up")
}

func TestCallExpectDataRefetchesSuspiciousEmpty(t *testing.T) {
	var requests []apiRequest
	srv := scriptedServer(t, []pageResponse{
		{items: nil},
		{items: rows(2, "a")},
	}, &requests)
	defer srv.Close()
	c, _ := testClient(t, srv.URL)

	ep, err := Resolve("trade_cal")
	require.NoError(t, err)
	fr, status := c.CallExpectData(context.Background(), ep, nil)

	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, 2, fr.RowCount())
	assert.Len(t, requests, 2)
}

func TestCallExpectDataAcceptsPersistentEmpty(t *testing.T) {
	var requests []apiRequest
	srv := scriptedServer(t, []pageResponse{{items: nil}}, &requests)
	defer srv.Close()
	c, _ := testClient(t, srv.URL)

	ep, err := Resolve("trade_cal")
	require.NoError(t, err)
	fr, status := c.CallExpectData(context.Background(), ep, nil)

	assert.Equal(t, StatusSuccess, status)
	assert.True(t, fr.Empty(), "a consistently empty response is accepted as ground truth")
	assert.Len(t, requests, 3)
}
