package rest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func TestRequest_SetsAuthHeaders(t *testing.T) {
	var gotKey, gotTS, gotSig string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("KALSHI-ACCESS-KEY")
		gotTS = r.Header.Get("KALSHI-ACCESS-TIMESTAMP")
		gotSig = r.Header.Get("KALSHI-ACCESS-SIGNATURE")
		json.NewEncoder(w).Encode(map[string]any{"balance": 10000})
	}))
	defer srv.Close()

	c := New("key-id", testKey(t), WithBaseURL(srv.URL))

	bal, err := c.GetBalance()
	require.NoError(t, err)
	require.Equal(t, 10000, bal.Balance)

	require.Equal(t, "key-id", gotKey)
	require.NotEmpty(t, gotTS)
	require.NotEmpty(t, gotSig)
}

func TestRequest_ErrorBodyTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(strings.Repeat("x", 2000)))
	}))
	defer srv.Close()

	c := New("key-id", testKey(t), WithBaseURL(srv.URL))

	_, err := c.Get("/markets")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	require.Len(t, apiErr.Message, 500)
}

func TestRequest_RetriesOnceOnServerError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"balance": 500})
	}))
	defer srv.Close()

	c := New("key-id", testKey(t), WithBaseURL(srv.URL))

	bal, err := c.GetBalance()
	require.NoError(t, err)
	require.Equal(t, 500, bal.Balance)
	require.Equal(t, 2, calls)
}

func TestRequest_NoRetryOnClientError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"forbidden","message":"denied"}}`))
	}))
	defer srv.Close()

	c := New("key-id", testKey(t), WithBaseURL(srv.URL))

	_, err := c.Get("/markets")
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestRequest_StructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":"missing_parameters","message":"bad order"}}`))
	}))
	defer srv.Close()

	c := New("key-id", testKey(t), WithBaseURL(srv.URL))

	_, err := c.Get("/portfolio/balance")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "missing_parameters", apiErr.Code)
	require.Equal(t, "bad order", apiErr.Message)
	require.Contains(t, apiErr.Error(), "missing_parameters")
}

func TestThrottle_SpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"markets":[]}`))
	}))
	defer srv.Close()

	c := New("key-id", testKey(t), WithBaseURL(srv.URL))

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.GetMarkets("KXHIGHNY-26FEB15")
		require.NoError(t, err)
	}
	// Three requests require at least two full gaps.
	require.GreaterOrEqual(t, time.Since(start), 2*minRequestGap)
}

func TestMarketsParams_Encode(t *testing.T) {
	tests := []struct {
		name   string
		params MarketsParams
		want   string
	}{
		{"empty", MarketsParams{}, ""},
		{"event", MarketsParams{EventTicker: "KXHIGHNY-26FEB15"}, "?event_ticker=KXHIGHNY-26FEB15"},
		{
			"settled page",
			MarketsParams{SeriesTicker: "KXHIGHNY", Status: "settled", Limit: 200, Cursor: "abc"},
			"?cursor=abc&limit=200&series_ticker=KXHIGHNY&status=settled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.params.encode())
		})
	}
}

func TestCreateOrder_GeneratesClientOrderID(t *testing.T) {
	var got CreateOrderRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(CreateOrderResponse{Order: Order{OrderID: "o1", ClientOrderID: got.ClientOrderID}})
	}))
	defer srv.Close()

	c := New("key-id", testKey(t), WithBaseURL(srv.URL))

	order, err := c.CreateOrder(&CreateOrderRequest{
		Ticker: "KXHIGHNY-26FEB15-B36.5",
		Action: OrderActionBuy,
		Side:   SideNo,
		Type:   OrderTypeLimit,
		Count:  5,
	})
	require.NoError(t, err)
	require.NotEmpty(t, got.ClientOrderID)
	require.Equal(t, got.ClientOrderID, order.ClientOrderID)
}

func TestSignPath_StripsQuery(t *testing.T) {
	// The server cannot see the signed path directly, but a request with a
	// query string must still round-trip. This guards the strip logic from
	// panics on paths without "?" as well.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "settled", r.URL.Query().Get("status"))
		w.Write([]byte(`{"markets":[],"cursor":""}`))
	}))
	defer srv.Close()

	c := New("key-id", testKey(t), WithBaseURL(srv.URL))

	resp, err := c.GetMarketsPage(MarketsParams{Status: "settled"})
	require.NoError(t, err)
	require.Empty(t, resp.Cursor)
}
