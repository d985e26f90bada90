package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

// echoTickerServer accepts one connection, replies "subscribed" to the
// first subscribe command, then pushes one ticker update per subscribed
// market.
func echoTickerServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		var params SubscribeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return
		}

		sub, _ := json.Marshal(SubscribedMsg{Channel: ChannelTicker, SID: 1})
		_ = conn.WriteJSON(Response{ID: req.ID, Type: MessageTypeSubscribed, Msg: sub})

		for _, ticker := range params.MarketTickers {
			msg, _ := json.Marshal(TickerUpdate{
				MarketTicker: ticker,
				YesBid:       42,
				YesAsk:       45,
				TS:           time.Now().Unix(),
			})
			_ = conn.WriteJSON(Response{SID: 1, Type: MessageTypeTicker, Msg: msg})
		}

		// Hold the connection open until the client closes.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestFeed_DeliversTickerUpdates(t *testing.T) {
	srv := echoTickerServer(t)
	defer srv.Close()

	updates := make(chan *TickerUpdate, 4)
	feed := NewFeed(func(u *TickerUpdate) { updates <- u }, WithBaseURL(wsURL(srv)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := feed.Connect(ctx, []string{"KXHIGHNY-26FEB15-B36.5", "KXHIGHNY-26FEB15-T29"})
	require.NoError(t, err)
	defer feed.Close()

	seen := map[string]int{}
	for i := 0; i < 2; i++ {
		select {
		case u := <-updates:
			seen[u.MarketTicker] = u.YesBid
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for ticker updates")
		}
	}

	require.Equal(t, 42, seen["KXHIGHNY-26FEB15-B36.5"])
	require.Equal(t, 42, seen["KXHIGHNY-26FEB15-T29"])
}

func TestFeed_ConnectTwice(t *testing.T) {
	srv := echoTickerServer(t)
	defer srv.Close()

	feed := NewFeed(nil, WithBaseURL(wsURL(srv)))

	ctx := context.Background()
	require.NoError(t, feed.Connect(ctx, nil))
	defer feed.Close()

	require.ErrorIs(t, feed.Connect(ctx, nil), ErrAlreadyConnected)
}

func TestFeed_WatchRequiresConnection(t *testing.T) {
	feed := NewFeed(nil)
	require.ErrorIs(t, feed.Watch([]string{"X"}), ErrNotConnected)
}

func TestParseResponse_Ticker(t *testing.T) {
	raw := []byte(`{"type":"ticker","sid":7,"msg":{"market_ticker":"KXHIGHMIA-26FEB15-B80.5","price":61,"yes_bid":60,"yes_ask":62,"ts":1700000000}}`)

	resp, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Equal(t, MessageTypeTicker, resp.Type)
	require.EqualValues(t, 7, resp.SID)

	update, err := ParseTickerUpdate(resp.Msg)
	require.NoError(t, err)
	require.Equal(t, "KXHIGHMIA-26FEB15-B80.5", update.MarketTicker)
	require.Equal(t, 60, update.YesBid)
	require.Equal(t, 62, update.YesAsk)
}

func TestParseErrorMsg(t *testing.T) {
	resp, err := ParseResponse([]byte(`{"type":"error","id":2,"msg":{"code":6,"msg":"Already subscribed"}}`))
	require.NoError(t, err)

	errMsg, err := ParseErrorMsg(resp.Msg)
	require.NoError(t, err)
	require.Equal(t, 6, errMsg.Code)
	require.Equal(t, "Already subscribed", errMsg.Msg)
}
