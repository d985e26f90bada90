package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/brendanplayford/weathertrader/internal/config"
)

func captureServer(t *testing.T, status int) (*httptest.Server, *[][]byte) {
	t.Helper()
	var bodies [][]byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

func TestSlackSend(t *testing.T) {
	srv, bodies := captureServer(t, http.StatusOK)

	s := NewSlack(srv.URL)
	require.True(t, s.Enabled())
	err := s.Send(context.Background(), Message{
		Title: "Trade Executed: NYC",
		Color: ColorGood,
		Fields: []Field{
			{Title: "Price", Value: "80¢", Short: true},
		},
		Footer: "weathertrader",
	})
	require.NoError(t, err)
	require.Len(t, *bodies, 1)

	var payload slackPayload
	require.NoError(t, json.Unmarshal((*bodies)[0], &payload))
	require.Len(t, payload.Attachments, 1)
	require.Equal(t, "Trade Executed: NYC", payload.Attachments[0].Title)
	require.Equal(t, "#36a64f", payload.Attachments[0].Color)
	require.Equal(t, "80¢", payload.Attachments[0].Fields[0].Value)
}

func TestDiscordSend(t *testing.T) {
	srv, bodies := captureServer(t, http.StatusNoContent)

	d := NewDiscord(srv.URL)
	err := d.Send(context.Background(), Message{
		Title:  "Error",
		Color:  ColorBad,
		Fields: []Field{{Title: "Component", Value: "engine"}},
	})
	require.NoError(t, err)
	require.Len(t, *bodies, 1)

	var payload discordPayload
	require.NoError(t, json.Unmarshal((*bodies)[0], &payload))
	require.Len(t, payload.Embeds, 1)
	require.Equal(t, 0xe74c3c, payload.Embeds[0].Color)
	require.Equal(t, "engine", payload.Embeds[0].Fields[0].Value)
}

func TestSendErrorStatus(t *testing.T) {
	srv, _ := captureServer(t, http.StatusBadRequest)

	require.Error(t, NewSlack(srv.URL).Send(context.Background(), Message{Title: "x"}))
	require.Error(t, NewDiscord(srv.URL).Send(context.Background(), Message{Title: "x"}))
}

func TestDisabledSinksNoop(t *testing.T) {
	n := New(config.NotifyConfig{}, zerolog.Nop())
	require.False(t, n.Enabled())
	// Must not panic or attempt network calls.
	n.Notify(context.Background(), "title", "message")
	n.Error(context.Background(), "engine", "boom")
}

func TestNotifierFansOut(t *testing.T) {
	slackSrv, slackBodies := captureServer(t, http.StatusOK)
	discordSrv, discordBodies := captureServer(t, http.StatusOK)

	n := New(config.NotifyConfig{
		SlackWebhookURL:   slackSrv.URL,
		DiscordWebhookURL: discordSrv.URL,
	}, zerolog.Nop())
	require.True(t, n.Enabled())

	n.TradeAlert(context.Background(), "MIA", "KXHIGHMIA-26FEB15-B82.5", "no", 80, 2, "model")
	require.Len(t, *slackBodies, 1)
	require.Len(t, *discordBodies, 1)

	var payload slackPayload
	require.NoError(t, json.Unmarshal((*slackBodies)[0], &payload))
	require.Equal(t, "Trade Executed: MIA", payload.Attachments[0].Title)
	require.Equal(t, "$1.60", payload.Attachments[0].Fields[4].Value)
}

func TestCents(t *testing.T) {
	require.Equal(t, "$1.60", Cents(160))
	require.Equal(t, "$0.00", Cents(0))
	require.Equal(t, "-$12.34", Cents(-1234))
}
