package ws

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// DefaultBaseURL is the default Kalshi WebSocket endpoint.
	DefaultBaseURL = "wss://api.elections.kalshi.com/trade-api/ws/v2"

	// DefaultPingInterval is the default interval for sending ping frames.
	DefaultPingInterval = 10 * time.Second

	// DefaultReconnectDelay is the default delay before reconnecting.
	DefaultReconnectDelay = 5 * time.Second
)

var (
	// ErrNotConnected is returned when an operation requires an active connection.
	ErrNotConnected = errors.New("websocket: not connected")

	// ErrAlreadyConnected is returned when Connect is called on an active connection.
	ErrAlreadyConnected = errors.New("websocket: already connected")
)

// UpdateHandler is a callback for ticker price updates.
type UpdateHandler func(update *TickerUpdate)

// Feed streams ticker updates for a set of markets. The position
// supervisor uses it for fresh bids between REST polls.
type Feed struct {
	opts    Options
	handler UpdateHandler

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	msgID   atomic.Int64
	tickers []string
}

// Options configures the feed.
type Options struct {
	// BaseURL is the WebSocket server URL.
	BaseURL string

	// APIKey is the API key ID. The ticker channel is public, but Kalshi
	// grants authenticated connections higher message limits.
	APIKey string

	// PrivateKey is the parsed RSA private key for signing the handshake.
	PrivateKey *rsa.PrivateKey

	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration

	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay time.Duration

	// OnError is called when a read or parse error occurs.
	OnError func(err error)
}

// Option configures the feed.
type Option func(*Options)

// WithBaseURL sets the WebSocket server URL.
func WithBaseURL(url string) Option {
	return func(o *Options) { o.BaseURL = url }
}

// WithCredentials sets the API key and private key for the handshake.
func WithCredentials(apiKey string, privateKey *rsa.PrivateKey) Option {
	return func(o *Options) {
		o.APIKey = apiKey
		o.PrivateKey = privateKey
	}
}

// WithPingInterval sets the ping interval.
func WithPingInterval(interval time.Duration) Option {
	return func(o *Options) { o.PingInterval = interval }
}

// WithErrorHandler sets the error callback.
func WithErrorHandler(fn func(error)) Option {
	return func(o *Options) { o.OnError = fn }
}

// NewFeed creates a ticker feed delivering updates to handler.
func NewFeed(handler UpdateHandler, opts ...Option) *Feed {
	options := Options{
		BaseURL:        DefaultBaseURL,
		PingInterval:   DefaultPingInterval,
		ReconnectDelay: DefaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Feed{opts: options, handler: handler}
}

// Connect establishes the WebSocket connection and subscribes to the
// ticker channel for the given markets.
func (f *Feed) Connect(ctx context.Context, marketTickers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn != nil {
		return ErrAlreadyConnected
	}

	header := http.Header{}
	if f.opts.APIKey != "" && f.opts.PrivateKey != nil {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		sig, err := GenerateSignature(f.opts.PrivateKey, ts, "GET", "/trade-api/ws/v2")
		if err != nil {
			return fmt.Errorf("generate signature: %w", err)
		}
		header.Set("KALSHI-ACCESS-KEY", f.opts.APIKey)
		header.Set("KALSHI-ACCESS-SIGNATURE", sig)
		header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.opts.BaseURL, header)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	f.conn = conn
	f.done = make(chan struct{})
	f.tickers = append([]string(nil), marketTickers...)

	if err := f.subscribeLocked(f.tickers); err != nil {
		conn.Close()
		f.conn = nil
		return err
	}

	go f.readLoop(conn, f.done)
	go f.pingLoop(conn, f.done)

	return nil
}

// Watch replaces the set of watched markets with a fresh subscription.
func (f *Feed) Watch(marketTickers []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return ErrNotConnected
	}
	f.tickers = append([]string(nil), marketTickers...)
	return f.subscribeLocked(f.tickers)
}

// Close closes the WebSocket connection.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.conn == nil {
		return nil
	}
	close(f.done)

	// Best effort close frame.
	_ = f.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)

	err := f.conn.Close()
	f.conn = nil
	if err != nil {
		return fmt.Errorf("websocket close: %w", err)
	}
	return nil
}

// IsConnected returns true if the feed is connected.
func (f *Feed) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn != nil
}

func (f *Feed) subscribeLocked(marketTickers []string) error {
	if len(marketTickers) == 0 {
		return nil
	}

	params, err := json.Marshal(SubscribeParams{
		Channels:      []string{ChannelTicker},
		MarketTickers: marketTickers,
	})
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	req := Request{
		ID:     f.msgID.Add(1),
		Cmd:    CommandSubscribe,
		Params: params,
	}
	if err := f.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

func (f *Feed) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			f.reportError(err)
			return
		}

		resp, err := ParseResponse(message)
		if err != nil {
			f.reportError(fmt.Errorf("parse response: %w", err))
			continue
		}

		switch resp.Type {
		case MessageTypeTicker:
			update, err := ParseTickerUpdate(resp.Msg)
			if err != nil {
				f.reportError(fmt.Errorf("parse ticker: %w", err))
				continue
			}
			if f.handler != nil {
				f.handler(update)
			}
		case MessageTypeError:
			if errMsg, err := ParseErrorMsg(resp.Msg); err == nil {
				f.reportError(fmt.Errorf("feed error %d: %s", errMsg.Code, errMsg.Msg))
			}
		}
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(f.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			f.mu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			f.mu.Unlock()
			if err != nil {
				f.reportError(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (f *Feed) reportError(err error) {
	if f.opts.OnError != nil {
		f.opts.OnError(err)
	}
}
