// Package rest provides a REST API client for the Kalshi trading platform.
package rest

import (
	"bytes"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brendanplayford/weathertrader/pkg/ws"
)

const (
	// ProdBaseURL is the production API base URL.
	ProdBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

	// DemoBaseURL is the demo/sandbox API base URL.
	DemoBaseURL = "https://demo-api.kalshi.co/trade-api/v2"

	// minRequestGap is the minimum spacing between requests. Kalshi's
	// basic tier allows roughly 3 requests per second.
	minRequestGap = 350 * time.Millisecond

	// maxErrorBody caps how much of an error response body is kept.
	maxErrorBody = 500

	// retryWait is the pause before the single retry of a transient failure.
	retryWait = 2 * time.Second
)

// Client is a REST API client for Kalshi.
type Client struct {
	baseURL    string
	apiKey     string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	debug      bool

	mu          sync.Mutex
	lastRequest time.Time
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithDemo configures the client to use the demo environment.
func WithDemo() Option {
	return func(c *Client) {
		c.baseURL = DemoBaseURL
	}
}

// WithDebug enables debug logging.
func WithDebug() Option {
	return func(c *Client) {
		c.debug = true
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// New creates a new REST API client.
func New(apiKey string, privateKey *rsa.PrivateKey, opts ...Option) *Client {
	c := &Client{
		baseURL:    ProdBaseURL,
		apiKey:     apiKey,
		privateKey: privateKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// throttle blocks until minRequestGap has elapsed since the last request.
func (c *Client) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := minRequestGap - time.Since(c.lastRequest); wait > 0 {
		time.Sleep(wait)
	}
	c.lastRequest = time.Now()
}

// request makes an authenticated API request, retrying at most once on
// a transport error or 5xx response. Order placement stays safe to
// retry because every order carries a client-generated order ID the
// exchange dedupes on.
func (c *Client) request(method, path string, body any) ([]byte, error) {
	var data []byte
	if body != nil {
		var err error
		data, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
	}

	respBody, err := c.do(method, path, data)
	if err != nil && retryable(err) {
		time.Sleep(retryWait)
		respBody, err = c.do(method, path, data)
	}
	return respBody, err
}

func retryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// do performs one signed attempt. The signature timestamp is generated
// here so a retried attempt signs with a fresh timestamp.
func (c *Client) do(method, path string, data []byte) ([]byte, error) {
	c.throttle()

	var reqBody io.Reader
	if data != nil {
		reqBody = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	// The signature covers the full path /trade-api/v2/... with any query
	// string stripped.
	signPath := "/trade-api/v2" + path
	if i := strings.Index(signPath, "?"); i >= 0 {
		signPath = signPath[:i]
	}
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	signature, err := ws.GenerateSignature(c.privateKey, timestamp, method, signPath)
	if err != nil {
		return nil, fmt.Errorf("generate signature: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKey)
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", signature)

	if c.debug {
		fmt.Printf("[DEBUG] %s %s\n", method, url)
		fmt.Printf("[DEBUG] Sign path: %s\n", signPath)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if c.debug {
		fmt.Printf("[DEBUG] Response: %d %s\n", resp.StatusCode, string(respBody))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return nil, &APIError{
				StatusCode: resp.StatusCode,
				Code:       errResp.Error.Code,
				Message:    errResp.Error.Message,
			}
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(respBody), maxErrorBody),
		}
	}

	return respBody, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Get makes a GET request.
func (c *Client) Get(path string) ([]byte, error) {
	return c.request("GET", path, nil)
}

// Post makes a POST request.
func (c *Client) Post(path string, body any) ([]byte, error) {
	return c.request("POST", path, body)
}

// Delete makes a DELETE request.
func (c *Client) Delete(path string) ([]byte, error) {
	return c.request("DELETE", path, nil)
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError represents an API error.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("kalshi api error %d: [%s] %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("kalshi api error %d: %s", e.StatusCode, e.Message)
}
