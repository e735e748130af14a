// Package client is the Go SDK for the slidegate captcha API. It wraps
// the generate/verify endpoints for services or tools that embed the
// slider flow.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Challenge is the client view of a fresh puzzle, as served by
// GET /api/captcha/generate.
type Challenge struct {
	CaptchaID  string `json:"captchaId"`
	BgImage    string `json:"bgImage"`
	PieceImage string `json:"pieceImage"`
	Y          int    `json:"y"`
}

// Trace is the optional interaction metadata submitted with a verify
// call. Mirrors the server's advisory scorer input.
type Trace struct {
	DurationMillis int64 `json:"durationMillis,omitempty"`
	Offsets        []int `json:"offsets,omitempty"`
}

// VerifyResult is the outcome of POST /api/captcha/verify.
type VerifyResult struct {
	Success      bool   `json:"success"`
	Msg          string `json:"msg,omitempty"`
	CaptchaToken string `json:"captchaToken,omitempty"`
}

// Client talks to a slidegate server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a Client for the given server base URL
// (e.g. "https://booking.example.com").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate fetches a fresh challenge.
func (c *Client) Generate(ctx context.Context) (*Challenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/captcha/generate", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("generate", resp)
	}

	var ch Challenge
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return &ch, nil
}

// Verify submits a solved offset for the challenge.
func (c *Client) Verify(ctx context.Context, captchaID string, x int, trace *Trace) (*VerifyResult, error) {
	payload := map[string]any{
		"captchaId": captchaID,
		"x":         x,
	}
	if trace != nil {
		payload["trace"] = trace
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/captcha/verify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify challenge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apiError("verify", resp)
	}

	var result VerifyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &result, nil
}

// DecodeImage decodes a data:image/png;base64 URL into raw PNG bytes.
func DecodeImage(dataURI string) ([]byte, error) {
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(dataURI, prefix) {
		return nil, fmt.Errorf("not a PNG data URI")
	}
	return base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURI, prefix))
}

// apiError turns a non-200 response into an error carrying the
// server's message when one is present.
func apiError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return fmt.Errorf("%s: %s (HTTP %d)", op, e.Error, resp.StatusCode)
	}
	return fmt.Errorf("%s: HTTP %d", op, resp.StatusCode)
}
