// Package backend talks to the research service over HTTP.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const defaultTimeout = 30 * time.Second

// ErrUnauthorized is returned when the backend rejects the bearer token.
var ErrUnauthorized = errors.New("authentication required")

// HTTPError is any other non-2xx response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// Client is the research service client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	validate   *validator.Validate
}

// Option customises a Client.
type Option func(*Client)

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the normalised base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the configured bearer token, empty when none.
func (c *Client) Token() string { return c.token }

// NormalizeURL prefixes https:// when the URL has no scheme.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// Submit starts a research job and returns its id.
func (c *Client) Submit(ctx context.Context, req Request) (string, error) {
	req.Company = strings.TrimSpace(req.Company)
	req.CompanyURL = NormalizeURL(req.CompanyURL)
	if err := c.validate.Struct(req); err != nil {
		return "", fmt.Errorf("invalid request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/research", req)
	if err != nil {
		return "", err
	}
	var out submitResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", fmt.Errorf("submitting research: %w", err)
	}
	if out.JobID == "" {
		return "", errors.New("submitting research: response has no job_id")
	}
	return out.JobID, nil
}

// Status fetches the current status document of a job.
func (c *Client) Status(ctx context.Context, jobID string) (StatusDocument, error) {
	resp, err := c.do(ctx, http.MethodGet, "/research/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return StatusDocument{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return StatusDocument{}, fmt.Errorf("fetching status: %w", err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusDocument{}, fmt.Errorf("reading status: %w", err)
	}
	doc := StatusDocument{Raw: raw}
	if err := json.Unmarshal(raw, &doc.StatusEvent); err != nil {
		return StatusDocument{}, fmt.Errorf("decoding status: %w", err)
	}
	return doc, nil
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return Health{}, err
	}
	var h Health
	if err := decodeJSON(resp, &h); err != nil {
		return Health{}, fmt.Errorf("checking health: %w", err)
	}
	return h, nil
}

// ChannelURL returns the push-channel URL for a job, switching http(s) to
// ws(s).
func (c *Client) ChannelURL(jobID string) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/research/ws/" + url.PathEscape(jobID)
}

// AuthHeader returns the headers to attach to the push-channel handshake.
func (c *Client) AuthHeader() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend not reachable at %s: %w", c.baseURL, err)
	}
	return resp, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return &HTTPError{StatusCode: resp.StatusCode}
	}
	return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
