package openmrs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/clinscribe/platform/internal/shared/errors"
)

// restPath is the OpenMRS REST module mount under the server root
const restPath = "/ws/rest/v1"

// Client is a thin REST client for an OpenMRS-compatible server.
// Credentials are sent as HTTP basic auth on every request; no token
// is cached. Retries are disabled: retry policy belongs to callers.
type Client struct {
	baseURL  string
	username string
	password string
	http     *retryablehttp.Client
	log      zerolog.Logger
}

// NewClient creates a client against baseURL, the server root the REST
// path is appended to. This is either the backend origin directly or
// the local relay mount when relay routing is configured.
func NewClient(baseURL, username, password string, timeout time.Duration, log zerolog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout

	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     rc,
		log:      log,
	}
}

// BaseURL returns the configured server root
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get issues a GET against a REST resource path, e.g. "/patient",
// with optional query values, decoding the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a JSON POST against a REST resource path
func (c *Client) Post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + restPath + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to encode request body")
		}
		payload = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, payload)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.BackendUnavailable(fmt.Sprintf("%s %s: %v", method, path, err), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg := upstreamError(resp)
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Str("error", msg).Msg("backend call failed")
		return errors.BackendUnavailable(fmt.Sprintf("%s %s: %s", method, path, msg), resp.StatusCode)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.BackendUnavailable(fmt.Sprintf("%s %s: invalid response: %v", method, path, err), resp.StatusCode)
	}
	return nil
}

// upstreamError extracts a readable message from an error response.
// OpenMRS wraps failures as {"error": {"message": ...}}.
func upstreamError(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var wrapped struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}

	text := strings.TrimSpace(string(raw))
	if text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
