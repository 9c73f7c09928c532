// Package client implements the exploit-side of the farm: the wave
// scheduler that runs one exploit against every opposing team each tick,
// the flag uploader, and the HTTP client talking to the farm server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"time"
)

// uploadTimeout bounds every flag upload and config fetch.
const uploadTimeout = 10 * time.Second

// Token is one captured flag with its capture timestamp, as uploaded to
// the ingest API.
type Token struct {
	Flag string `json:"flag"`
	TS   int64  `json:"ts"`
}

// RemoteConfig is the shared game configuration served by the farm
// server.
type RemoteConfig struct {
	FlagFormat   string   `json:"flagFormat"`
	FlagLifetime int      `json:"flagLifetime"`
	TickDuration int      `json:"tickDuration"`
	Teams        []string `json:"teams"`
}

// Client is the authenticated HTTP client for the farm server. The
// session cookie from /api/auth lives in the jar.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient normalizes the server URL (a bare host gets http://) and
// prepares a cookie-carrying client.
func NewClient(serverURL string) (*Client, error) {
	if !strings.Contains(serverURL, "://") {
		serverURL = "http://" + serverURL
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		http:    &http.Client{Jar: jar},
	}, nil
}

// Authenticate obtains a session cookie. A wrong password is fatal for
// the caller.
func (c *Client) Authenticate(ctx context.Context, password string) error {
	body, _ := json.Marshal(map[string]string{"password": password})
	resp, err := c.do(ctx, http.MethodPost, "/api/auth", body)
	if err != nil {
		return fmt.Errorf("could not communicate with the farm server: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authentication failed: is the server password correct?")
	}
	return nil
}

// FetchConfig retrieves the shared game configuration.
func (c *Client) FetchConfig(ctx context.Context) (*RemoteConfig, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/config", nil)
	if err != nil {
		return nil, fmt.Errorf("could not retrieve configuration: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("config request returned %s", resp.Status)
	}
	var cfg RemoteConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("could not decode configuration JSON: %w", err)
	}
	return &cfg, nil
}

// SendFlags uploads tokens under the exploit's name. A nil error means
// the server stored (or deduplicated) every token and the caller may
// clear its buffer.
func (c *Client) SendFlags(ctx context.Context, exploit string, tokens []Token) error {
	body, err := json.Marshal(tokens)
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, http.MethodPost, "/api/flags/"+exploit, body)
	if err != nil {
		return fmt.Errorf("could not send flags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("flag upload returned %s", resp.Status)
	}
	return nil
}

// HfiTimestamp returns the server-side modification time of the helper
// binary for the platform.
func (c *Client) HfiTimestamp(ctx context.Context, goos, arch string) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/hfi/%s/%s/timestamp", goos, arch), nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("hfi timestamp returned %s", resp.Status)
	}
	var body struct {
		Timestamp int64 `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, err
	}
	return body.Timestamp, nil
}

// DownloadHfi streams the helper binary for the platform into dst,
// marking it executable.
func (c *Client) DownloadHfi(ctx context.Context, goos, arch, dst string) error {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/hfi/%s/%s", goos, arch), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hfi download returned %s", resp.Status)
	}

	tmp := dst + ".part"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	// Drain into memory before the timeout context is cancelled.
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return resp, nil
}
