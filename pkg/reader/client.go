package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chanrelay/pkg/constants"

	"github.com/sirupsen/logrus"
)

// ClientConfig configures the HTTP client for the reader gateway.
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	SessionDataDir string
	Proxy          string
	NoProxy        []string
	Timeout        time.Duration
}

// HTTPClient talks to the reader gateway's REST API. The gateway owns the
// actual browser automation; one session (browser profile) per channel.
type HTTPClient struct {
	baseURL        string
	apiKey         string
	sessionDataDir string
	client         *http.Client
	logger         *logrus.Logger
}

// NewClient creates a reader gateway client. When cfg.Proxy is set, outbound
// calls go through it except for hosts in cfg.NoProxy and the gateway's own
// host, so driver-control traffic never routes through the content proxy.
func NewClient(cfg ClientConfig, logger *logrus.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("reader base URL is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultHTTPTimeoutSec * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}

		gatewayHost, err := hostOf(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid reader base URL: %w", err)
		}

		exempt := make(map[string]struct{}, len(cfg.NoProxy)+1)
		exempt[gatewayHost] = struct{}{}
		for _, h := range cfg.NoProxy {
			exempt[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
		}

		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			if _, ok := exempt[strings.ToLower(req.URL.Hostname())]; ok {
				return nil, nil
			}
			return proxyURL, nil
		}
	}

	return &HTTPClient{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		sessionDataDir: cfg.SessionDataDir,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger,
	}, nil
}

func hostOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Hostname()), nil
}

type sessionStatusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type pollResponse struct {
	Records []Record `json:"records"`
	Error   string   `json:"error,omitempty"`
}

// StartSession opens or resumes the browser session for a channel. The
// session data directory is passed along so the gateway reuses the persisted
// profile instead of forcing a fresh login.
func (c *HTTPClient) StartSession(ctx context.Context, channelID string) error {
	payload := map[string]string{
		"data_dir": c.sessionDataDir,
	}
	return c.postSession(ctx, channelID, "start", payload)
}

// RestartSession releases the session (clearing stale profile lock artifacts
// on the gateway side) and reacquires it.
func (c *HTTPClient) RestartSession(ctx context.Context, channelID string) error {
	return c.postSession(ctx, channelID, "restart", map[string]string{
		"data_dir": c.sessionDataDir,
	})
}

// StopSession releases the session without reacquiring it.
func (c *HTTPClient) StopSession(ctx context.Context, channelID string) error {
	return c.postSession(ctx, channelID, "stop", nil)
}

func (c *HTTPClient) postSession(ctx context.Context, channelID, action string, payload map[string]string) error {
	endpoint := fmt.Sprintf("%s/api/sessions/%s/%s", c.baseURL, url.PathEscape(channelID), action)

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal session payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to create session request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("session %s failed: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return ErrSessionDead
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("session %s returned status %d", action, resp.StatusCode)
	}
	return nil
}

// SessionStatus reports the gateway's view of the channel's session.
func (c *HTTPClient) SessionStatus(ctx context.Context, channelID string) (SessionStatus, error) {
	endpoint := fmt.Sprintf("%s/api/sessions/%s/status", c.baseURL, url.PathEscape(channelID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create status request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("session status failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return SessionStopped, ErrSessionDead
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("session status returned %d", resp.StatusCode)
	}

	var status sessionStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return "", fmt.Errorf("failed to decode status response: %w", err)
	}
	return SessionStatus(status.Status), nil
}

// WaitForSessionReady polls the session status until it reaches WORKING or
// the timeout elapses. FAILED and STOPPED surface as ErrSessionDead.
func (c *HTTPClient) WaitForSessionReady(ctx context.Context, channelID string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(constants.SessionStatusPollIntervalSec * time.Second)
	defer ticker.Stop()

	for {
		statusCtx, statusCancel := context.WithTimeout(waitCtx, constants.SessionStatusTimeoutSec*time.Second)
		status, err := c.SessionStatus(statusCtx, channelID)
		statusCancel()
		if err == nil {
			switch status {
			case SessionWorking:
				return nil
			case SessionFailed, SessionStopped:
				return ErrSessionDead
			}
		} else if err == ErrSessionDead {
			return err
		}

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("session for channel %s not ready within %s", channelID, timeout)
		case <-ticker.C:
		}
	}
}

// Poll fetches records newer than afterID in source order. An empty afterID
// requests the channel's current visible backlog.
func (c *HTTPClient) Poll(ctx context.Context, channelID, afterID string, limit int) ([]Record, error) {
	if len(channelID) == 0 || len(channelID) > constants.MaxChannelIDLength {
		return nil, fmt.Errorf("invalid channel id length: %d", len(channelID))
	}
	if len(afterID) > constants.MaxMessageIDLength {
		return nil, fmt.Errorf("invalid after id length: %d", len(afterID))
	}
	endpoint := fmt.Sprintf("%s/api/channels/%s/messages", c.baseURL, url.PathEscape(channelID))

	q := url.Values{}
	if afterID != "" {
		q.Set("after", afterID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return nil, ErrSessionDead
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("poll returned status %d", resp.StatusCode)
	}

	var result pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode poll response: %w", err)
	}
	return result.Records, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}
