package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// PersonalSender delivers messages to a named contact through the personal
// relay REST API (one logged-in relay account forwarding to a human contact).
type PersonalSender struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logrus.Logger
}

type personalSendRequest struct {
	Contact string `json:"contact"`
	Body    string `json:"body"`
}

type personalSendResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type personalStatusResponse struct {
	LoggedIn bool   `json:"logged_in"`
	Account  string `json:"account,omitempty"`
}

func NewPersonalSender(baseURL, apiKey string, timeout time.Duration, logger *logrus.Logger) *PersonalSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &PersonalSender{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (s *PersonalSender) Kind() string {
	return "personal-relay"
}

// Deliver sends the payload body to the contact named by target.
func (s *PersonalSender) Deliver(ctx context.Context, payload Payload, target string) error {
	if target == "" {
		return Permanent(fmt.Errorf("empty contact name"))
	}

	data, err := json.Marshal(personalSendRequest{Contact: target, Body: payload.Body})
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal relay payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v1/messages", bytes.NewReader(data))
	if err != nil {
		return Permanent(fmt.Errorf("failed to create relay request: %w", err))
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return Permanent(fmt.Errorf("contact %q not found", target))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Permanent(fmt.Errorf("relay credentials rejected (status %d)", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Permanent(fmt.Errorf("relay returned status %d", resp.StatusCode))
	}

	var result personalSendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode relay response: %w", err)
	}
	if result.Status != "sent" {
		return fmt.Errorf("relay reported status %q: %s", result.Status, result.Error)
	}
	return nil
}

// Verify checks that the relay account is logged in.
func (s *PersonalSender) Verify(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/v1/status", nil)
	if err != nil {
		return fmt.Errorf("failed to create status request: %w", err)
	}
	s.setHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("relay status returned %d", resp.StatusCode)
	}

	var status personalStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode relay status: %w", err)
	}
	if !status.LoggedIn {
		return fmt.Errorf("relay account is not logged in")
	}

	s.logger.WithField("account", status.Account).Info("Personal relay verified")
	return nil
}

func (s *PersonalSender) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}
}
