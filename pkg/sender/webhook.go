package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// Rate-limit error code returned by the webhook endpoint.
	webhookErrCodeRateLimited = 45009
)

// WebhookSender delivers messages to group chat webhooks. The endpoint speaks
// the enterprise-chat bot protocol: a JSON markdown envelope in, an
// errcode/errmsg envelope out.
type WebhookSender struct {
	client      *http.Client
	verifyHooks []string
	logger      *logrus.Logger
}

type webhookEnvelope struct {
	MsgType  string          `json:"msgtype"`
	Markdown webhookMarkdown `json:"markdown,omitempty"`
}

type webhookMarkdown struct {
	Content string `json:"content"`
}

type webhookResult struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// NewWebhookSender creates a webhook sender. verifyHooks is the set of hooks
// probed by Verify at startup; Deliver always uses the per-call target.
func NewWebhookSender(timeout time.Duration, verifyHooks []string, logger *logrus.Logger) *WebhookSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &WebhookSender{
		client:      &http.Client{Timeout: timeout},
		verifyHooks: verifyHooks,
		logger:      logger,
	}
}

func (s *WebhookSender) Kind() string {
	return "group-webhook"
}

// Deliver posts the payload body as markdown to the webhook URL.
func (s *WebhookSender) Deliver(ctx context.Context, payload Payload, target string) error {
	if target == "" {
		return Permanent(fmt.Errorf("empty webhook URL"))
	}

	envelope := webhookEnvelope{
		MsgType:  "markdown",
		Markdown: webhookMarkdown{Content: payload.Body},
	}
	return s.post(ctx, target, envelope)
}

// Verify posts a startup probe to every configured hook and logs per-hook
// results. It fails only when no hook accepted the probe.
func (s *WebhookSender) Verify(ctx context.Context) error {
	if len(s.verifyHooks) == 0 {
		return nil
	}

	probe := map[string]interface{}{
		"msgtype": "text",
		"text": map[string]string{
			"content": "chanrelay started, webhook connectivity verified",
		},
	}

	var ok int
	for i, hook := range s.verifyHooks {
		if err := s.post(ctx, hook, probe); err != nil {
			s.logger.WithError(err).WithField("hook", i+1).Warn("Webhook verification failed")
			continue
		}
		ok++
	}

	if ok == 0 {
		return fmt.Errorf("all %d webhook targets failed verification", len(s.verifyHooks))
	}
	s.logger.WithFields(logrus.Fields{
		"verified": ok,
		"total":    len(s.verifyHooks),
	}).Info("Webhook targets verified")
	return nil
}

func (s *WebhookSender) post(ctx context.Context, target string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return Permanent(fmt.Errorf("failed to marshal webhook payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return Permanent(fmt.Errorf("failed to create webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// Transport errors (DNS, timeout, refused) are transient.
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}

	var result webhookResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode webhook response: %w", err)
	}

	switch result.ErrCode {
	case 0:
		return nil
	case webhookErrCodeRateLimited:
		return fmt.Errorf("webhook rate limited: %s", result.ErrMsg)
	default:
		return Permanent(fmt.Errorf("webhook rejected message (errcode %d): %s", result.ErrCode, result.ErrMsg))
	}
}
