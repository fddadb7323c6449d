package eventbus

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// WebhookPayload is the JSON body delivered to a WebhookSink's endpoint.
type WebhookPayload struct {
	Event     Name  `json:"event"`
	JobID     string `json:"job_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

// WebhookSink subscribes to a Bus and forwards matching events as
// HMAC-signed POST requests, with bounded async retries. It is an optional
// external consumer of the bus, not a core component — the natural home for
// the teacher's webhook delivery idiom now that it isn't tied to a single
// batch/crawl response shape.
type WebhookSink struct {
	URL    string
	Secret string
	JobID  string
	Client *http.Client
}

// NewWebhookSink creates a sink and subscribes it to every name in names.
func NewWebhookSink(bus *Bus, url, secret, jobID string, names ...Name) *WebhookSink {
	s := &WebhookSink{
		URL:    url,
		Secret: secret,
		JobID:  jobID,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, n := range names {
		name := n
		bus.On(name, func(payload any) {
			s.deliverAsync(name, payload)
		})
	}
	return s
}

// deliverAsync sends the event asynchronously with bounded retries at
// 1s, 5s, 30s.
func (s *WebhookSink) deliverAsync(name Name, data any) {
	payload := &WebhookPayload{
		Event:     name,
		JobID:     s.JobID,
		Timestamp: time.Now().Unix(),
		Data:      data,
	}
	go func() {
		delays := []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second}
		for attempt, delay := range delays {
			if delay > 0 {
				time.Sleep(delay)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := s.deliver(ctx, payload)
			cancel()
			if err == nil {
				slog.Info("webhook delivered", "url", s.URL, "event", name, "job_id", s.JobID, "attempt", attempt+1)
				return
			}
			slog.Warn("webhook delivery failed", "url", s.URL, "event", name, "job_id", s.JobID, "attempt", attempt+1, "error", err)
		}
		slog.Error("webhook delivery exhausted retries", "url", s.URL, "event", name, "job_id", s.JobID)
	}()
}

func (s *WebhookSink) deliver(ctx context.Context, payload *WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "crawlkit-webhook/1.0")
	if s.Secret != "" {
		mac := hmac.New(sha256.New, []byte(s.Secret))
		mac.Write(body)
		req.Header.Set("X-Crawlkit-Signature", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
