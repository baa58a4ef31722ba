package deep

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TaskRequest is the outbound payload POSTed to a provider. CallbackToken
// is the plaintext token; it appears here and nowhere else.
type TaskRequest struct {
	JobID         string    `json:"job_id"`
	SubTaskID     string    `json:"sub_task_id"`
	ProviderID    string    `json:"provider_id"`
	TaskType      string    `json:"task_type"`
	Topic         string    `json:"topic"`
	BaseURL       string    `json:"base_url,omitempty"`
	CallbackURL   string    `json:"callback_url"`
	CallbackToken string    `json:"callback_token"`
	RetryCount    int       `json:"retry_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// TaskPublisher delivers a task request to a provider endpoint.
type TaskPublisher interface {
	Publish(ctx context.Context, endpoint string, req TaskRequest) error
}

// HTTPTaskPublisher delivers task requests as JSON POSTs.
type HTTPTaskPublisher struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPTaskPublisher builds a publisher with a per-publish timeout.
func NewHTTPTaskPublisher(timeout time.Duration) *HTTPTaskPublisher {
	return &HTTPTaskPublisher{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Publish POSTs the task request and treats any non-2xx as failure. The
// response body is drained and discarded; providers answer asynchronously
// through the callback endpoint.
func (p *HTTPTaskPublisher) Publish(ctx context.Context, endpoint string, req TaskRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode task request: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(publishCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build task request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to publish task to %s: %w", req.ProviderID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("provider %s rejected task: %d %s", req.ProviderID, resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return nil
}
