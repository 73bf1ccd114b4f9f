package integrations

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// IntakeClient posts events to the local sync intake endpoint.
type IntakeClient struct {
	Client *http.Client
	URL    string
}

func NewIntakeClient(url string, timeout time.Duration) *IntakeClient {
	return &IntakeClient{
		Client: &http.Client{Timeout: timeout},
		URL:    url,
	}
}

// Forward delivers one serialized event. Any non-2xx status is an error.
func (ic *IntakeClient) Forward(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ic.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create intake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ic.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send intake request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("backend responded %s: %s", resp.Status, bytes.TrimSpace(bodyBytes))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
