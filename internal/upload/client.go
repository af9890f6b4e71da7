// Package upload pushes workout history exports to a running liftoff daemon.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Nickostick/project-lift-off/internal/ingest"
)

const attempts = 3

// Client sends exports to the daemon's import endpoint over HTTP.
type Client struct {
	serverURL  string
	apiKey     string
	httpClient *http.Client

	// backoff returns the wait before the given retry (1-based).
	backoff func(retry int) time.Duration
}

// NewClient creates a client for the daemon at serverURL.
func NewClient(serverURL, apiKey string) *Client {
	return &Client{
		serverURL: serverURL,
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		backoff: func(retry int) time.Duration {
			return time.Duration(1<<uint(retry-1)) * time.Second
		},
	}
}

// PushAlpha POSTs an Alpha Progression CSV export. Server errors and
// transport failures are retried with exponential backoff; a 4xx response
// is returned immediately since resending the same body cannot help.
func (c *Client) PushAlpha(ctx context.Context, export []byte) (*ingest.Result, error) {
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		res, retry, err := c.post(ctx, export)
		if err == nil {
			return res, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

func (c *Client) post(ctx context.Context, export []byte) (*ingest.Result, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+"/api/v1/import/alpha", bytes.NewReader(export))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, resp.StatusCode >= 500, fmt.Errorf("import failed (status %d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var res ingest.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, false, fmt.Errorf("decoding import result: %w", err)
	}
	return &res, false, nil
}
