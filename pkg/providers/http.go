package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes caps how much of a response body is read
const maxResponseBytes = 8 << 20

// NewRequestFunc builds the HTTP request for one attempt
type NewRequestFunc func(ctx context.Context) (*http.Request, error)

// Do performs one HTTP attempt under timeout and returns the body of a 2xx
// response. Network failures and timeouts are transient, other non-2xx
// responses are classified by status.
func Do(ctx context.Context, client *http.Client, provider string, timeout time.Duration, newRequest NewRequestFunc) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := newRequest(ctx)
	if err != nil {
		return nil, &ServiceError{Provider: provider, Err: fmt.Errorf("failed to create HTTP request: %w", err)}
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &ServiceError{Provider: provider, Transient: true, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		// A body cut off mid-read is a network failure
		return nil, &ServiceError{Provider: provider, StatusCode: resp.StatusCode, Transient: true,
			Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, StatusError(provider, resp.StatusCode, body)
	}

	return body, nil
}
