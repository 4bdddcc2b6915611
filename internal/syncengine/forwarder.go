package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPForwarder returns a Handler that replays an operation payload
// against an upstream endpoint. A 409 response is translated into a
// ConflictError carrying the upstream's view of the record.
func HTTPForwarder(endpoint string, client *http.Client) Handler {
	if client == nil {
		client = http.DefaultClient
	}

	return func(ctx context.Context, payload json.RawMessage) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("build upstream request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("upstream request: %w", err)
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode == http.StatusConflict:
			return &ConflictError{Remote: body, Detail: "upstream rejected local change"}
		default:
			return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
		}
	}
}
