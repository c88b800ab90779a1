package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// defaultTimeout bounds every provider request.
const defaultTimeout = 30 * time.Second

// errNotCovered is the internal marker for a 404: the provider simply has no
// data for the asset. Adapters translate it into an empty result.
var errNotCovered = errors.New("asset not covered")

// getJSON performs one paced GET and decodes the JSON response into v.
// Status mapping: 429 → ErrRateLimited, 404 → errNotCovered, any other
// non-200 → a permanent error for this call.
func getJSON(ctx context.Context, client *http.Client, pacer *Pacer, url string, headers map[string]string, v any) error {
	if err := pacer.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, val := range headers {
		req.Header.Set(k, val)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	case resp.StatusCode == http.StatusNotFound:
		return errNotCovered
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
