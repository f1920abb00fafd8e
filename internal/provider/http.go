package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes bounds how much of a response body is read.
var maxResponseBytes = 32 << 20

// apiError is the error body shape shared by both vendors.
type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// postJSON sends body and decodes a 200 response into out. Rate limits,
// server errors and transport failures come back as retryable errors.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxResponseBytes)+1))
	if err != nil {
		return &retryableError{err: fmt.Errorf("failed to read response: %w", err)}
	}
	if len(raw) > maxResponseBytes {
		return fmt.Errorf("response body exceeds %d bytes", maxResponseBytes)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(raw))}
	}
	if resp.StatusCode != http.StatusOK {
		var e apiError
		if err := json.Unmarshal(raw, &e); err == nil && e.Error.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, e.Error.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(raw))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// marshalInput encodes tool input, never as null.
func marshalInput(input map[string]any) (json.RawMessage, error) {
	if input == nil {
		return json.RawMessage(`{}`), nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encoding tool input: %w", err)
	}
	return b, nil
}

// unmarshalInput decodes tool input; empty input becomes an empty map.
func unmarshalInput(raw []byte) (map[string]any, error) {
	input := map[string]any{}
	if len(bytes.TrimSpace(raw)) == 0 {
		return input, nil
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("decoding tool input: %w", err)
	}
	return input, nil
}
