package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrBackendStatus wraps non-2xx answers from an HTTP backend.
var ErrBackendStatus = errors.New("ai: backend returned an error status")

// backendCall is one JSON round trip to a chat backend.
type backendCall struct {
	name   string
	client *http.Client
	url    string
	header http.Header
}

// post sends in as JSON and decodes a 2xx answer into out. Error bodies are
// surfaced so an operator can tell a missing model from a bad key.
func (c backendCall) post(ctx context.Context, in, out any) error {
	if c.client == nil {
		return fmt.Errorf("%s: http client is nil", c.name)
	}
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("%w: %s %d: %s", ErrBackendStatus, c.name, resp.StatusCode, msg)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}

// replyText rejects answers that carry no text.
func replyText(content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyReply
	}
	return content, nil
}
