// Package channel implements the HTTP contract between the core and a
// channel adapter. The adapter owns the provider wire protocol; the core
// only sends normalized requests and surfaces transport failures without
// retrying.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "ticketflow/internal/errors"
	"ticketflow/pkg/channel/types"
)

type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates an adapter client bound to baseURL. Every send is
// bounded by timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) SendText(ctx context.Context, connectionID int64, recipient, body string, opts *types.SendOptions) (*types.SendResponse, error) {
	payload := map[string]interface{}{
		"recipient": recipient,
		"body":      body,
	}
	if opts != nil && opts.QuotedMessageID != "" {
		payload["quotedMessageId"] = opts.QuotedMessageID
	}

	endpoint := fmt.Sprintf("/connections/%d/messages/text", connectionID)
	return c.sendRequest(ctx, endpoint, payload)
}

func (c *HTTPClient) SendMedia(ctx context.Context, connectionID int64, recipient string, media types.MediaInput, opts *types.SendOptions) (*types.SendResponse, error) {
	payload := map[string]interface{}{
		"recipient": recipient,
		"media":     media,
	}
	if opts != nil && opts.QuotedMessageID != "" {
		payload["quotedMessageId"] = opts.QuotedMessageID
	}

	endpoint := fmt.Sprintf("/connections/%d/messages/media", connectionID)
	return c.sendRequest(ctx, endpoint, payload)
}

func (c *HTTPClient) sendRequest(ctx context.Context, endpoint string, payload interface{}) (*types.SendResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransport, "channel send failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Newf(apperrors.ErrCodeTransport, "channel send failed with status %d", resp.StatusCode)
	}

	var result types.SendResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeTransport, "failed to decode adapter response")
	}

	return &result, nil
}
