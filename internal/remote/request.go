// Telemetrysync - Offline-first Telemetry Store and Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/telemetrysync

package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/telemetrysync/internal/logging"
)

// requestConfig holds configuration for building HTTP requests
type requestConfig struct {
	method string
	path   string
	query  url.Values
	body   interface{}

	// Identify the record in classified errors.
	recordID  string
	serverID  string
	updatedAt *time.Time
}

// do executes a request and decodes a 2xx reply into out. callerCtx is the
// context without the per-call timeout, used to tell cancellation apart
// from a timeout.
func (c *Client) do(ctx, callerCtx context.Context, op string, rc requestConfig, out interface{}) error {
	reqURL := c.baseURL + rc.path
	if len(rc.query) > 0 {
		reqURL += "?" + rc.query.Encode()
	}

	var body io.Reader = http.NoBody
	if rc.body != nil {
		data, err := json.Marshal(rc.body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, rc.method, reqURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if rc.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := logging.CorrelationIDFromContext(callerCtx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(op, callerCtx.Err(), err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logging.Debug().Err(cerr).Str("op", op).Msg("Failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyResponse(op, rc, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A truncated body is as ambiguous as a dropped connection.
		return transportError(op, callerCtx.Err(), fmt.Errorf("decode %s response: %w", op, err))
	}
	return nil
}
