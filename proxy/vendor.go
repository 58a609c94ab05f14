// Package proxy forwards client requests to the AI vendors after
// authentication, validation and quota checks, attaching the server-held
// credentials the clients never see.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	neturl "net/url"
	"time"

	"studypal-backend/callable"
)

// AuthStyle says how a vendor expects its credential.
type AuthStyle int

const (
	AuthBearer AuthStyle = iota
	AuthQueryKey
)

// VendorCall describes one upstream request. Do executes it and maps vendor
// failures onto the shared error envelope.
type VendorCall struct {
	Name       string
	URL        string
	Auth       AuthStyle
	Credential string
	Timeout    time.Duration
}

// statusKind maps an upstream HTTP status onto an error kind the client
// dispatches on.
func statusKind(status int) callable.Kind {
	switch {
	case status == http.StatusUnauthorized:
		return callable.Unauthenticated
	case status == http.StatusTooManyRequests:
		return callable.ResourceExhausted
	case status >= 500:
		return callable.Unavailable
	case status >= 400:
		return callable.InvalidArgument
	default:
		return callable.Internal
	}
}

// Do sends the body upstream and returns the raw response JSON. Vendor error
// responses come back as callable errors carrying a diagnostic quadruple
// (status, data, code, timestamp); transport failures map to internal.
func (v VendorCall) Do(ctx context.Context, body []byte) (json.RawMessage, error) {
	timeout := v.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := v.URL
	if v.Auth == AuthQueryKey {
		url = v.URL + "?key=" + neturl.QueryEscape(v.Credential)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, callable.New(callable.Internal, fmt.Sprintf("failed to build %s request", v.Name))
	}
	req.Header.Set("Content-Type", "application/json")
	if v.Auth == AuthBearer {
		req.Header.Set("Authorization", "Bearer "+v.Credential)
	}

	started := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("[proxy][%s] transport error after %s: %v", v.Name, time.Since(started).Round(time.Millisecond), err)
		return nil, callable.NewWithDetails(callable.Internal,
			fmt.Sprintf("error communicating with %s", v.Name),
			errorDetails(0, nil, err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, callable.New(callable.Internal, fmt.Sprintf("failed reading %s response", v.Name))
	}
	log.Printf("[proxy][%s] status=%d latency=%s bytes=%d", v.Name, resp.StatusCode, time.Since(started).Round(time.Millisecond), len(data))

	if resp.StatusCode >= 400 {
		var payload any
		if err := json.Unmarshal(data, &payload); err != nil {
			payload = string(data)
		}
		kind := statusKind(resp.StatusCode)
		return nil, callable.NewWithDetails(kind,
			fmt.Sprintf("%s returned status %d", v.Name, resp.StatusCode),
			errorDetails(resp.StatusCode, payload, http.StatusText(resp.StatusCode)))
	}
	return json.RawMessage(data), nil
}

func errorDetails(status int, data any, code string) map[string]any {
	return map[string]any{
		"status":    status,
		"data":      data,
		"code":      code,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}
