// Package escrowsdk is a typed client for the escrow service API. It covers
// the wallet login flow and the order lifecycle so other services (and the
// e2e tests) never hand-roll HTTP against the endpoints.
package escrowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the escrow service. Unauthenticated calls hang
// off the client directly; authenticated calls go through a Session.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewSDKClient creates a new escrow service client.
func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Session is an authenticated scope over the client, bound to one session
// token from VerifyChallenge.
type Session struct {
	client      *SDKClient
	accessToken string

	// UserID, Role and Wallet identify the session's subject.
	UserID string
	Role   string
	Wallet string
}

// NewSessionFromToken wraps an existing session token, e.g. one stored from
// an earlier login.
func (c *SDKClient) NewSessionFromToken(token string) *Session {
	return &Session{client: c, accessToken: token}
}

func (c *SDKClient) url(path string) string {
	return c.BaseURL + path
}

func (c *SDKClient) doJSON(ctx context.Context, method, path string, payload any, bearer string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("escrowsdk: encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, fmt.Errorf("escrowsdk: create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("escrowsdk: send request: %w", err)
	}
	return resp, nil
}

// decodeJSON decodes a response into target, or returns a typed APIError
// when the status does not match.
func decodeJSON(resp *http.Response, target any, expectedStatus int) error {
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("escrowsdk: read response: %w", err)
	}

	if resp.StatusCode != expectedStatus {
		return parseErrorResponse(resp, bodyBytes)
	}

	if target == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, target); err != nil {
		return fmt.Errorf("escrowsdk: decode response: %w", err)
	}
	return nil
}
