// Package apiclient is the bot's HTTP client for the stats API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %s (status: %d)", e.Message, e.StatusCode)
}

const internalTokenHeader = "X-Internal-Token"

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// InternalToken is sent with every request when set.
	InternalToken string
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	url := fmt.Sprintf("%s%s", c.BaseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if c.InternalToken != "" {
		req.Header.Set(internalTokenHeader, c.InternalToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := string(respBody)
		var apiErr errorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	return respBody, nil
}

// CreateUser creates the user or returns the existing one.
func (c *Client) CreateUser(ctx context.Context, telegramID, username string) (*UserResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/users", CreateUserRequest{
		TelegramID: telegramID,
		Username:   username,
	})
	if err != nil {
		return nil, err
	}

	var user UserResponse
	if err := json.Unmarshal(resp, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &user, nil
}

// TrackReferral registers refereeID as invited by referrerID.
func (c *Client) TrackReferral(ctx context.Context, referrerID, refereeID, username string) (*ReferralResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/referral", TrackReferralRequest{
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		Username:   username,
	})
	if err != nil {
		return nil, err
	}

	var result ReferralResponse
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
