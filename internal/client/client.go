// Package client is a small REST client for the SignSure API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultCookieName is the session cookie set by the server on login.
const DefaultCookieName = "token"

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// HTTPClient is the subset of *http.Client the client needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an *APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// User is the public view of an account.
type User struct {
	ID        string `json:"_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	PublicKey string `json:"public_key"`
}

// Client talks to a SignSure server.
type Client struct {
	baseURL    string
	httpClient HTTPClient
	cookieName string
	session    string
}

// New creates a Client. A nil httpClient uses an *http.Client with a
// 30 second timeout.
func New(baseURL string, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		cookieName: DefaultCookieName,
	}
}

// WithSession sets the session token sent on authenticated calls.
func (c *Client) WithSession(token string) *Client {
	c.session = token
	return c
}

// Session returns the current session token.
func (c *Client) Session() string {
	return c.session
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// RegisterRequest is the registration payload. PublicKey is base64 SPKI.
type RegisterRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	PublicKey string `json:"public_key"`
}

// Register creates an account and returns the server message.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (string, error) {
	var resp envelope
	if _, err := c.do(ctx, http.MethodPost, "/api/user/register", req, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// LoginResult is a successful login.
type LoginResult struct {
	Message string
	User    User
	// Session is the value of the session cookie.
	Session string
}

// Login authenticates and remembers the session cookie.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	var resp struct {
		envelope
		User User `json:"user"`
	}
	httpResp, err := c.do(ctx, http.MethodPost, "/api/user/login", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		return nil, err
	}

	var token string
	for _, ck := range httpResp.Cookies() {
		if ck.Name == c.cookieName && ck.Value != "" {
			token = ck.Value
		}
	}
	if token == "" {
		return nil, errors.New("login response did not set a session cookie")
	}
	c.session = token

	return &LoginResult{Message: resp.Message, User: resp.User, Session: token}, nil
}

// Logout revokes the current session.
func (c *Client) Logout(ctx context.Context) error {
	var resp envelope
	if _, err := c.do(ctx, http.MethodGet, "/api/user/logout", nil, &resp); err != nil {
		return err
	}
	c.session = ""
	return nil
}

// PublicKey fetches the logged-in user's public key as base64 SPKI.
func (c *Client) PublicKey(ctx context.Context) (string, error) {
	var resp struct {
		envelope
		PublicKey string `json:"public_key"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/key/public_key", nil, &resp); err != nil {
		return "", err
	}
	return resp.PublicKey, nil
}

// ForgotPassword asks the server to mail a reset code.
func (c *Client) ForgotPassword(ctx context.Context, email string) (string, error) {
	var resp envelope
	if _, err := c.do(ctx, http.MethodPost, "/api/user/forgot-password", map[string]string{
		"email": email,
	}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// VerifyOTP checks a reset code without consuming it.
func (c *Client) VerifyOTP(ctx context.Context, email, otp string) (string, error) {
	var resp envelope
	if _, err := c.do(ctx, http.MethodPost, "/api/user/verify-otp", map[string]string{
		"email": email,
		"otp":   otp,
	}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// ResetPassword sets a new password using a reset code.
func (c *Client) ResetPassword(ctx context.Context, email, otp, newPassword string) (string, error) {
	var resp envelope
	if _, err := c.do(ctx, http.MethodPost, "/api/user/reset-password", map[string]string{
		"email":       email,
		"otp":         otp,
		"newPassword": newPassword,
	}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: c.session})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var env envelope
		if json.Unmarshal(data, &env) == nil && env.Message != "" {
			apiErr.Code = env.Code
			apiErr.Message = env.Message
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp, nil
}
