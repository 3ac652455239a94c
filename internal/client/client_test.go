package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/user/register", func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEnvelope(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Invalid request body"})
			return
		}
		if req.Email == "taken@example.com" {
			writeEnvelope(w, http.StatusConflict, map[string]any{
				"success": false, "message": "Email already registered.", "code": "EMAIL_TAKEN",
			})
			return
		}
		writeEnvelope(w, http.StatusCreated, map[string]any{"success": true, "message": "User registered successfully."})
	})
	mux.HandleFunc("POST /api/user/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "token", Value: "jwt-value", HttpOnly: true})
		writeEnvelope(w, http.StatusOK, map[string]any{
			"success": true,
			"message": "Welcome back Ada",
			"user":    map[string]any{"_id": "01HUSER", "name": "Ada", "email": "ada@example.com", "public_key": "MHYw"},
		})
	})
	mux.HandleFunc("GET /api/key/public_key", func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie("token")
		if err != nil || ck.Value != "jwt-value" {
			writeEnvelope(w, http.StatusUnauthorized, map[string]any{
				"success": false, "message": "User not authenticated", "code": "UNAUTHORIZED",
			})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "message": "Public key is sent", "public_key": "MHYw"})
	})
	mux.HandleFunc("GET /api/user/logout", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "message": "Logout successful"})
	})
	mux.HandleFunc("POST /api/user/forgot-password", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "message": "If the email is registered, an OTP has been sent."})
	})
	mux.HandleFunc("POST /api/user/verify-otp", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["otp"] != "123456" {
			writeEnvelope(w, http.StatusBadRequest, map[string]any{
				"success": false, "message": "Invalid or expired OTP.", "code": "INVALID_OTP",
			})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "message": "OTP verified"})
	})
	mux.HandleFunc("POST /api/user/reset-password", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["newPassword"] == "" {
			writeEnvelope(w, http.StatusBadRequest, map[string]any{"success": false, "message": "All fields are required."})
			return
		}
		writeEnvelope(w, http.StatusOK, map[string]any{"success": true, "message": "Password reset successfully."})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_RegisterLoginPublicKey(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL+"/", srv.Client())
	ctx := context.Background()

	msg, err := c.Register(ctx, RegisterRequest{Name: "Ada", Email: "ada@example.com", Password: "pw", PublicKey: "MHYw"})
	require.NoError(t, err)
	assert.Equal(t, "User registered successfully.", msg)

	_, err = c.PublicKey(ctx)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusUnauthorized))

	res, err := c.Login(ctx, "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "jwt-value", res.Session)
	assert.Equal(t, "jwt-value", c.Session())
	assert.Equal(t, "01HUSER", res.User.ID)
	assert.Equal(t, "Welcome back Ada", res.Message)

	key, err := c.PublicKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "MHYw", key)

	require.NoError(t, c.Logout(ctx))
	assert.Empty(t, c.Session())
}

func TestClient_APIError(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, srv.Client())

	_, err := c.Register(context.Background(), RegisterRequest{Name: "Ada", Email: "taken@example.com", Password: "pw", PublicKey: "MHYw"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "EMAIL_TAKEN", apiErr.Code)
	assert.Equal(t, "Email already registered.", apiErr.Message)
	assert.Contains(t, err.Error(), "409")
}

func TestClient_PasswordReset(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, srv.Client())
	ctx := context.Background()

	msg, err := c.ForgotPassword(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, "If the email is registered, an OTP has been sent.", msg)

	_, err = c.VerifyOTP(ctx, "ada@example.com", "000000")
	assert.True(t, IsStatus(err, http.StatusBadRequest))

	msg, err = c.VerifyOTP(ctx, "ada@example.com", "123456")
	require.NoError(t, err)
	assert.Equal(t, "OTP verified", msg)

	msg, err = c.ResetPassword(ctx, "ada@example.com", "123456", "n3w-password")
	require.NoError(t, err)
	assert.Equal(t, "Password reset successfully.", msg)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestClient_NonJSONError(t *testing.T) {
	c := New("http://signsure.test", roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(strings.NewReader("<html>bad gateway</html>")),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}))

	_, err := c.ForgotPassword(context.Background(), "ada@example.com")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "Bad Gateway", apiErr.Message)
}

func TestClient_SendsSessionCookie(t *testing.T) {
	var gotCookie string
	c := New("http://signsure.test", roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if ck, err := req.Cookie("token"); err == nil {
			gotCookie = ck.Value
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"success":true,"message":"Public key is sent","public_key":"MHYw"}`)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	})).WithSession("stored-token")

	_, err := c.PublicKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stored-token", gotCookie)
}

func TestClient_LoginWithoutCookie(t *testing.T) {
	c := New("http://signsure.test", roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"success":true,"message":"Welcome back Ada","user":{}}`)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}))

	_, err := c.Login(context.Background(), "ada@example.com", "pw")
	require.Error(t, err)
}

func TestClient_TransportError(t *testing.T) {
	c := New("http://signsure.test", roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}))

	_, err := c.PublicKey(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to reach server")
	assert.False(t, IsStatus(err, http.StatusUnauthorized))
}
