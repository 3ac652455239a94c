package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/signsure/signsure/internal/auth"
	"github.com/signsure/signsure/internal/handler/dto"
	"github.com/signsure/signsure/internal/service"
)

type fakeKeyService struct {
	keys map[string]string
	err  error
}

func (f *fakeKeyService) PublicKey(ctx context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key, ok := f.keys[userID]
	if !ok {
		return "", service.ErrUserNotFound
	}
	return key, nil
}

func requestAs(userID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/key/public_key", nil)
	if userID == "" {
		return req
	}
	ctx := auth.ContextWithSession(req.Context(), &auth.Session{UserID: userID})
	return req.WithContext(ctx)
}

func TestKeyHandler_PublicKey(t *testing.T) {
	svc := &fakeKeyService{keys: map[string]string{"01HUSER": "MHYwEAYHKoZIzj0CAQYFK4EEACID"}}
	h := NewKeyHandler(svc, discardLogger())

	t.Run("authenticated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.PublicKey(rec, requestAs("01HUSER"))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}

		var resp dto.PublicKeyResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if !resp.Success || resp.Message != "Public key is sent" {
			t.Errorf("unexpected response: %+v", resp)
		}
		if resp.PublicKey != "MHYwEAYHKoZIzj0CAQYFK4EEACID" {
			t.Errorf("unexpected public key: %q", resp.PublicKey)
		}
	})

	t.Run("no session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.PublicKey(rec, requestAs(""))

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rec.Code)
		}
		if resp := decodeMessage(t, rec); resp.Message != "User not authenticated" {
			t.Errorf("unexpected message: %q", resp.Message)
		}
	})

	t.Run("deleted user", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.PublicKey(rec, requestAs("01HGONE"))

		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected status 404, got %d", rec.Code)
		}
		if resp := decodeMessage(t, rec); resp.Code != CodeUserNotFound {
			t.Errorf("unexpected code: %q", resp.Code)
		}
	})
}

func TestKeyHandler_PublicKey_StoreError(t *testing.T) {
	h := NewKeyHandler(&fakeKeyService{err: errors.New("pool closed")}, discardLogger())

	rec := httptest.NewRecorder()
	h.PublicKey(rec, requestAs("01HUSER"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
}
