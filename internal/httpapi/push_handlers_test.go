package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandlePushRegister(t *testing.T) {
	r := &Router{
		cfg:    RouterConfig{},
		logger: log.New(io.Discard, "", 0),
	}

	t.Run("unauthorized without auth", func(t *testing.T) {
		body := `{"token": "device-token", "platform": "ios"}`
		req := httptest.NewRequest(http.MethodPost, "/api/push/register", strings.NewReader(body))
		rec := httptest.NewRecorder()

		r.handlePushRegister(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"invalid request body", "invalid json", "invalid request body"},
		{"missing token", `{"platform": "ios"}`, "token is required"},
		{"blank token", `{"token": "   ", "platform": "ios"}`, "token is required"},
		{"invalid platform", `{"token": "device-token", "platform": "windows"}`, "platform must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/push/register", strings.NewReader(tt.body))
			req = withUser(req, "user-123")
			rec := httptest.NewRecorder()

			r.handlePushRegister(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
			}
			var resp map[string]string
			_ = json.NewDecoder(rec.Body).Decode(&resp)
			if !strings.Contains(resp["error"], tt.wantErr) {
				t.Errorf("error = %q, should mention %q", resp["error"], tt.wantErr)
			}
		})
	}
}

func TestPushTokenLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token, userID := env.guest("Ada")
	ctx := context.Background()

	rec := env.do(http.MethodPost, "/api/push/register", token, map[string]string{
		"token":    " apns-token-1 ",
		"platform": "iOS",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d, body = %s", rec.Code, rec.Body.String())
	}

	tokens, err := env.store.GetUserPushTokens(ctx, userID)
	if err != nil {
		t.Fatalf("GetUserPushTokens: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("got %d tokens, want 1", len(tokens))
	}
	if tokens[0].Token != "apns-token-1" || tokens[0].Platform != "ios" {
		t.Errorf("token = %+v, want trimmed ios token", tokens[0])
	}

	rec = env.do(http.MethodPost, "/api/push/unregister", token, map[string]string{"token": "apns-token-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unregister status = %d, body = %s", rec.Code, rec.Body.String())
	}

	tokens, err = env.store.GetUserPushTokens(ctx, userID)
	if err != nil {
		t.Fatalf("GetUserPushTokens: %v", err)
	}
	if len(tokens) != 0 {
		t.Errorf("got %d tokens after unregister, want 0", len(tokens))
	}
}
