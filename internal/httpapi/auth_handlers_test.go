package httpapi

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hiremind/interview/internal/store"
)

func TestHashToken(t *testing.T) {
	token := "test-token-123"

	hash1 := hashToken(token)
	hash2 := hashToken(token)

	// Same token should produce same hash
	if hash1 != hash2 {
		t.Error("same token should produce same hash")
	}

	// Hash should be hex-encoded SHA256 (64 characters)
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64", len(hash1))
	}

	if hash1 == hashToken("different-token") {
		t.Error("different tokens should produce different hashes")
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		url     string
		upgrade bool
		want    string
		wantErr bool
	}{
		{name: "bearer header", header: "Bearer abc", url: "/api/me", want: "abc"},
		{name: "lowercase scheme", header: "bearer abc", url: "/api/me", want: "abc"},
		{name: "wrong scheme", header: "Basic abc", url: "/api/me", wantErr: true},
		{name: "no space", header: "Bearerabc", url: "/api/me", wantErr: true},
		{name: "missing", url: "/api/me", wantErr: true},
		{name: "query token on websocket", url: "/api/interviews/live?token=xyz", upgrade: true, want: "xyz"},
		{name: "query token without upgrade", url: "/api/interviews/live?token=xyz", wantErr: true},
		{name: "header wins over query", header: "Bearer abc", url: "/api/interviews/live?token=xyz", upgrade: true, want: "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}

			got, err := bearerToken(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("bearerToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("bearerToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGenerateJWT(t *testing.T) {
	r := &Router{
		cfg:    RouterConfig{JWTSecret: testJWTSecret, JWTExpiry: time.Hour},
		logger: log.New(io.Discard, "", 0),
	}

	t.Run("guest claims", func(t *testing.T) {
		tok, expiresAt, err := r.generateJWT(&store.User{ID: "user-1"})
		if err != nil {
			t.Fatalf("generateJWT: %v", err)
		}
		if time.Until(expiresAt) < 59*time.Minute {
			t.Errorf("expiresAt = %v, want about an hour from now", expiresAt)
		}

		parsed, err := r.parseToken(tok)
		if err != nil || !parsed.Valid {
			t.Fatalf("parseToken: %v", err)
		}
		claims := parsed.Claims.(*JWTClaims)
		if claims.UserID != "user-1" || !claims.Guest {
			t.Errorf("claims = %+v, want guest user-1", claims)
		}
	})

	t.Run("registered user is not a guest", func(t *testing.T) {
		tok, _, err := r.generateJWT(&store.User{ID: "user-2", Email: "a@example.com"})
		if err != nil {
			t.Fatalf("generateJWT: %v", err)
		}
		parsed, err := r.parseToken(tok)
		if err != nil {
			t.Fatalf("parseToken: %v", err)
		}
		if parsed.Claims.(*JWTClaims).Guest {
			t.Error("Guest = true, want false")
		}
	})

	t.Run("tokens are unique", func(t *testing.T) {
		a, _, _ := r.generateJWT(&store.User{ID: "user-1"})
		b, _, _ := r.generateJWT(&store.User{ID: "user-1"})
		if a == b {
			t.Error("two tokens issued back to back are identical")
		}
	})

	t.Run("rejects other signing keys", func(t *testing.T) {
		claims := JWTClaims{UserID: "user-1"}
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
		if err != nil {
			t.Fatalf("SignedString: %v", err)
		}
		if _, err := r.parseToken(tok); err == nil {
			t.Error("parseToken accepted a token signed with another secret")
		}
	})
}

func TestGuestLogin(t *testing.T) {
	env := newTestEnv(t)

	t.Run("defaults name", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/auth/guest", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			Token     string     `json:"token"`
			ExpiresAt string     `json:"expires_at"`
			User      store.User `json:"user"`
		}
		decodeBody(t, rec, &resp)
		if resp.User.Name != "Guest" {
			t.Errorf("name = %q, want Guest", resp.User.Name)
		}
		if _, err := time.Parse(time.RFC3339, resp.ExpiresAt); err != nil {
			t.Errorf("expires_at %q is not RFC3339: %v", resp.ExpiresAt, err)
		}
	})

	t.Run("stores profile", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/auth/guest", "", map[string]any{
			"name":         "  Ada  ",
			"career_stage": "mid",
			"target_role":  "Backend Engineer",
			"skills":       []string{" Go ", "", "SQL"},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			User store.User `json:"user"`
		}
		decodeBody(t, rec, &resp)
		if resp.User.Name != "Ada" {
			t.Errorf("name = %q, want Ada", resp.User.Name)
		}
		if len(resp.User.Skills) != 2 || resp.User.Skills[0] != "Go" || resp.User.Skills[1] != "SQL" {
			t.Errorf("skills = %v, want [Go SQL]", resp.User.Skills)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/auth/guest", "", "not json")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})
}

func TestWithAuth(t *testing.T) {
	env := newTestEnv(t)
	token, userID := env.guest("Ada")

	t.Run("missing header", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/me", "", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/me", "not-a-jwt", nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("signed but never issued", func(t *testing.T) {
		r := &Router{cfg: RouterConfig{JWTSecret: testJWTSecret, JWTExpiry: time.Hour}}
		tok, _, err := r.generateJWT(&store.User{ID: userID})
		if err != nil {
			t.Fatalf("generateJWT: %v", err)
		}
		rec := env.do(http.MethodGet, "/api/me", tok, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		rec := env.do(http.MethodGet, "/api/me", token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var resp struct {
			User store.User `json:"user"`
		}
		decodeBody(t, rec, &resp)
		if resp.User.ID != userID {
			t.Errorf("user id = %q, want %q", resp.User.ID, userID)
		}
	})

	t.Run("revoked after logout", func(t *testing.T) {
		other, _ := env.guest("Bob")
		if rec := env.do(http.MethodPost, "/auth/logout", other, nil); rec.Code != http.StatusOK {
			t.Fatalf("logout status = %d", rec.Code)
		}
		if rec := env.do(http.MethodGet, "/api/me", other, nil); rec.Code != http.StatusUnauthorized {
			t.Errorf("status after logout = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})
}

func TestRefreshToken(t *testing.T) {
	env := newTestEnv(t)
	token, userID := env.guest("Ada")

	rec := env.do(http.MethodPost, "/auth/refresh", "", map[string]string{"token": token})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string     `json:"token"`
		User  store.User `json:"user"`
	}
	decodeBody(t, rec, &resp)
	if resp.Token == "" || resp.Token == token {
		t.Fatalf("refresh returned token %q", resp.Token)
	}
	if resp.User.ID != userID {
		t.Errorf("user id = %q, want %q", resp.User.ID, userID)
	}

	if rec := env.do(http.MethodGet, "/api/me", resp.Token, nil); rec.Code != http.StatusOK {
		t.Errorf("new token status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec := env.do(http.MethodGet, "/api/me", token, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("old token status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	t.Run("revoked token cannot refresh", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/auth/refresh", "", map[string]string{"token": token})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		rec := env.do(http.MethodPost, "/auth/refresh", "", map[string]string{"token": "garbage"})
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
		}
	})
}

func TestUpdateMe(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.guest("Ada")

	rec := env.do(http.MethodPatch, "/api/me", token, map[string]any{
		"target_role": "Staff Engineer",
		"skills":      []string{"Go", "Kubernetes"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		User store.User `json:"user"`
	}
	decodeBody(t, rec, &resp)
	if resp.User.Name != "Ada" {
		t.Errorf("name = %q, want unchanged Ada", resp.User.Name)
	}
	if resp.User.TargetRole != "Staff Engineer" {
		t.Errorf("target_role = %q, want Staff Engineer", resp.User.TargetRole)
	}
	if len(resp.User.Skills) != 2 {
		t.Errorf("skills = %v, want 2 entries", resp.User.Skills)
	}

	t.Run("blank name is ignored", func(t *testing.T) {
		rec := env.do(http.MethodPatch, "/api/me", token, map[string]any{"name": "   "})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp struct {
			User store.User `json:"user"`
		}
		decodeBody(t, rec, &resp)
		if resp.User.Name != "Ada" {
			t.Errorf("name = %q, want Ada", resp.User.Name)
		}
	})
}

func TestCleanList(t *testing.T) {
	got := cleanList([]string{" a ", "", "  ", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("cleanList() = %v, want [a b]", got)
	}
	if got := cleanList(nil); got == nil || len(got) != 0 {
		t.Errorf("cleanList(nil) = %#v, want empty slice", got)
	}
}
