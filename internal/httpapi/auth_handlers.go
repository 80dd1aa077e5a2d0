package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hiremind/interview/internal/store"
)

// Context key for user data
type contextKey string

const userContextKey contextKey = "user"

// JWTClaims represents the claims in the JWT token
type JWTClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Guest  bool   `json:"guest,omitempty"`
}

// AuthUser represents the authenticated user in request context
type AuthUser struct {
	ID    string
	Guest bool
}

// hashToken creates a SHA256 hash of the token for storage
func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// bearerToken returns the token from the Authorization header, or from the
// token query parameter for websocket upgrades.
func bearerToken(req *http.Request) (string, error) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		if t := req.URL.Query().Get("token"); t != "" && websocketUpgrade(req) {
			return t, nil
		}
		return "", errors.New("missing authorization header")
	}

	// Expect "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization format")
	}
	return parts[1], nil
}

func websocketUpgrade(req *http.Request) bool {
	return strings.EqualFold(req.Header.Get("Upgrade"), "websocket")
}

func (r *Router) parseToken(tokenString string) (*jwt.Token, error) {
	return jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	})
}

// withAuth is middleware that requires valid JWT authentication
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tokenString, err := bearerToken(req)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		// Parse and validate JWT
		token, err := r.parseToken(tokenString)
		if err != nil || !token.Valid {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok || claims.UserID == "" {
			http.Error(w, `{"error": "invalid token claims"}`, http.StatusUnauthorized)
			return
		}

		// Check if session is valid (not revoked)
		valid, err := r.store.IsAuthSessionValid(req.Context(), hashToken(tokenString))
		if err != nil || !valid {
			http.Error(w, `{"error": "session expired or revoked"}`, http.StatusUnauthorized)
			return
		}

		user := &AuthUser{ID: claims.UserID, Guest: claims.Guest}
		ctx := context.WithValue(req.Context(), userContextKey, user)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// getAuthUser extracts the authenticated user from context
func getAuthUser(ctx context.Context) *AuthUser {
	user, _ := ctx.Value(userContextKey).(*AuthUser)
	return user
}

// generateJWT creates a new JWT token for a user
func (r *Router) generateJWT(user *store.User) (string, time.Time, error) {
	expiresAt := time.Now().Add(r.cfg.JWTExpiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: user.ID,
		Guest:  user.Email == "",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// issueSession signs a token for user and records its hash.
func (r *Router) issueSession(ctx context.Context, user *store.User) (string, time.Time, error) {
	token, expiresAt, err := r.generateJWT(user)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := r.store.CreateAuthSession(ctx, user.ID, hashToken(token), expiresAt); err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

type profileBody struct {
	Name        string   `json:"name"`
	CareerStage string   `json:"career_stage"`
	TargetRole  string   `json:"target_role"`
	Skills      []string `json:"skills"`
}

// handleGuestLogin creates a guest user and signs them in
func (r *Router) handleGuestLogin(w http.ResponseWriter, req *http.Request) {
	var body profileBody
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
			return
		}
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		name = "Guest"
	}

	user, err := r.store.UpsertUser(req.Context(), store.User{
		Name:        name,
		CareerStage: strings.TrimSpace(body.CareerStage),
		TargetRole:  strings.TrimSpace(body.TargetRole),
		Skills:      cleanList(body.Skills),
	})
	if err != nil {
		r.logger.Printf("auth: failed to create guest user: %v", err)
		captureError(req, err, "auth: create guest user")
		http.Error(w, `{"error": "failed to create user"}`, http.StatusInternalServerError)
		return
	}

	token, expiresAt, err := r.issueSession(req.Context(), user)
	if err != nil {
		r.logger.Printf("auth: failed to create session for %s: %v", user.ID, err)
		http.Error(w, `{"error": "failed to create session"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("auth: guest user %s signed in", user.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"user":       user,
	})
}

// handleRefreshToken exchanges a valid token for a fresh one
func (r *Router) handleRefreshToken(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	token, err := r.parseToken(body.Token)
	if err != nil || !token.Valid {
		http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
		return
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		http.Error(w, `{"error": "invalid token claims"}`, http.StatusUnauthorized)
		return
	}

	// Check if old session is still valid (not revoked)
	oldTokenHash := hashToken(body.Token)
	valid, err := r.store.IsAuthSessionValid(req.Context(), oldTokenHash)
	if err != nil || !valid {
		http.Error(w, `{"error": "session revoked"}`, http.StatusUnauthorized)
		return
	}

	// Get fresh user data
	user, err := r.store.GetUser(req.Context(), claims.UserID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusUnauthorized)
		return
	}

	newToken, expiresAt, err := r.issueSession(req.Context(), user)
	if err != nil {
		http.Error(w, `{"error": "failed to create session"}`, http.StatusInternalServerError)
		return
	}
	_ = r.store.RevokeAuthSession(req.Context(), oldTokenHash)

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      newToken,
		"expires_at": expiresAt.Format(time.RFC3339),
		"user":       user,
	})
}

// handleLogout revokes the current session
func (r *Router) handleLogout(w http.ResponseWriter, req *http.Request) {
	if token, err := bearerToken(req); err == nil {
		_ = r.store.RevokeAuthSession(req.Context(), hashToken(token))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleGetMe returns the current user's data
func (r *Router) handleGetMe(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	user, err := r.store.GetUser(req.Context(), authUser.ID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// handleUpdateMe updates the profile used to personalize questions
func (r *Router) handleUpdateMe(w http.ResponseWriter, req *http.Request) {
	authUser := getAuthUser(req.Context())
	if authUser == nil {
		http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
		return
	}

	var body struct {
		Name        *string   `json:"name"`
		CareerStage *string   `json:"career_stage"`
		TargetRole  *string   `json:"target_role"`
		Skills      *[]string `json:"skills"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	user, err := r.store.GetUser(req.Context(), authUser.ID)
	if err != nil {
		http.Error(w, `{"error": "user not found"}`, http.StatusNotFound)
		return
	}

	if body.Name != nil && strings.TrimSpace(*body.Name) != "" {
		user.Name = strings.TrimSpace(*body.Name)
	}
	if body.CareerStage != nil {
		user.CareerStage = strings.TrimSpace(*body.CareerStage)
	}
	if body.TargetRole != nil {
		user.TargetRole = strings.TrimSpace(*body.TargetRole)
	}
	if body.Skills != nil {
		user.Skills = cleanList(*body.Skills)
	}

	updated, err := r.store.UpsertUser(req.Context(), *user)
	if err != nil {
		r.logger.Printf("auth: failed to update user %s: %v", user.ID, err)
		http.Error(w, `{"error": "failed to update profile"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": updated})
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
