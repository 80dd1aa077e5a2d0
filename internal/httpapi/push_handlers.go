package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
)

type pushTokenBody struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

func decodePushBody(w http.ResponseWriter, req *http.Request) (*pushTokenBody, bool) {
	var body pushTokenBody
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return nil, false
	}
	body.Token = strings.TrimSpace(body.Token)
	body.Platform = strings.ToLower(strings.TrimSpace(body.Platform))
	if body.Token == "" {
		http.Error(w, `{"error": "token is required"}`, http.StatusBadRequest)
		return nil, false
	}
	return &body, true
}

// handlePushRegister registers a device for report-ready notifications
func (r *Router) handlePushRegister(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	body, ok := decodePushBody(w, req)
	if !ok {
		return
	}

	if body.Platform != "ios" && body.Platform != "android" {
		http.Error(w, `{"error": "platform must be 'ios' or 'android'"}`, http.StatusBadRequest)
		return
	}

	if err := r.store.RegisterPushToken(req.Context(), user.ID, body.Token, body.Platform); err != nil {
		r.logger.Printf("push: failed to register token: %v", err)
		http.Error(w, `{"error": "failed to register token"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("push: registered %s token for user %s", body.Platform, user.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePushUnregister removes a device push token
func (r *Router) handlePushUnregister(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		http.Error(w, `{"error": "unauthorized"}`, http.StatusUnauthorized)
		return
	}

	body, ok := decodePushBody(w, req)
	if !ok {
		return
	}

	if err := r.store.UnregisterPushToken(req.Context(), body.Token); err != nil {
		r.logger.Printf("push: failed to unregister token: %v", err)
		http.Error(w, `{"error": "failed to unregister token"}`, http.StatusInternalServerError)
		return
	}

	r.logger.Printf("push: unregistered token for user %s", user.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
