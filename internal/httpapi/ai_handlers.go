package httpapi

import (
	"encoding/json"
	"net/http"
)

// handleTurnDetection tells the client whether a transcript reads as a
// finished answer. Classifier failures come back as "not complete".
func (r *Router) handleTurnDetection(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Transcript string `json:"transcript"`
		Question   string `json:"question"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, `{"error": "invalid request body"}`, http.StatusBadRequest)
		return
	}

	est, err := r.classifier.Classify(req.Context(), body.Transcript, body.Question)
	if err != nil {
		r.logger.Printf("ai: turn detection failed: %v", err)
		captureError(req, err, "ai: turn detection")
		http.Error(w, `{"error": "turn detection failed"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, est)
}
