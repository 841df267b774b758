package app

import (
	"net/http"
	"strings"
)

// handleGuest serves /api/guest/*. Every route is scoped to the device named
// in X-Device-ID. Apart from starting a guest, each needs a session that
// speaks for the device's guest: the guest itself, or an account sending the
// guest's token in X-Guest-Token.
func (s *HTTPServer) handleGuest(w http.ResponseWriter, r *http.Request) {
	deviceID := strings.TrimSpace(r.Header.Get(deviceHeader))
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "DEVICE_REQUIRED", "X-Device-ID header is required", nil)
		return
	}
	ctx := r.Context()
	guestToken := r.Header.Get(guestTokenHeader)

	if r.Method == http.MethodPost && r.URL.Path == "/api/guest/session" {
		session, err := s.service.StartGuestSession(ctx, s.optionalSession(r), deviceID, guestToken)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sessionPayload(session))
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/guest/status":
		state, err := s.service.GuestState(ctx, session, deviceID, guestToken)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)

	case r.Method == http.MethodPost && r.URL.Path == "/api/guest/migrate":
		var body struct {
			Manual bool `json:"manual"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.MigrateGuest(ctx, session, deviceID, guestToken, body.Manual)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case r.Method == http.MethodPost && r.URL.Path == "/api/guest/skip":
		result, err := s.service.SkipMigration(ctx, session, deviceID, guestToken)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleTransfer(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		GuestUserID  string `json:"guestUserId"`
		TargetUserID string `json:"targetUserId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if body.TargetUserID != "" && body.TargetUserID != session.UserID {
		writeError(w, http.StatusForbidden, "TARGET_MISMATCH", "Roadmaps can only move to the signed-in account", nil)
		return
	}
	count, err := s.service.TransferGuestRoadmaps(r.Context(), session, body.GuestUserID, r.Header.Get(guestTokenHeader))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"migratedCount": count})
}
