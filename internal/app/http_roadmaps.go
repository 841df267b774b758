package app

import (
	"net/http"

	"prdigy/api/internal/access"
	"prdigy/api/internal/roadmap"
)

// handleRoadmaps serves /api/roadmaps and everything below a single roadmap.
func (s *HTTPServer) handleRoadmaps(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			var (
				items []roadmap.Roadmap
				err   error
			)
			if owner := r.URL.Query().Get("owner"); owner != "" {
				items, err = s.service.ListRoadmapsOwnedBy(ctx, session, owner, r.Header.Get(guestTokenHeader))
			} else {
				items, err = s.service.ListRoadmaps(ctx, session)
			}
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"roadmaps": items})
		case http.MethodPost:
			var in roadmap.RoadmapInput
			if err := decodeBody(r, &in); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			rm, err := s.service.CreateRoadmap(ctx, session, in)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, rm)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	roadmapID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			rm, role, err := s.service.GetRoadmap(ctx, session, roadmapID)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"roadmap": rm, "role": role})
		case http.MethodPut:
			var in roadmap.RoadmapInput
			if err := decodeBody(r, &in); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			rm, err := s.service.UpdateRoadmap(ctx, session, roadmapID, in)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, rm)
		case http.MethodDelete:
			if err := s.service.DeleteRoadmap(ctx, session, roadmapID); err != nil {
				writeServiceError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case parts[1] == "tree" && r.Method == http.MethodGet:
		tree, role, err := s.service.GetTree(ctx, session, roadmapID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tree": tree, "role": role})

	case parts[1] == "milestones" && r.Method == http.MethodPost:
		var in roadmap.MilestoneInput
		if err := decodeBody(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		m, err := s.service.CreateMilestone(ctx, session, roadmapID, in)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)

	case parts[1] == "epics" && r.Method == http.MethodPost:
		var in roadmap.EpicInput
		if err := decodeBody(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		epic, err := s.service.CreateEpic(ctx, session, roadmapID, in)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, epic)

	case parts[1] == "share":
		s.handleShareSettings(w, r, session, roadmapID)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleShareSettings(w http.ResponseWriter, r *http.Request, session Session, roadmapID string) {
	ctx := r.Context()
	switch r.Method {
	case http.MethodGet:
		settings, err := s.service.GetShareSettings(ctx, session, roadmapID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
	case http.MethodPut:
		var in access.ShareInput
		if err := decodeBody(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		settings, err := s.service.ShareRoadmap(ctx, session, roadmapID, in)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
	case http.MethodDelete:
		if err := s.service.DisableSharing(ctx, session, roadmapID); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleShareToken(w http.ResponseWriter, r *http.Request, token string) {
	resolution, err := s.service.ResolveShareToken(r.Context(), token, s.optionalSession(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resolution)
}

// handleChildren serves /api/{milestones,epics,features,tasks}/{id} and the
// nested create routes /api/epics/{id}/features and /api/features/{id}/tasks.
func (s *HTTPServer) handleChildren(w http.ResponseWriter, r *http.Request, session Session, kind string, parts []string) {
	ctx := r.Context()
	if len(parts) == 0 || len(parts) > 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	id := parts[0]

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		switch {
		case kind == "epics" && parts[1] == "features":
			var in roadmap.FeatureInput
			if err := decodeBody(r, &in); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			feature, err := s.service.CreateFeature(ctx, session, id, in)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, feature)
		case kind == "features" && parts[1] == "tasks":
			var in roadmap.TaskInput
			if err := decodeBody(r, &in); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			task, err := s.service.CreateTask(ctx, session, id, in)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, task)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
		return
	}

	switch r.Method {
	case http.MethodPut:
		var (
			updated any
			err     error
		)
		switch kind {
		case "milestones":
			var m roadmap.Milestone
			if err := decodeBody(r, &m); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			updated, err = s.service.UpdateMilestone(ctx, session, id, m)
		case "epics":
			var e roadmap.Epic
			if err := decodeBody(r, &e); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			updated, err = s.service.UpdateEpic(ctx, session, id, e)
		case "features":
			var f roadmap.Feature
			if err := decodeBody(r, &f); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			updated, err = s.service.UpdateFeature(ctx, session, id, f)
		case "tasks":
			var t roadmap.Task
			if err := decodeBody(r, &t); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			updated, err = s.service.UpdateTask(ctx, session, id, t)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case http.MethodDelete:
		var err error
		switch kind {
		case "milestones":
			err = s.service.DeleteMilestone(ctx, session, id)
		case "epics":
			err = s.service.DeleteEpic(ctx, session, id)
		case "features":
			err = s.service.DeleteFeature(ctx, session, id)
		case "tasks":
			err = s.service.DeleteTask(ctx, session, id)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}
