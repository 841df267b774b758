package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"prdigy/api/internal/access"
	"prdigy/api/internal/migration"
	"prdigy/api/internal/rbac"
	"prdigy/api/internal/roadmap"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func newServer(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestGetRoadmapTreeSendsBearer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/roadmaps/{id}/tree", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"tree": roadmap.Tree{Roadmap: roadmap.Roadmap{ID: r.PathValue("id"), Name: "Launch"}},
			"role": rbac.RoleAdmin,
		})
	})
	client := New(newServer(t, mux).URL, WithToken("tok"))

	tree, err := client.GetRoadmapTree(context.Background(), "rm_1")
	require.NoError(t, err)
	require.Equal(t, "rm_1", tree.Roadmap.ID)
	require.Equal(t, "Launch", tree.Roadmap.Name)
}

func TestErrorsUnwrapToDomainErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("DELETE /api/epics/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": "NOT_FOUND", "error": "Not found"})
	})
	mux.HandleFunc("PUT /api/epics/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{"code": "FORBIDDEN", "error": "Forbidden"})
	})
	mux.HandleFunc("GET /share/{token}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusGone, map[string]any{"code": "SHARE_EXPIRED", "error": "Share link expired"})
	})
	client := New(newServer(t, mux).URL)
	ctx := context.Background()

	err := client.DeleteEpic(ctx, "ep_1")
	require.ErrorIs(t, err, roadmap.ErrNotFound)

	_, err = client.UpdateEpic(ctx, roadmap.Epic{ID: "ep_1", Title: "x"})
	require.ErrorIs(t, err, roadmap.ErrForbidden)

	_, err = client.ResolveShare(ctx, "abc")
	require.ErrorIs(t, err, access.ErrShareExpired)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusGone, apiErr.Status)
}

func TestNonJSONErrorKeepsBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/roadmaps/{id}/tree", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	client := New(newServer(t, mux).URL)

	_, err := client.GetRoadmapTree(context.Background(), "rm_1")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusBadGateway, apiErr.Status)
	require.Equal(t, "upstream down", apiErr.Message)
}

func TestGuestProofHeaders(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/roadmaps", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "usr_guest", r.URL.Query().Get("owner"))
		require.Equal(t, "guest-tok", r.Header.Get(guestTokenHeader))
		writeJSON(w, http.StatusOK, map[string]any{"roadmaps": []roadmap.Roadmap{{ID: "rm_1", OwnerID: "usr_guest"}}})
	})
	mux.HandleFunc("POST /api/migrations/transfer", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "guest-tok", r.Header.Get(guestTokenHeader))
		require.Equal(t, "Bearer account-tok", r.Header.Get("Authorization"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "usr_guest", body["guestUserId"])
		require.Equal(t, "usr_account", body["targetUserId"])
		writeJSON(w, http.StatusOK, map[string]any{"migratedCount": 1})
	})
	client := New(newServer(t, mux).URL, WithToken("account-tok"), WithGuestToken("guest-tok"))
	ctx := context.Background()

	owned, err := client.ListRoadmapsByOwner(ctx, "usr_guest")
	require.NoError(t, err)
	require.Len(t, owned, 1)

	count, err := client.TransferOwnership(ctx, "usr_guest", "usr_account")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestStartGuestNeedsDevice(t *testing.T) {
	client := New("http://127.0.0.1:0")
	_, err := client.StartGuest(context.Background())
	require.Error(t, err)
}

func TestStartGuestKeepsTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/guest/session", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "device-1", r.Header.Get(deviceHeader))
		writeJSON(w, http.StatusCreated, Session{AccessToken: "guest-tok", UserID: "usr_guest", Guest: true})
	})
	client := New(newServer(t, mux).URL, WithDevice("device-1"))

	session, err := client.StartGuest(context.Background())
	require.NoError(t, err)
	require.True(t, session.Guest)
	token, guestToken := client.tokens()
	require.Equal(t, "guest-tok", token)
	require.Equal(t, "guest-tok", guestToken)
}

func TestStartGuestSendsPreviousGuestToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/guest/session", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "old-guest", r.Header.Get(guestTokenHeader))
		writeJSON(w, http.StatusCreated, Session{AccessToken: "new-guest", UserID: "usr_guest2", Guest: true})
	})
	client := New(newServer(t, mux).URL, WithDevice("device-1"), WithGuestToken("old-guest"))

	_, err := client.StartGuest(context.Background())
	require.NoError(t, err)
	_, guestToken := client.tokens()
	require.Equal(t, "new-guest", guestToken)
}

func TestStoreRunsOverClient(t *testing.T) {
	tree := roadmap.Tree{Roadmap: roadmap.Roadmap{ID: "rm_1", Name: "Launch", OwnerID: "usr_1", Status: roadmap.RoadmapActive}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/roadmaps/{id}/tree", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tree": tree})
	})
	mux.HandleFunc("POST /api/roadmaps/{id}/epics", func(w http.ResponseWriter, r *http.Request) {
		var in roadmap.EpicInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		writeJSON(w, http.StatusCreated, roadmap.Epic{
			ID:        "ep_1",
			RoadmapID: r.PathValue("id"),
			Title:     in.Title,
			Status:    in.Status,
			Priority:  in.Priority,
			Features:  []roadmap.Feature{},
		})
	})
	client := New(newServer(t, mux).URL, WithToken("tok"))

	store := roadmap.NewStore(client, roadmap.WithRole(rbac.RoleEditor))
	defer store.Close()
	ctx := context.Background()
	require.NoError(t, store.Load(ctx, "rm_1"))

	epic, err := store.AddEpic(ctx, roadmap.EpicInput{Title: "Billing"})
	require.NoError(t, err)
	require.Equal(t, "ep_1", epic.ID)

	snap, err := store.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Epics, 1)
	require.Equal(t, 0, snap.Epics[0].Position)
}

func TestCoordinatorRunsOverClient(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/roadmaps", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"roadmaps": []roadmap.Roadmap{{ID: "rm_1", OwnerID: "usr_guest"}}})
	})
	mux.HandleFunc("POST /api/migrations/transfer", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"migratedCount": 1})
	})
	client := New(newServer(t, mux).URL, WithToken("account-tok"), WithGuestToken("guest-tok"))

	markers := &migration.MemoryMarkers{}
	ctx := context.Background()
	require.NoError(t, markers.SetGuestID(ctx, "usr_guest"))
	coord := migration.NewCoordinator(client, markers)

	result, err := coord.Run(ctx, migration.Identity{UserID: "usr_account", Email: "a@example.com", ProfileLoaded: true, EmailVerified: true})
	require.NoError(t, err)
	require.Equal(t, migration.PhaseComplete, result.Phase)
	require.Equal(t, 1, result.MigratedCount)
}
