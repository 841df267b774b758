// Package gateway talks to the Prdigy API over HTTP. Client satisfies
// roadmap.Gateway and migration.Gateway, so a roadmap.Store or a
// migration.Coordinator can run against a remote server.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"prdigy/api/internal/access"
	"prdigy/api/internal/migration"
	"prdigy/api/internal/roadmap"
)

const (
	deviceHeader     = "X-Device-ID"
	guestTokenHeader = "X-Guest-Token"
	defaultTimeout   = 30 * time.Second
)

// APIError is a non-2xx response. It unwraps to the matching domain error
// where one exists.
type APIError struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "SHARE_NOT_FOUND":
		return access.ErrShareNotFound
	case "SHARE_EXPIRED":
		return access.ErrShareExpired
	case "LINK_ROLE_CEILING":
		return access.ErrLinkRoleCeiling
	case "NO_GUEST":
		return migration.ErrNoGuest
	}
	switch e.Status {
	case http.StatusNotFound:
		return roadmap.ErrNotFound
	case http.StatusForbidden:
		return roadmap.ErrForbidden
	}
	return nil
}

// Session is what the server returns on sign in and guest start.
type Session struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
	Email        string `json:"email"`
	Verified     bool   `json:"verified"`
	Guest        bool   `json:"guest"`
	ExpiresAt    int64  `json:"expiresAt"`
}

type Client struct {
	baseURL  string
	http     *http.Client
	deviceID string

	mu         sync.RWMutex
	token      string
	guestToken string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithGuestToken sets the proof of guest ownership used by
// ListRoadmapsByOwner and TransferOwnership.
func WithGuestToken(token string) Option {
	return func(c *Client) { c.guestToken = token }
}

func WithDevice(deviceID string) Option {
	return func(c *Client) { c.deviceID = deviceID }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) SetGuestToken(token string) {
	c.mu.Lock()
	c.guestToken = token
	c.mu.Unlock()
}

func (c *Client) tokens() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.guestToken
}

type request struct {
	method     string
	path       string
	query      url.Values
	body       any
	guestProof bool
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, guestToken := c.tokens()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if r.guestProof && guestToken != "" {
		req.Header.Set(guestTokenHeader, guestToken)
	}
	if c.deviceID != "" {
		req.Header.Set(deviceHeader, c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err := json.Unmarshal(raw, apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", r.method, r.path, err)
	}
	return nil
}

// SignIn exchanges credentials for a session and keeps its token.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	var session Session
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/auth/signin",
		body:   map[string]string{"email": email, "password": password},
	}, &session)
	if err != nil {
		return Session{}, err
	}
	c.SetToken(session.AccessToken)
	return session, nil
}

// StartGuest creates a guest account for the client's device. The returned
// token becomes both the bearer token and the guest proof. A guest token the
// client already holds is sent along, since replacing a device's guest needs it.
func (c *Client) StartGuest(ctx context.Context) (Session, error) {
	if c.deviceID == "" {
		return Session{}, errors.New("gateway: device id is required")
	}
	var session Session
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/guest/session", guestProof: true}, &session); err != nil {
		return Session{}, err
	}
	c.SetToken(session.AccessToken)
	c.SetGuestToken(session.AccessToken)
	return session, nil
}

// CurrentSession reports who the bearer token belongs to. ok is false for a
// missing, expired or revoked token.
func (c *Client) CurrentSession(ctx context.Context) (Session, bool, error) {
	var resp struct {
		Session
		Authenticated bool `json:"authenticated"`
	}
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/session"}, &resp); err != nil {
		return Session{}, false, err
	}
	if !resp.Authenticated {
		return Session{}, false, nil
	}
	token, _ := c.tokens()
	resp.Session.AccessToken = token
	return resp.Session, true, nil
}

func (c *Client) CreateRoadmap(ctx context.Context, in roadmap.RoadmapInput) (roadmap.Roadmap, error) {
	var rm roadmap.Roadmap
	err := c.do(ctx, request{method: http.MethodPost, path: "/api/roadmaps", body: in}, &rm)
	return rm, err
}

func (c *Client) GetRoadmapTree(ctx context.Context, roadmapID string) (roadmap.Tree, error) {
	var resp struct {
		Tree roadmap.Tree `json:"tree"`
	}
	err := c.do(ctx, request{method: http.MethodGet, path: "/api/roadmaps/" + url.PathEscape(roadmapID) + "/tree"}, &resp)
	return resp.Tree, err
}

func (c *Client) UpdateRoadmap(ctx context.Context, roadmapID string, in roadmap.RoadmapInput) (roadmap.Roadmap, error) {
	var rm roadmap.Roadmap
	err := c.do(ctx, request{method: http.MethodPut, path: "/api/roadmaps/" + url.PathEscape(roadmapID), body: in}, &rm)
	return rm, err
}

func (c *Client) CreateMilestone(ctx context.Context, roadmapID string, in roadmap.MilestoneInput) (roadmap.Milestone, error) {
	var m roadmap.Milestone
	err := c.do(ctx, request{method: http.MethodPost, path: "/api/roadmaps/" + url.PathEscape(roadmapID) + "/milestones", body: in}, &m)
	return m, err
}

func (c *Client) UpdateMilestone(ctx context.Context, m roadmap.Milestone) (roadmap.Milestone, error) {
	var out roadmap.Milestone
	err := c.do(ctx, request{method: http.MethodPut, path: "/api/milestones/" + url.PathEscape(m.ID), body: m}, &out)
	return out, err
}

func (c *Client) DeleteMilestone(ctx context.Context, milestoneID string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/api/milestones/" + url.PathEscape(milestoneID)}, nil)
}

func (c *Client) CreateEpic(ctx context.Context, roadmapID string, in roadmap.EpicInput) (roadmap.Epic, error) {
	var e roadmap.Epic
	err := c.do(ctx, request{method: http.MethodPost, path: "/api/roadmaps/" + url.PathEscape(roadmapID) + "/epics", body: in}, &e)
	return e, err
}

func (c *Client) UpdateEpic(ctx context.Context, e roadmap.Epic) (roadmap.Epic, error) {
	var out roadmap.Epic
	err := c.do(ctx, request{method: http.MethodPut, path: "/api/epics/" + url.PathEscape(e.ID), body: e}, &out)
	return out, err
}

func (c *Client) DeleteEpic(ctx context.Context, epicID string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/api/epics/" + url.PathEscape(epicID)}, nil)
}

func (c *Client) CreateFeature(ctx context.Context, epicID string, in roadmap.FeatureInput) (roadmap.Feature, error) {
	var f roadmap.Feature
	err := c.do(ctx, request{method: http.MethodPost, path: "/api/epics/" + url.PathEscape(epicID) + "/features", body: in}, &f)
	return f, err
}

func (c *Client) UpdateFeature(ctx context.Context, f roadmap.Feature) (roadmap.Feature, error) {
	var out roadmap.Feature
	err := c.do(ctx, request{method: http.MethodPut, path: "/api/features/" + url.PathEscape(f.ID), body: f}, &out)
	return out, err
}

func (c *Client) DeleteFeature(ctx context.Context, featureID string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/api/features/" + url.PathEscape(featureID)}, nil)
}

func (c *Client) CreateTask(ctx context.Context, featureID string, in roadmap.TaskInput) (roadmap.Task, error) {
	var t roadmap.Task
	err := c.do(ctx, request{method: http.MethodPost, path: "/api/features/" + url.PathEscape(featureID) + "/tasks", body: in}, &t)
	return t, err
}

func (c *Client) UpdateTask(ctx context.Context, t roadmap.Task) (roadmap.Task, error) {
	var out roadmap.Task
	err := c.do(ctx, request{method: http.MethodPut, path: "/api/tasks/" + url.PathEscape(t.ID), body: t}, &out)
	return out, err
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/api/tasks/" + url.PathEscape(taskID)}, nil)
}

// ListRoadmapsByOwner lists ownerID's roadmaps. Listing another account
// needs the guest token set with WithGuestToken.
func (c *Client) ListRoadmapsByOwner(ctx context.Context, ownerID string) ([]roadmap.Roadmap, error) {
	var resp struct {
		Roadmaps []roadmap.Roadmap `json:"roadmaps"`
	}
	err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/api/roadmaps",
		query:      url.Values{"owner": {ownerID}},
		guestProof: true,
	}, &resp)
	return resp.Roadmaps, err
}

// TransferOwnership moves the guest's roadmaps to the signed-in account. The
// server rejects a targetUserID that is not the caller.
func (c *Client) TransferOwnership(ctx context.Context, guestUserID, targetUserID string) (int, error) {
	var resp struct {
		MigratedCount int `json:"migratedCount"`
	}
	err := c.do(ctx, request{
		method:     http.MethodPost,
		path:       "/api/migrations/transfer",
		body:       map[string]string{"guestUserId": guestUserID, "targetUserId": targetUserID},
		guestProof: true,
	}, &resp)
	return resp.MigratedCount, err
}

func (c *Client) ShareRoadmap(ctx context.Context, roadmapID string, in access.ShareInput) (access.ShareSettings, error) {
	var resp struct {
		Settings access.ShareSettings `json:"settings"`
	}
	err := c.do(ctx, request{method: http.MethodPut, path: "/api/roadmaps/" + url.PathEscape(roadmapID) + "/share", body: in}, &resp)
	return resp.Settings, err
}

// ResolveShare opens a roadmap through its public token. The bearer token,
// when set, lets an invitation outrank the link role.
func (c *Client) ResolveShare(ctx context.Context, token string) (access.Resolution, error) {
	var res access.Resolution
	err := c.do(ctx, request{method: http.MethodGet, path: "/share/" + url.PathEscape(token)}, &res)
	return res, err
}

var (
	_ roadmap.Gateway   = (*Client)(nil)
	_ migration.Gateway = (*Client)(nil)
)
