package access

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/charmbracelet/log"

	"prdigy/api/internal/rbac"
	"prdigy/api/internal/roadmap"
)

var (
	ErrShareNotFound   = errors.New("access: share link not found")
	ErrShareExpired    = errors.New("access: share link expired")
	ErrLinkRoleCeiling = errors.New("access: public link role must be viewer or commenter")
	ErrAnonymous       = errors.New("access: viewer has no authenticated email")
)

// Gateway persists share settings. GetShareSettings and
// GetShareSettingsByToken return nil, nil when nothing is stored.
type Gateway interface {
	GetRoadmap(ctx context.Context, roadmapID string) (roadmap.Roadmap, error)
	GetRoadmapTree(ctx context.Context, roadmapID string) (roadmap.Tree, error)
	GetShareSettings(ctx context.Context, roadmapID string) (*ShareSettings, error)
	GetShareSettingsByToken(ctx context.Context, token string) (*ShareSettings, error)
	UpsertShareSettings(ctx context.Context, settings ShareSettings) (ShareSettings, error)
	DeleteShareSettings(ctx context.Context, roadmapID string) error
	RecordShareAccess(ctx context.Context, roadmapID string) error
	ListSharedWith(ctx context.Context, email string) ([]SharedRoadmap, error)
}

// Notifier is told about addresses that were newly invited.
type Notifier interface {
	NotifyInvitation(ctx context.Context, rm roadmap.Roadmap, inv Invitation, token string) error
}

type Resolver struct {
	gw       Gateway
	notifier Notifier
	now      func() time.Time
	logger   *log.Logger
}

type ResolverOption func(*Resolver)

func WithNotifier(n Notifier) ResolverOption {
	return func(r *Resolver) { r.notifier = n }
}

func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

func WithLogger(logger *log.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

func NewResolver(gw Gateway, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		gw:     gw,
		now:    time.Now,
		logger: log.Default().WithPrefix("access"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetShareSettings returns nil when sharing was never configured.
func (r *Resolver) GetShareSettings(ctx context.Context, roadmapID string) (*ShareSettings, error) {
	settings, err := r.gw.GetShareSettings(ctx, roadmapID)
	if err != nil {
		return nil, fmt.Errorf("get share settings: %w", err)
	}
	return settings, nil
}

// ShareRoadmap replaces the invitation list and link role and enables the
// public link. The link token survives repeated calls.
func (r *Resolver) ShareRoadmap(ctx context.Context, roadmapID string, in ShareInput) (ShareSettings, error) {
	invitations, err := cleanInvitations(in.InvitedEmails)
	if err != nil {
		return ShareSettings{}, err
	}
	role := in.DefaultRole
	if role == "" {
		role = rbac.RoleViewer
	}
	if !rbac.LinkGrantable(role) {
		return ShareSettings{}, ErrLinkRoleCeiling
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(r.now()) {
		return ShareSettings{}, &roadmap.ValidationError{Field: "expiresAt", Message: "must be in the future"}
	}

	rm, err := r.gw.GetRoadmap(ctx, roadmapID)
	if err != nil {
		return ShareSettings{}, fmt.Errorf("get roadmap: %w", err)
	}
	previous, err := r.gw.GetShareSettings(ctx, roadmapID)
	if err != nil {
		return ShareSettings{}, fmt.Errorf("get share settings: %w", err)
	}

	settings := ShareSettings{
		RoadmapID:   roadmapID,
		OwnerID:     rm.OwnerID,
		Invitations: invitations,
		PublicLink: PublicLink{
			Enabled:   true,
			Role:      role,
			ExpiresAt: in.ExpiresAt,
		},
	}
	if previous != nil {
		settings.PublicLink.Token = previous.PublicLink.Token
	}
	if settings.PublicLink.Token == "" {
		settings.PublicLink.Token = generateShareToken(32)
	}

	saved, err := r.gw.UpsertShareSettings(ctx, settings)
	if err != nil {
		return ShareSettings{}, fmt.Errorf("upsert share settings: %w", err)
	}

	if r.notifier != nil {
		for _, inv := range newlyInvited(previous, saved.Invitations) {
			if err := r.notifier.NotifyInvitation(ctx, rm, inv, saved.PublicLink.Token); err != nil {
				r.logger.Warn("invitation email failed", "roadmap_id", roadmapID, "email", inv.Email, "err", err)
			}
		}
	}
	return saved, nil
}

// DisableSharing removes the settings record. Invitations go with it and the
// old token stops resolving.
func (r *Resolver) DisableSharing(ctx context.Context, roadmapID string) error {
	if err := r.gw.DeleteShareSettings(ctx, roadmapID); err != nil {
		return fmt.Errorf("delete share settings: %w", err)
	}
	return nil
}

// RoadmapByShareToken resolves a public token for viewer. It fails with
// ErrShareNotFound or ErrShareExpired; the two are never merged.
func (r *Resolver) RoadmapByShareToken(ctx context.Context, token string, viewer Viewer) (Resolution, error) {
	if token == "" {
		return Resolution{}, ErrShareNotFound
	}
	settings, err := r.gw.GetShareSettingsByToken(ctx, token)
	if err != nil {
		return Resolution{}, fmt.Errorf("get share settings by token: %w", err)
	}
	if settings == nil || !settings.PublicLink.Enabled {
		return Resolution{}, ErrShareNotFound
	}
	if settings.PublicLink.Expired(r.now()) {
		return Resolution{}, ErrShareExpired
	}

	role, via, ok := linkRole(viewer, *settings)
	if !ok {
		return Resolution{}, ErrShareNotFound
	}
	tree, err := r.gw.GetRoadmapTree(ctx, settings.RoadmapID)
	if err != nil {
		return Resolution{}, fmt.Errorf("get roadmap tree: %w", err)
	}
	if err := r.gw.RecordShareAccess(ctx, settings.RoadmapID); err != nil {
		r.logger.Warn("record share access failed", "roadmap_id", settings.RoadmapID, "err", err)
	}
	return Resolution{Roadmap: tree, Role: role, Via: via}, nil
}

// SharedWithMe lists roadmaps of other owners that invite viewer's email.
func (r *Resolver) SharedWithMe(ctx context.Context, viewer Viewer) ([]SharedRoadmap, error) {
	email := normalizeEmail(viewer.Email)
	if !viewer.Authenticated || email == "" {
		return nil, ErrAnonymous
	}
	shared, err := r.gw.ListSharedWith(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("list shared roadmaps: %w", err)
	}
	out := make([]SharedRoadmap, 0, len(shared))
	for _, item := range shared {
		if item.Roadmap.OwnerID == viewer.UserID {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

// cleanInvitations validates and de-duplicates invitations. A repeated
// address keeps its first slot and its last role.
func cleanInvitations(in []Invitation) ([]Invitation, error) {
	out := make([]Invitation, 0, len(in))
	index := make(map[string]int, len(in))
	for _, inv := range in {
		addr, err := mail.ParseAddress(inv.Email)
		if err != nil {
			return nil, &roadmap.ValidationError{Field: "email", Message: fmt.Sprintf("%q is not a valid address", inv.Email)}
		}
		email := normalizeEmail(addr.Address)
		role := inv.Role
		if role == "" {
			role = rbac.RoleViewer
		}
		if !rbac.Grantable(role) {
			return nil, &roadmap.ValidationError{Field: "role", Message: fmt.Sprintf("%q cannot be granted", role)}
		}
		if i, ok := index[email]; ok {
			out[i].Role = role
			continue
		}
		index[email] = len(out)
		out = append(out, Invitation{Email: email, Role: role})
	}
	return out, nil
}

func newlyInvited(previous *ShareSettings, current []Invitation) []Invitation {
	known := make(map[string]struct{})
	if previous != nil {
		for _, inv := range previous.Invitations {
			known[normalizeEmail(inv.Email)] = struct{}{}
		}
	}
	var out []Invitation
	for _, inv := range current {
		if _, ok := known[normalizeEmail(inv.Email)]; !ok {
			out = append(out, inv)
		}
	}
	return out
}

func generateShareToken(length int) string {
	b := make([]byte, length)
	if _, err := crand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}
