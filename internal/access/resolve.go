// Package access decides who may see, comment on or edit a roadmap. Grants
// come from per-email invitations and from a public link whose role is capped
// below editor.
package access

import (
	"strings"
	"time"

	"prdigy/api/internal/rbac"
	"prdigy/api/internal/roadmap"
)

type Invitation struct {
	Email string    `json:"email"`
	Role  rbac.Role `json:"role"`
}

type PublicLink struct {
	Enabled   bool       `json:"enabled"`
	Role      rbac.Role  `json:"role"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the link is past its expiry at now.
func (l PublicLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

type ShareSettings struct {
	RoadmapID      string       `json:"roadmapId"`
	OwnerID        string       `json:"ownerId"`
	Invitations    []Invitation `json:"invitations"`
	PublicLink     PublicLink   `json:"publicLink"`
	AccessCount    int          `json:"accessCount"`
	LastAccessedAt *time.Time   `json:"lastAccessedAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

type ShareInput struct {
	InvitedEmails []Invitation `json:"invitedEmails"`
	DefaultRole   rbac.Role    `json:"defaultRole"`
	ExpiresAt     *time.Time   `json:"expiresAt,omitempty"`
}

// Viewer is whoever is asking. Anonymous viewers carry no email.
type Viewer struct {
	UserID        string
	Email         string
	Authenticated bool
}

type Via string

const (
	ViaOwner      Via = "owner"
	ViaInvitation Via = "invitation"
	ViaLink       Via = "link"
)

type Resolution struct {
	Roadmap roadmap.Tree `json:"roadmap"`
	Role    rbac.Role    `json:"role"`
	Via     Via          `json:"via"`
}

type SharedRoadmap struct {
	Roadmap   roadmap.Roadmap `json:"roadmap"`
	Role      rbac.Role       `json:"role"`
	InvitedAt time.Time       `json:"invitedAt"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ResolveRole applies the grant precedence: a matching invitation wins, an
// enabled link is the floor for everyone else. The link never yields more
// than commenter.
func ResolveRole(viewerEmail string, invitations []Invitation, link PublicLink) (rbac.Role, bool) {
	if email := normalizeEmail(viewerEmail); email != "" {
		for _, inv := range invitations {
			if normalizeEmail(inv.Email) == email {
				return inv.Role, true
			}
		}
	}
	if !link.Enabled {
		return "", false
	}
	if !rbac.LinkGrantable(link.Role) {
		return rbac.RoleViewer, true
	}
	return link.Role, true
}

// EffectiveRole is the role a viewer holds on a roadmap outside of a share
// link: owners are admins, invited addresses get their invitation role.
func EffectiveRole(viewer Viewer, ownerID string, settings *ShareSettings) (rbac.Role, Via, bool) {
	if !viewer.Authenticated {
		return "", "", false
	}
	if viewer.UserID != "" && viewer.UserID == ownerID {
		return rbac.RoleAdmin, ViaOwner, true
	}
	if settings == nil || viewer.Email == "" {
		return "", "", false
	}
	role, ok := ResolveRole(viewer.Email, settings.Invitations, PublicLink{})
	if !ok {
		return "", "", false
	}
	return role, ViaInvitation, true
}

// linkRole resolves a viewer who arrived through the share token.
func linkRole(viewer Viewer, settings ShareSettings) (rbac.Role, Via, bool) {
	if role, via, ok := EffectiveRole(viewer, settings.OwnerID, &settings); ok {
		return role, via, true
	}
	email := ""
	if viewer.Authenticated {
		email = viewer.Email
	}
	role, ok := ResolveRole(email, nil, settings.PublicLink)
	if !ok {
		return "", "", false
	}
	return role, ViaLink, true
}
