package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"prdigy/api/internal/rbac"
)

func TestResolveRolePrecedence(t *testing.T) {
	invitations := []Invitation{{Email: "alice@x.com", Role: rbac.RoleEditor}}
	link := PublicLink{Enabled: true, Role: rbac.RoleViewer, Token: "tok"}

	cases := []struct {
		name  string
		email string
		link  PublicLink
		role  rbac.Role
		ok    bool
	}{
		{name: "invited beats link", email: "alice@x.com", link: link, role: rbac.RoleEditor, ok: true},
		{name: "email match ignores case", email: " Alice@X.com ", link: link, role: rbac.RoleEditor, ok: true},
		{name: "uninvited gets link role", email: "bob@x.com", link: link, role: rbac.RoleViewer, ok: true},
		{name: "anonymous gets link role", email: "", link: link, role: rbac.RoleViewer, ok: true},
		{name: "invited without link", email: "alice@x.com", link: PublicLink{}, role: rbac.RoleEditor, ok: true},
		{name: "disabled link is no grant", email: "bob@x.com", link: PublicLink{Role: rbac.RoleViewer}, ok: false},
		{name: "link never grants editor", email: "bob@x.com", link: PublicLink{Enabled: true, Role: rbac.RoleEditor}, role: rbac.RoleViewer, ok: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			role, ok := ResolveRole(tc.email, invitations, tc.link)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.role, role)
		})
	}
}

func TestEffectiveRole(t *testing.T) {
	settings := &ShareSettings{
		OwnerID:     "usr_owner",
		Invitations: []Invitation{{Email: "carol@x.com", Role: rbac.RoleCommenter}},
		PublicLink:  PublicLink{Enabled: true, Role: rbac.RoleViewer},
	}

	role, via, ok := EffectiveRole(Viewer{UserID: "usr_owner", Authenticated: true}, "usr_owner", nil)
	require.True(t, ok)
	require.Equal(t, rbac.RoleAdmin, role)
	require.Equal(t, ViaOwner, via)

	role, via, ok = EffectiveRole(Viewer{UserID: "usr_c", Email: "carol@x.com", Authenticated: true}, "usr_owner", settings)
	require.True(t, ok)
	require.Equal(t, rbac.RoleCommenter, role)
	require.Equal(t, ViaInvitation, via)

	_, _, ok = EffectiveRole(Viewer{UserID: "usr_d", Email: "dave@x.com", Authenticated: true}, "usr_owner", settings)
	require.False(t, ok, "the public link does not apply outside the token")

	_, _, ok = EffectiveRole(Viewer{UserID: "usr_owner"}, "usr_owner", settings)
	require.False(t, ok, "unauthenticated viewers hold nothing")
}

func TestPublicLinkExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	require.False(t, PublicLink{}.Expired(now))
	require.True(t, PublicLink{ExpiresAt: &past}.Expired(now))
	require.True(t, PublicLink{ExpiresAt: &now}.Expired(now))
	require.False(t, PublicLink{ExpiresAt: &future}.Expired(now))
}
