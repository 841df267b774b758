package email

import (
	"context"
	"strings"

	"prdigy/api/internal/access"
	"prdigy/api/internal/roadmap"
)

var _ access.Notifier = (*ShareNotifier)(nil)

// ShareNotifier mails newly invited addresses a link to the shared roadmap.
type ShareNotifier struct {
	svc     *Service
	baseURL string
}

func NewShareNotifier(svc *Service, baseURL string) *ShareNotifier {
	return &ShareNotifier{svc: svc, baseURL: strings.TrimRight(baseURL, "/")}
}

func (n *ShareNotifier) NotifyInvitation(_ context.Context, rm roadmap.Roadmap, inv access.Invitation, token string) error {
	if !n.svc.IsConfigured() {
		return nil
	}
	return n.svc.SendInvitationEmail(inv.Email, rm.Name, string(inv.Role), n.baseURL+"/share/"+token)
}
