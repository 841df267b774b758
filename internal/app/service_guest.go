package app

import (
	"context"
	"net/http"

	"prdigy/api/internal/auth"
	"prdigy/api/internal/migration"
)

// coordinator returns the shared coordinator of one device, so concurrent
// requests from that device collapse into a single transfer.
func (s *Service) coordinator(deviceID string) *migration.Coordinator {
	s.coordMu.Lock()
	defer s.coordMu.Unlock()
	if c, ok := s.coordinators[deviceID]; ok {
		return c
	}
	if len(s.coordinators) >= maxCoordinators {
		clear(s.coordinators)
	}
	c := migration.NewCoordinator(s.store, s.markers(deviceID),
		migration.WithLogger(s.logger.WithPrefix("migration")),
	)
	s.coordinators[deviceID] = c
	return c
}

// deviceCoordinator returns the device's coordinator once the caller has
// shown it speaks for the device's current guest, either as that guest's own
// session or with the guest's token. A device without a guest needs no proof.
func (s *Service) deviceCoordinator(ctx context.Context, session *Session, deviceID, guestToken string) (*migration.Coordinator, error) {
	c := s.coordinator(deviceID)
	state, err := c.State(ctx)
	if err != nil {
		return nil, err
	}
	if state.GuestUserID == "" {
		return c, nil
	}
	if session != nil && session.Guest && session.UserID == state.GuestUserID {
		return c, nil
	}
	if err := s.proveGuest(guestToken, state.GuestUserID); err != nil {
		return nil, err
	}
	return c, nil
}

// StartGuestSession creates an anonymous account, records it as the
// device's guest and returns its session. Replacing a device's existing guest
// requires proof of that guest.
func (s *Service) StartGuestSession(ctx context.Context, caller *Session, deviceID, guestToken string) (Session, error) {
	c, err := s.deviceCoordinator(ctx, caller, deviceID, guestToken)
	if err != nil {
		return Session{}, err
	}
	user, err := s.auth.CreateGuest(ctx)
	if err != nil {
		return Session{}, err
	}
	session, err := s.issueSession(ctx, user, s.cfg.GuestTTL)
	if err != nil {
		return Session{}, err
	}
	if err := c.StartGuest(ctx, user.ID); err != nil {
		return Session{}, err
	}
	s.logger.Info("guest session started", "user_id", user.ID, "device_id", deviceID)
	return session, nil
}

func (s *Service) GuestState(ctx context.Context, session Session, deviceID, guestToken string) (migration.State, error) {
	c, err := s.deviceCoordinator(ctx, &session, deviceID, guestToken)
	if err != nil {
		return migration.State{}, err
	}
	return c.State(ctx)
}

// MigrateGuest runs the device's migration for the signed-in account. manual
// ignores an earlier skip. The caller must hold the device guest's token.
func (s *Service) MigrateGuest(ctx context.Context, session Session, deviceID, guestToken string, manual bool) (migration.Result, error) {
	c, err := s.deviceCoordinator(ctx, &session, deviceID, guestToken)
	if err != nil {
		return migration.Result{}, err
	}
	if manual {
		return c.MigrateNow(ctx, session.identity())
	}
	return c.Run(ctx, session.identity())
}

func (s *Service) SkipMigration(ctx context.Context, session Session, deviceID, guestToken string) (migration.Result, error) {
	c, err := s.deviceCoordinator(ctx, &session, deviceID, guestToken)
	if err != nil {
		return migration.Result{}, err
	}
	return c.Skip(ctx)
}

// TransferGuestRoadmaps moves a guest's roadmaps to the caller. The caller
// must be a verified account and must present the guest's own token.
func (s *Service) TransferGuestRoadmaps(ctx context.Context, session Session, guestUserID, guestToken string) (int, error) {
	if session.Guest {
		return 0, domainError(http.StatusForbidden, "GUEST_TARGET", "Guests cannot receive roadmaps", nil)
	}
	if !session.Verified {
		return 0, domainError(http.StatusForbidden, "EMAIL_NOT_VERIFIED", "Verify your email before migrating", nil)
	}
	if err := s.proveGuest(guestToken, guestUserID); err != nil {
		return 0, err
	}
	count, err := s.store.TransferOwnership(ctx, guestUserID, session.UserID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("guest roadmaps transferred", "guest_user_id", guestUserID, "target_user_id", session.UserID, "count", count)
	return count, nil
}

// proveGuest checks that token is a live guest token for guestUserID.
func (s *Service) proveGuest(token, guestUserID string) error {
	if token == "" || guestUserID == "" {
		return domainError(http.StatusForbidden, "GUEST_PROOF_REQUIRED", "A guest token is required", nil)
	}
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil || !claims.Guest || claims.Sub != guestUserID {
		return domainError(http.StatusForbidden, "GUEST_PROOF_INVALID", "Guest token does not match", nil)
	}
	return nil
}
