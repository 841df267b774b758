// Package migration moves roadmaps created under an anonymous guest identity
// to the account that guest later signs up with, exactly once per device.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"prdigy/api/internal/roadmap"
)

var ErrNoGuest = errors.New("migration: no guest identity on this device")

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseChecking  Phase = "checking"
	PhaseMigrating Phase = "migrating"
	PhaseComplete  Phase = "complete"
	PhaseSkipped   Phase = "skipped"
)

type Reason string

const (
	ReasonNoGuest          Reason = "no_guest"
	ReasonNotAuthenticated Reason = "not_authenticated"
	ReasonSameIdentity     Reason = "same_identity"
	ReasonProfileLoading   Reason = "profile_loading"
	ReasonEmailUnverified  Reason = "email_unverified"
	ReasonAlreadyComplete  Reason = "already_complete"
	ReasonSkipped          Reason = "skipped"
	ReasonNothingToMigrate Reason = "nothing_to_migrate"
	ReasonMigrated         Reason = "migrated"
)

// Identity is the currently active account as the caller sees it.
type Identity struct {
	UserID        string
	Email         string
	Anonymous     bool
	ProfileLoaded bool
	EmailVerified bool
}

// Status is the completion record for one guest identity.
type Status struct {
	GuestUserID   string     `json:"guestUserId" yaml:"guest_user_id"`
	IsComplete    bool       `json:"isComplete" yaml:"is_complete"`
	IsSkipped     bool       `json:"isSkipped" yaml:"is_skipped"`
	MigratedCount int        `json:"migratedCount" yaml:"migrated_count"`
	CompletedAt   *time.Time `json:"completedAt,omitempty" yaml:"completed_at,omitempty"`
}

// Markers is the device-local persistence of the guest identity and its
// migration record. Missing values read as "" and a zero Status.
type Markers interface {
	GuestID(ctx context.Context) (string, error)
	SetGuestID(ctx context.Context, guestUserID string) error
	ClearGuestID(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	SaveStatus(ctx context.Context, status Status) error
}

type Gateway interface {
	ListRoadmapsByOwner(ctx context.Context, ownerID string) ([]roadmap.Roadmap, error)
	TransferOwnership(ctx context.Context, guestUserID, targetUserID string) (int, error)
}

type Result struct {
	Phase         Phase  `json:"phase"`
	Reason        Reason `json:"reason"`
	GuestUserID   string `json:"guestUserId,omitempty"`
	MigratedCount int    `json:"migratedCount"`
}

// State is what a device currently knows about its guest identity.
type State struct {
	GuestUserID string `json:"guestUserId,omitempty"`
	Status      Status `json:"status"`
}

type Coordinator struct {
	gw      Gateway
	markers Markers
	now     func() time.Time
	logger  *log.Logger
	group   singleflight.Group
}

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

func NewCoordinator(gw Gateway, markers Markers, opts ...Option) *Coordinator {
	c := &Coordinator{
		gw:      gw,
		markers: markers,
		now:     time.Now,
		logger:  log.Default().WithPrefix("migration"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartGuest records guestUserID as this device's anonymous identity.
func (c *Coordinator) StartGuest(ctx context.Context, guestUserID string) error {
	if guestUserID == "" {
		return ErrNoGuest
	}
	if err := c.markers.SetGuestID(ctx, guestUserID); err != nil {
		return fmt.Errorf("save guest id: %w", err)
	}
	return nil
}

func (c *Coordinator) State(ctx context.Context) (State, error) {
	guestID, err := c.markers.GuestID(ctx)
	if err != nil {
		return State{}, fmt.Errorf("read guest id: %w", err)
	}
	status, err := c.markers.Status(ctx)
	if err != nil {
		return State{}, fmt.Errorf("read migration status: %w", err)
	}
	return State{GuestUserID: guestID, Status: status}, nil
}

// Run is the automatic trigger. It transfers the guest's roadmaps to
// identity when every precondition holds and no completion or skip marker
// exists for the guest. Concurrent runs for one guest share a single
// transfer.
func (c *Coordinator) Run(ctx context.Context, identity Identity) (Result, error) {
	return c.run(ctx, identity, false)
}

// MigrateNow is the manual trigger. It ignores a skip marker but keeps every
// other gate.
func (c *Coordinator) MigrateNow(ctx context.Context, identity Identity) (Result, error) {
	return c.run(ctx, identity, true)
}

// Skip records that the user declined migration for the current guest. The
// guest keeps its roadmaps.
func (c *Coordinator) Skip(ctx context.Context) (Result, error) {
	guestID, err := c.markers.GuestID(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read guest id: %w", err)
	}
	if guestID == "" {
		return Result{}, ErrNoGuest
	}
	if err := c.markers.SaveStatus(ctx, Status{GuestUserID: guestID, IsSkipped: true}); err != nil {
		return Result{}, fmt.Errorf("save migration status: %w", err)
	}
	c.logger.Info("migration skipped", "guest_user_id", guestID)
	return Result{Phase: PhaseSkipped, Reason: ReasonSkipped, GuestUserID: guestID}, nil
}

func (c *Coordinator) run(ctx context.Context, identity Identity, manual bool) (Result, error) {
	guestID, err := c.markers.GuestID(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read guest id: %w", err)
	}
	idle := func(reason Reason) (Result, error) {
		return Result{Phase: PhaseIdle, Reason: reason, GuestUserID: guestID}, nil
	}
	switch {
	case guestID == "":
		return idle(ReasonNoGuest)
	case identity.Anonymous || identity.UserID == "":
		return idle(ReasonNotAuthenticated)
	case identity.UserID == guestID:
		return idle(ReasonSameIdentity)
	case !identity.ProfileLoaded:
		return idle(ReasonProfileLoading)
	case !identity.EmailVerified:
		return idle(ReasonEmailUnverified)
	}

	// One flight per guest, whatever the trigger. A manual caller that joined
	// an automatic run stopped by a skip goes again on its own.
	result, shared, err := c.flight(ctx, guestID, identity.UserID, manual)
	if err == nil && manual && shared && result.Phase == PhaseSkipped {
		result, _, err = c.flight(ctx, guestID, identity.UserID, true)
	}
	return result, err
}

func (c *Coordinator) flight(ctx context.Context, guestID, targetID string, manual bool) (Result, bool, error) {
	v, err, shared := c.group.Do(guestID, func() (any, error) {
		return c.migrate(ctx, guestID, targetID, manual)
	})
	if err != nil {
		return Result{}, shared, err
	}
	return v.(Result), shared, nil
}

func (c *Coordinator) migrate(ctx context.Context, guestID, targetID string, manual bool) (Result, error) {
	status, err := c.markers.Status(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("read migration status: %w", err)
	}
	if status.GuestUserID == guestID {
		if status.IsComplete {
			return Result{Phase: PhaseComplete, Reason: ReasonAlreadyComplete, GuestUserID: guestID, MigratedCount: status.MigratedCount}, nil
		}
		if status.IsSkipped && !manual {
			return Result{Phase: PhaseSkipped, Reason: ReasonSkipped, GuestUserID: guestID}, nil
		}
	}

	// Checking
	owned, err := c.gw.ListRoadmapsByOwner(ctx, guestID)
	if err != nil {
		c.logger.Error("list guest roadmaps failed", "guest_user_id", guestID, "err", err)
		return Result{}, fmt.Errorf("list guest roadmaps: %w", err)
	}
	if len(owned) == 0 {
		return Result{Phase: PhaseIdle, Reason: ReasonNothingToMigrate, GuestUserID: guestID}, nil
	}

	// Migrating
	count, err := c.gw.TransferOwnership(ctx, guestID, targetID)
	if err != nil {
		c.logger.Error("roadmap transfer failed", "guest_user_id", guestID, "target_user_id", targetID, "err", err)
		return Result{}, fmt.Errorf("transfer ownership: %w", err)
	}

	completedAt := c.now().UTC()
	done := Status{GuestUserID: guestID, IsComplete: true, MigratedCount: count, CompletedAt: &completedAt}
	if err := c.markers.SaveStatus(ctx, done); err != nil {
		return Result{}, fmt.Errorf("save migration status: %w", err)
	}
	if err := c.markers.ClearGuestID(ctx); err != nil {
		return Result{}, fmt.Errorf("clear guest id: %w", err)
	}
	c.logger.Info("guest roadmaps migrated", "guest_user_id", guestID, "target_user_id", targetID, "count", count)
	return Result{Phase: PhaseComplete, Reason: ReasonMigrated, GuestUserID: guestID, MigratedCount: count}, nil
}
