package main

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"prdigy/api/internal/gateway"
	"prdigy/api/internal/migration"
)

func guestCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guest",
		Short: "Guest sessions and their migration to an account",
		Long: `A guest session lets you build roadmaps before signing up. Once you log in
with a verified account, "guest migrate" moves the guest's roadmaps over.

The device's guest identity and migration record live under --state-dir.`,
	}
	cmd.AddCommand(guestStartCmd(g), guestStatusCmd(g), guestMigrateCmd(g), guestSkipCmd(g))
	return cmd
}

func (g *globals) coordinator(client *gateway.Client) *migration.Coordinator {
	return migration.NewCoordinator(client, migration.NewFileMarkers(g.markersPath()),
		migration.WithLogger(log.Default().WithPrefix("migration")),
	)
}

func guestStartCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Create a guest account for this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			client := gateway.New(g.server, gateway.WithDevice(g.device), gateway.WithGuestToken(g.guestToken))
			session, err := client.StartGuest(ctx)
			if err != nil {
				return err
			}
			if err := g.coordinator(client).StartGuest(ctx, session.UserID); err != nil {
				return err
			}
			g.credentials.Token = session.AccessToken
			g.credentials.UserID = session.UserID
			g.credentials.GuestToken = session.AccessToken
			g.credentials.GuestUserID = session.UserID
			if err := writeCredentials(g.credentialsPath(), g.credentials); err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), session, func(w io.Writer) {
				printf(w, "guest %s started on device %s\n", session.UserID, g.device)
			})
		},
	}
}

func guestStatusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the device's guest identity and migration record",
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := g.coordinator(g.client()).State(context.Background())
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), state, func(w io.Writer) {
				if state.GuestUserID == "" {
					printf(w, "no guest on device %s\n", g.device)
				} else {
					printf(w, "guest %s\n", state.GuestUserID)
				}
				switch {
				case state.Status.IsComplete:
					printf(w, "migrated %d roadmaps from %s\n", state.Status.MigratedCount, state.Status.GuestUserID)
				case state.Status.IsSkipped:
					printf(w, "migration skipped for %s\n", state.Status.GuestUserID)
				}
			})
		},
	}
}

func guestMigrateCmd(g *globals) *cobra.Command {
	var manual bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move the guest's roadmaps to the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			client := g.client()
			session, ok, err := client.CurrentSession(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return errors.New("not signed in, run roadmapctl login first")
			}
			identity := migration.Identity{
				UserID:        session.UserID,
				Email:         session.Email,
				Anonymous:     session.Guest,
				ProfileLoaded: true,
				EmailVerified: session.Verified,
			}

			coord := g.coordinator(client)
			var result migration.Result
			if manual {
				result, err = coord.MigrateNow(ctx, identity)
			} else {
				result, err = coord.Run(ctx, identity)
			}
			if err != nil {
				return err
			}
			if result.Phase == migration.PhaseComplete && result.Reason == migration.ReasonMigrated {
				g.credentials.GuestToken = ""
				g.credentials.GuestUserID = ""
				if err := writeCredentials(g.credentialsPath(), g.credentials); err != nil {
					return err
				}
			}
			return g.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				printf(w, "%s (%s)", result.Phase, result.Reason)
				if result.MigratedCount > 0 {
					printf(w, ", %d roadmaps", result.MigratedCount)
				}
				printf(w, "\n")
			})
		},
	}
	cmd.Flags().BoolVar(&manual, "manual", false, "migrate even after an earlier skip")
	return cmd
}

func guestSkipCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "skip",
		Short: "Decline migration for the current guest",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := g.coordinator(g.client()).Skip(context.Background())
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				printf(w, "skipped migration for %s\n", result.GuestUserID)
			})
		},
	}
}
