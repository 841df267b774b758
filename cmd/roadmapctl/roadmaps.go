package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"prdigy/api/internal/access"
	"prdigy/api/internal/rbac"
	"prdigy/api/internal/roadmap"
)

func loginCmd(g *globals) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := g.client()
			session, err := client.SignIn(context.Background(), email, password)
			if err != nil {
				return err
			}
			g.credentials.Token = session.AccessToken
			g.credentials.UserID = session.UserID
			if err := writeCredentials(g.credentialsPath(), g.credentials); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "Signed in as %s\n", session.Email)
			if !session.Verified {
				printf(cmd.OutOrStdout(), "Email is not verified yet; guest migration waits for it.\n")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func treeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tree [roadmap-id]",
		Short: "Print a roadmap with its milestones, epics, features and tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := roadmap.NewStore(g.client())
			defer store.Close()
			if err := store.Load(context.Background(), args[0]); err != nil {
				return err
			}
			tree, err := store.Snapshot()
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), tree, func(w io.Writer) { printTree(w, tree) })
		},
	}
}

func printTree(w io.Writer, tree roadmap.Tree) {
	printf(w, "%s [%s] %s\n", tree.Roadmap.Name, tree.Roadmap.Status, tree.Roadmap.ID)
	for _, m := range tree.Milestones {
		progress, _ := tree.Progress(m.ID)
		printf(w, "  * %d. %s [%s] %d/%d %s\n", m.Position, m.Title, m.Status, progress.Completed, progress.Total, m.ID)
	}
	for _, e := range tree.Epics {
		printf(w, "  %d. %s [%s/%s] %s\n", e.Position, e.Title, e.Status, e.Priority, e.ID)
		for _, f := range e.Features {
			printf(w, "    %d. %s [%s] %s\n", f.Position, f.Title, f.Status, f.ID)
			for _, t := range f.Tasks {
				printf(w, "      %d. %s [%s] %s\n", t.Position, t.Title, t.Status, t.ID)
			}
		}
	}
}

// itemCmd builds "epic add", "feature add" and "task add". Each goes through
// a loaded roadmap.Store so positions are checked against the current tree.
func itemCmd(g *globals, kind string) *cobra.Command {
	var (
		roadmapID string
		parentID  string
		position  int
	)
	parentFlag := map[string]string{"epic": "", "feature": "epic", "task": "feature"}[kind]

	cmd := &cobra.Command{
		Use:   kind,
		Short: fmt.Sprintf("Manage %ss", kind),
	}
	add := &cobra.Command{
		Use:   "add [title]",
		Short: fmt.Sprintf("Add a %s", kind),
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			title := strings.Join(args, " ")
			var pos *int
			if cmd.Flags().Changed("position") {
				pos = &position
			}

			store := roadmap.NewStore(g.client(), roadmap.WithRole(rbac.RoleEditor))
			defer store.Close()
			if err := store.Load(ctx, roadmapID); err != nil {
				return err
			}

			var (
				created any
				id      string
				err     error
			)
			switch kind {
			case "epic":
				var e roadmap.Epic
				e, err = store.AddEpic(ctx, roadmap.EpicInput{Title: title, Position: pos})
				created, id = e, e.ID
			case "feature":
				var f roadmap.Feature
				f, err = store.AddFeature(ctx, parentID, roadmap.FeatureInput{Title: title, Position: pos})
				created, id = f, f.ID
			case "task":
				var t roadmap.Task
				t, err = store.AddTask(ctx, parentID, roadmap.TaskInput{Title: title, Position: pos})
				created, id = t, t.ID
			}
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), created, func(w io.Writer) { printf(w, "created %s %s\n", kind, id) })
		},
	}
	add.Flags().StringVar(&roadmapID, "roadmap", "", "roadmap id")
	_ = add.MarkFlagRequired("roadmap")
	if parentFlag != "" {
		add.Flags().StringVar(&parentID, parentFlag, "", parentFlag+" id")
		_ = add.MarkFlagRequired(parentFlag)
	}
	add.Flags().IntVar(&position, "position", 0, "insert position, appends when omitted")
	cmd.AddCommand(add)
	return cmd
}

func shareCmd(g *globals) *cobra.Command {
	var (
		invites []string
		role    string
	)
	cmd := &cobra.Command{
		Use:   "share [roadmap-id]",
		Short: "Set invitations and enable the public link",
		Long: `Replace the invitation list of a roadmap and enable its public link.

Invitations are email=role pairs. The link role may be viewer or commenter.

Examples:
  roadmapctl share rm_123 --invite ana@example.com=editor --link-role commenter`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := access.ShareInput{DefaultRole: rbac.Role(role)}
			for _, raw := range invites {
				email, r, ok := strings.Cut(raw, "=")
				if !ok {
					r = string(rbac.RoleViewer)
				}
				in.InvitedEmails = append(in.InvitedEmails, access.Invitation{Email: email, Role: rbac.Role(r)})
			}
			settings, err := g.client().ShareRoadmap(context.Background(), args[0], in)
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), settings, func(w io.Writer) {
				printf(w, "link %s (%s)\n", settings.PublicLink.Token, settings.PublicLink.Role)
				for _, inv := range settings.Invitations {
					printf(w, "  %s %s\n", inv.Email, inv.Role)
				}
			})
		},
	}
	cmd.Flags().StringSliceVar(&invites, "invite", nil, "email=role invitation, repeatable")
	cmd.Flags().StringVar(&role, "link-role", string(rbac.RoleViewer), "public link role")
	return cmd
}

func resolveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [share-token]",
		Short: "Open a roadmap through its public link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := g.client().ResolveShare(context.Background(), args[0])
			if err != nil {
				return err
			}
			return g.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				printf(w, "role %s via %s\n", res.Role, res.Via)
				printTree(w, res.Roadmap)
			})
		},
	}
}
