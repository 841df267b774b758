package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"prdigy/api/internal/gateway"
)

var Version = "dev"

type globals struct {
	server      string
	device      string
	stateDir    string
	token       string
	guestToken  string
	jsonOutput  bool
	credentials credentials
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "roadmapctl",
		Short:         "Work with Prdigy roadmaps from the terminal",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load()
		},
	}

	home, _ := os.UserHomeDir()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&g.server, "server", envOr("PRDIGY_SERVER", "http://localhost:8787"), "API base URL")
	flags.StringVar(&g.device, "device", envOr("PRDIGY_DEVICE_ID", "cli"), "device id used for guest sessions")
	flags.StringVar(&g.stateDir, "state-dir", filepath.Join(home, ".prdigy"), "directory for credentials and migration markers")
	flags.StringVar(&g.token, "token", os.Getenv("PRDIGY_TOKEN"), "access token, overrides stored credentials")
	flags.StringVar(&g.guestToken, "guest-token", "", "guest token, overrides stored credentials")
	flags.BoolVarP(&g.jsonOutput, "json", "j", false, "print JSON")

	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(loginCmd(g))
	rootCmd.AddCommand(treeCmd(g))
	rootCmd.AddCommand(itemCmd(g, "epic"), itemCmd(g, "feature"), itemCmd(g, "task"))
	rootCmd.AddCommand(shareCmd(g))
	rootCmd.AddCommand(resolveCmd(g))
	rootCmd.AddCommand(guestCmd(g))

	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (g *globals) load() error {
	creds, err := readCredentials(g.credentialsPath())
	if err != nil {
		return err
	}
	g.credentials = creds
	if g.token == "" {
		g.token = creds.Token
	}
	if g.guestToken == "" {
		g.guestToken = creds.GuestToken
	}
	return nil
}

func (g *globals) credentialsPath() string {
	return filepath.Join(g.stateDir, "credentials.yaml")
}

func (g *globals) markersPath() string {
	return filepath.Join(g.stateDir, "devices", g.device+".yaml")
}

func (g *globals) client() *gateway.Client {
	return gateway.New(g.server,
		gateway.WithDevice(g.device),
		gateway.WithToken(g.token),
		gateway.WithGuestToken(g.guestToken),
	)
}

// print writes v as JSON with --json and as text otherwise.
func (g *globals) print(w io.Writer, v any, text func(io.Writer)) error {
	if g.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
