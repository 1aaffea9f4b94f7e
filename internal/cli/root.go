// Package cli implements the raffle command line client.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/raffled/internal/validation"
	"github.com/pendergraft/raffled/pkg/client"
)

var (
	cfgFile          string
	server           string
	apiKey           string
	skipVersionCheck bool

	// cliVersion is set by Execute and sent as part of the User-Agent.
	cliVersion = "dev"
)

// Execute runs the CLI
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	cliVersion = version

	rootCmd := &cobra.Command{
		Use:           "raffle",
		Short:         "Verifiably fair raffle CLI",
		Long:          `raffle is a CLI for entering, inspecting and operating a raffle server.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: raffle.toml)")
	rootCmd.PersistentFlags().StringVar(&server, "server", "", "server URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for operator commands")
	rootCmd.PersistentFlags().BoolVar(&skipVersionCheck, "skip-version-check", false, "do not compare client and server versions")

	rootCmd.AddCommand(createStatusCmd())
	rootCmd.AddCommand(createPlayersCmd())
	rootCmd.AddCommand(createEnterCmd())
	rootCmd.AddCommand(createUpkeepCmd())
	rootCmd.AddCommand(createFulfillCmd())
	rootCmd.AddCommand(createEventsCmd())
	rootCmd.AddCommand(createPayoutsCmd())
	rootCmd.AddCommand(createAccountCmd())
	rootCmd.AddCommand(createVRFCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())

	return rootCmd
}

// getServer returns the server URL from flag, env, or config file
func getServer() string {
	if server != "" {
		return server
	}

	if env := os.Getenv("RAFFLE_SERVER"); env != "" {
		return env
	}

	if config := loadProjectConfigSilent(); config != nil && config.Server != "" {
		return config.Server
	}

	return "http://localhost:8080"
}

// getAPIKey returns the API key from flag, env, or credentials file
func getAPIKey() string {
	if apiKey != "" {
		return apiKey
	}

	if env := os.Getenv("RAFFLE_API_KEY"); env != "" {
		return env
	}

	if cred := getCredential(getServer()); cred != "" {
		return cred
	}

	return ""
}

// newClient builds an API client for the configured server and warns on
// stderr when the server runs an incompatible version.
func newClient(ctx context.Context, stderr io.Writer) *client.Client {
	c := client.New(getServer(), getAPIKey(), client.WithUserAgent("raffle-cli/"+cliVersion))
	if !skipVersionCheck {
		checkServerVersion(ctx, c, stderr)
	}
	return c
}

func checkServerVersion(ctx context.Context, c *client.Client, stderr io.Writer) {
	info, err := c.Version(ctx)
	if err != nil {
		return
	}
	if !validation.CompatibleVersions(cliVersion, info.Version) {
		fmt.Fprintf(stderr, "Warning: client %s may not be compatible with server %s\n", cliVersion, info.Version)
	}
}
