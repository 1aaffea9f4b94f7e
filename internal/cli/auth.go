package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/raffled/pkg/client"
)

// errInvalidAPIKey is returned by login when the server rejects the key.
var errInvalidAPIKey = errors.New("invalid API key")

// Credentials stores API keys per server
type Credentials struct {
	Servers map[string]ServerCredential `yaml:"servers"`
}

// ServerCredential stores credentials for a single server
type ServerCredential struct {
	APIKey string `yaml:"api_key"`
	Name   string `yaml:"name,omitempty"`
}

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage operator API keys",
	}

	var loginServer, loginKey string
	login := &cobra.Command{
		Use:   "login",
		Short: "Check and save an operator API key",
		Long: `Save an operator API key for a raffle server.

The key is checked against the server and stored in ~/.raffle/credentials
with owner-only permissions. Without --api-key the key is read from stdin.

EXAMPLES:
  raffle auth login
  raffle auth login --server https://raffle.example.com --api-key $RAFFLE_API_KEY
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuthLogin(cmd.Context(), cmd.OutOrStdout(), cmd.InOrStdin(), loginServer, loginKey)
		},
	}
	login.Flags().StringVar(&loginServer, "server", "", "server URL (default from config)")
	login.Flags().StringVar(&loginKey, "api-key", "", "API key (read from stdin if empty)")

	var logoutServer string
	var logoutAll bool
	logout := &cobra.Command{
		Use:   "logout",
		Short: "Forget a saved API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuthLogout(cmd.OutOrStdout(), logoutServer, logoutAll)
		},
	}
	logout.Flags().StringVar(&logoutServer, "server", "", "server URL (default from config)")
	logout.Flags().BoolVar(&logoutAll, "all", false, "forget keys for every server")

	status := &cobra.Command{
		Use:   "status",
		Short: "List servers with a saved API key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuthStatus(cmd.OutOrStdout())
		},
	}

	cmd.AddCommand(login, logout, status)
	return cmd
}

func runAuthLogin(ctx context.Context, w io.Writer, in io.Reader, serverURL, key string) error {
	if serverURL == "" {
		serverURL = getServer()
	}

	if key == "" {
		fmt.Fprintf(w, "Enter API key for %s: ", serverURL)
		var err error
		key, err = readSecret(in)
		fmt.Fprintln(w)
		if err != nil {
			return fmt.Errorf("failed to read API key: %w", err)
		}
	}
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	fmt.Fprintf(w, "Validating credentials with %s...\n", serverURL)
	operator, err := validateAPIKey(ctx, serverURL, key)
	if err != nil {
		return err
	}

	if err := saveCredential(serverURL, ServerCredential{APIKey: key, Name: operator}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintf(w, "Authenticated to %s (key: %s)\n", serverURL, maskAPIKey(key))
	fmt.Fprintf(w, "   Credentials saved to %s\n", credentialsFilePath())
	return nil
}

// readSecret reads a key without echo when in is a terminal.
func readSecret(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func runAuthLogout(w io.Writer, serverURL string, all bool) error {
	if all {
		if err := os.Remove(credentialsFilePath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing credentials: %w", err)
		}
		fmt.Fprintln(w, "All credentials cleared")
		return nil
	}
	if serverURL == "" {
		serverURL = getServer()
	}

	removed := false
	err := updateCredentials(func(creds *Credentials) bool {
		if _, removed = creds.Servers[serverURL]; removed {
			delete(creds.Servers, serverURL)
		}
		return removed
	})
	if err != nil {
		return fmt.Errorf("updating credentials: %w", err)
	}
	if !removed {
		fmt.Fprintf(w, "No credentials found for %s\n", serverURL)
		return nil
	}
	fmt.Fprintf(w, "Logged out from %s\n", serverURL)
	return nil
}

func runAuthStatus(w io.Writer) error {
	creds, err := loadCredentials()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds == nil || len(creds.Servers) == 0 {
		fmt.Fprintln(w, "Not authenticated to any servers")
		fmt.Fprintln(w, "\nRun 'raffle auth login' to authenticate")
		return nil
	}

	servers := make([]string, 0, len(creds.Servers))
	for srv := range creds.Servers {
		servers = append(servers, srv)
	}
	sort.Strings(servers)

	fmt.Fprintln(w, "Authenticated servers:")
	for _, srv := range servers {
		cred := creds.Servers[srv]
		if cred.Name != "" {
			fmt.Fprintf(w, "  - %s (%s, key: %s)\n", srv, cred.Name, maskAPIKey(cred.APIKey))
		} else {
			fmt.Fprintf(w, "  - %s (key: %s)\n", srv, maskAPIKey(cred.APIKey))
		}
	}
	return nil
}

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".raffle"
	}
	return filepath.Join(home, ".raffle")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

// loadCredentials returns fs.ErrNotExist (wrapped) when nothing is saved yet.
func loadCredentials() (*Credentials, error) {
	data, err := os.ReadFile(credentialsFilePath())
	if err != nil {
		return nil, err
	}
	creds := &Credentials{}
	if err := yaml.Unmarshal(data, creds); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", credentialsFilePath(), err)
	}
	if creds.Servers == nil {
		creds.Servers = map[string]ServerCredential{}
	}
	return creds, nil
}

// updateCredentials loads the credentials file (or starts empty), applies fn
// and writes the result back when fn reports a change.
func updateCredentials(fn func(*Credentials) bool) error {
	creds, err := loadCredentials()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		creds = &Credentials{Servers: map[string]ServerCredential{}}
	case err != nil:
		return err
	}
	if !fn(creds) {
		return nil
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(credentialsDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(credentialsFilePath(), data, 0o600)
}

func saveCredential(serverURL string, cred ServerCredential) error {
	return updateCredentials(func(creds *Credentials) bool {
		creds.Servers[serverURL] = cred
		return true
	})
}

func getCredential(serverURL string) string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	return creds.Servers[serverURL].APIKey
}

// validateAPIKey asks the server who owns key. It returns the operator name,
// which is empty when the server runs without authentication.
func validateAPIKey(ctx context.Context, serverURL, key string) (string, error) {
	c := client.New(serverURL, key, client.WithUserAgent("raffle-cli/"+cliVersion))
	operator, err := c.WhoAmI(ctx)
	if err != nil {
		if client.IsCode(err, "UNAUTHORIZED") {
			return "", errInvalidAPIKey
		}
		return "", fmt.Errorf("failed to validate credentials: %w", err)
	}
	return operator, nil
}

func maskAPIKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:10] + "..." + key[len(key)-4:]
}
