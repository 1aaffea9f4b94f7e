package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/raffled/internal/validation"
)

// projectConfigFile is the default project config file name
const projectConfigFile = "raffle.toml"

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Server string `toml:"server"`
	// Player is the default entrant for `raffle enter`.
	Player string `toml:"player,omitempty"`
	// RelayerKeyFile holds the hex coordinator key `raffle fulfill` signs with.
	RelayerKeyFile string `toml:"relayer_key_file,omitempty"`
}

// ServerConfig is the global server configuration (stored in ~/.raffle/config.yaml)
type ServerConfig struct {
	Server string `yaml:"server"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var serverURL string
	var player string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a raffle.toml configuration file in the current directory.

EXAMPLES:
  # Create config with default server
  raffle config init

  # Create config with a default player address
  raffle config init --player 0x00000000000000000000000000000000000000a1

  # Overwrite existing config
  raffle config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(cmd.OutOrStdout(), projectConfigFile, ProjectConfig{Server: serverURL, Player: player}, force)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "server URL")
	cmd.Flags().StringVar(&player, "player", "", "default player address")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the configuration sources and the effective settings.

EXAMPLES:
  raffle config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow(cmd.OutOrStdout())
		},
	}
}

func runConfigInit(w io.Writer, path string, cfg ProjectConfig, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}
	if cfg.Player != "" {
		addr, err := validation.ParseAddress(cfg.Player)
		if err != nil {
			return fmt.Errorf("invalid player: %w", err)
		}
		cfg.Player = addr.Hex()
	}

	var buf bytes.Buffer
	buf.WriteString("# Raffle CLI configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(w, "Created %s\n\n", path)
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Server: %s\n", cfg.Server)
	if cfg.Player != "" {
		fmt.Fprintf(w, "  Player: %s\n", cfg.Player)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  1. Run 'raffle status' to inspect the raffle")
	fmt.Fprintln(w, "  2. Run 'raffle auth login' to store an operator key")

	return nil
}

func runConfigShow(w io.Writer) error {
	fmt.Fprintln(w, "Configuration sources (in order of precedence):")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "1. Command line flags")
	fmt.Fprintln(w, "   --server, --api-key, --config")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "2. Environment variables")
	if env := os.Getenv("RAFFLE_SERVER"); env != "" {
		fmt.Fprintf(w, "   RAFFLE_SERVER=%s\n", env)
	} else {
		fmt.Fprintln(w, "   RAFFLE_SERVER=(not set)")
	}
	if env := os.Getenv("RAFFLE_API_KEY"); env != "" {
		fmt.Fprintf(w, "   RAFFLE_API_KEY=%s\n", maskAPIKey(env))
	} else {
		fmt.Fprintln(w, "   RAFFLE_API_KEY=(not set)")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "3. Project config (%s)\n", projectConfigFile)
	projectConfig, configPath, err := loadProjectConfig()
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(w, "   (not found)")
	case err != nil:
		fmt.Fprintf(w, "   Error: %v\n", err)
	default:
		fmt.Fprintf(w, "   Loaded from: %s\n", configPath)
		if projectConfig.Server != "" {
			fmt.Fprintf(w, "   server: %s\n", projectConfig.Server)
		}
		if projectConfig.Player != "" {
			fmt.Fprintf(w, "   player: %s\n", projectConfig.Player)
		}
		if projectConfig.RelayerKeyFile != "" {
			fmt.Fprintf(w, "   relayer_key_file: %s\n", projectConfig.RelayerKeyFile)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "4. Global config (~/.raffle/config.yaml)")
	globalData, err := os.ReadFile(filepath.Join(credentialsDir(), "config.yaml"))
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(w, "   (not found)")
	case err != nil:
		fmt.Fprintf(w, "   Error: %v\n", err)
	default:
		var globalConfig ServerConfig
		if err := yaml.Unmarshal(globalData, &globalConfig); err == nil && globalConfig.Server != "" {
			fmt.Fprintf(w, "   server: %s\n", globalConfig.Server)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "5. Credentials (~/.raffle/credentials)")
	creds, err := loadCredentials()
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(w, "   (not found)")
	case err != nil:
		fmt.Fprintf(w, "   Error: %v\n", err)
	case len(creds.Servers) == 0:
		fmt.Fprintln(w, "   (no credentials stored)")
	default:
		for srv, cred := range creds.Servers {
			fmt.Fprintf(w, "   %s: %s\n", srv, maskAPIKey(cred.APIKey))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Effective configuration:")
	fmt.Fprintf(w, "   Server:  %s\n", getServer())
	if key := getAPIKey(); key != "" {
		fmt.Fprintf(w, "   API Key: %s\n", maskAPIKey(key))
	} else {
		fmt.Fprintln(w, "   API Key: (not set)")
	}

	return nil
}

// loadProjectConfig loads the project config from --config or raffle.toml.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	path := projectConfigFile
	if cfgFile != "" {
		path = cfgFile
	}
	if _, err := os.Stat(path); err != nil {
		return nil, path, err
	}
	config, err := loadProjectConfigFromPath(path)
	if err != nil {
		return nil, path, err
	}
	return config, path, nil
}

func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	var config ProjectConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}
	return &config, nil
}

// loadProjectConfigSilent returns nil when no config file exists and warns
// on stderr for parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		}
		return nil
	}
	return config
}
