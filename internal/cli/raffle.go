package cli

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	raffleDomain "github.com/pendergraft/raffled/internal/raffle/domain"
	"github.com/pendergraft/raffled/internal/validation"
	"github.com/pendergraft/raffled/pkg/client"
)

func createStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the raffle state",
		Long: `Show the current round, its entrants and whether upkeep is due.

EXAMPLES:
  raffle status
  raffle status --json
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			return runStatus(cmd.Context(), cmd.OutOrStdout(), c, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runStatus(ctx context.Context, w io.Writer, c *client.Client, jsonOutput bool) error {
	s, err := c.Summary(ctx)
	if err != nil {
		return fmt.Errorf("failed to get raffle: %w", err)
	}
	upkeep, err := c.CheckUpkeep(ctx)
	if err != nil {
		return fmt.Errorf("failed to check upkeep: %w", err)
	}

	if jsonOutput {
		return printJSON(w, map[string]any{
			"raffle":       s,
			"upkeepNeeded": upkeep.UpkeepNeeded,
		})
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Raffle:\t%s (%s)\n", s.ID, s.Address)
	fmt.Fprintf(tw, "State:\t%s\n", s.State)
	fmt.Fprintf(tw, "Round:\t%d\n", s.Round)
	fmt.Fprintf(tw, "Entrance fee:\t%s\n", formatWei(s.EntranceFee))
	fmt.Fprintf(tw, "Players:\t%d\n", s.NumberOfPlayers)
	fmt.Fprintf(tw, "Pot:\t%s\n", formatWei(s.Balance))
	fmt.Fprintf(tw, "Interval:\t%s\n", time.Duration(s.IntervalSeconds)*time.Second)
	fmt.Fprintf(tw, "Last draw:\t%s\n", s.LastTimestamp.Format(time.RFC3339))
	if s.RecentWinner != "" && s.RecentWinner != zeroAddress {
		fmt.Fprintf(tw, "Recent winner:\t%s\n", s.RecentWinner)
	}
	if s.PendingRequestID != "" {
		fmt.Fprintf(tw, "Pending request:\t%s\n", s.PendingRequestID)
	}
	fmt.Fprintf(tw, "Upkeep needed:\t%t\n", upkeep.UpkeepNeeded)
	return tw.Flush()
}

func createPlayersCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "players [index]",
		Aliases: []string{"player"},
		Short:   "List entrants of the current round",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			if len(args) == 1 {
				index, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid index %q", args[0])
				}
				player, err := c.Player(cmd.Context(), index)
				if err != nil {
					return fmt.Errorf("failed to get player: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), player)
				return nil
			}
			return runPlayers(cmd.Context(), cmd.OutOrStdout(), c, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runPlayers(ctx context.Context, w io.Writer, c *client.Client, jsonOutput bool) error {
	players, err := c.Players(ctx)
	if err != nil {
		return fmt.Errorf("failed to list players: %w", err)
	}
	if jsonOutput {
		return printJSON(w, players)
	}
	if players.Count == 0 {
		fmt.Fprintln(w, "No players in the current round")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tPLAYER")
	for i, p := range players.Players {
		fmt.Fprintf(tw, "%d\t%s\n", i, p)
	}
	return tw.Flush()
}

func createEnterCmd() *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "enter [player]",
		Short: "Enter the current round",
		Long: `Enter a player into the current round.

The player defaults to the "player" setting in raffle.toml. The value
defaults to the entrance fee and accepts wei or a unit suffix.

EXAMPLES:
  raffle enter 0x70997970C51812dc3A010C7d01b50e0d17dc79C8
  raffle enter --value "0.05 ether"
`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			player := ""
			if len(args) == 1 {
				player = args[0]
			} else if cfg := loadProjectConfigSilent(); cfg != nil {
				player = cfg.Player
			}
			if player == "" {
				return fmt.Errorf("player address required (argument or raffle.toml)")
			}
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			return runEnter(cmd.Context(), cmd.OutOrStdout(), c, player, value)
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "amount to send (default: entrance fee)")
	return cmd
}

func runEnter(ctx context.Context, w io.Writer, c *client.Client, player, value string) error {
	if value == "" {
		s, err := c.Summary(ctx)
		if err != nil {
			return fmt.Errorf("failed to get entrance fee: %w", err)
		}
		value = s.EntranceFee
	}

	res, err := c.Enter(ctx, player, value)
	if err != nil {
		return fmt.Errorf("failed to enter: %w", err)
	}
	fmt.Fprintf(w, "Entered %s with %s (%d players)\n", res.Player, formatWei(res.Value), res.NumberOfPlayers)
	return nil
}

func createUpkeepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upkeep",
		Short: "Check or perform upkeep",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report whether the round can be closed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			res, err := c.CheckUpkeep(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to check upkeep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "upkeepNeeded: %t\n", res.UpkeepNeeded)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "perform",
		Short: "Close the round and request randomness (operator)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			return runPerformUpkeep(cmd.Context(), cmd.OutOrStdout(), c)
		},
	})

	return cmd
}

func runPerformUpkeep(ctx context.Context, w io.Writer, c *client.Client) error {
	id, err := c.PerformUpkeep(ctx)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Code == "UPKEEP_NOT_NEEDED" && len(apiErr.Details) > 0 {
			return fmt.Errorf("upkeep not needed: %s", apiErr.Details)
		}
		return fmt.Errorf("failed to perform upkeep: %w", err)
	}
	fmt.Fprintf(w, "Requested randomness (request %s)\n", id)
	return nil
}

// relayerKeyEnv holds the hex coordinator key used to sign relayed words.
const relayerKeyEnv = "RAFFLE_RELAYER_KEY"

func createFulfillCmd() *cobra.Command {
	var keyFlag string

	cmd := &cobra.Command{
		Use:   "fulfill <requestId> <word>...",
		Short: "Relay signed random words to the raffle (operator)",
		Long: `Deliver random words for a pending request to a server that runs
without an embedded coordinator. The words are signed with the coordinator
key and the server only accepts them when the signer is the configured
coordinator address.

The key is taken from --key, then RAFFLE_RELAYER_KEY, then the file named
by relayer_key_file in raffle.toml.

EXAMPLES:
  RAFFLE_RELAYER_KEY=0x... raffle fulfill 1718000000000000000 42
`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := relayerKey(keyFlag)
			if err != nil {
				return err
			}
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			return runFulfill(cmd.Context(), cmd.OutOrStdout(), c, key, args[0], args[1:])
		},
	}

	cmd.Flags().StringVar(&keyFlag, "key", "", "hex coordinator private key")
	return cmd
}

// relayerKey resolves the signing key: flag, env, then relayer_key_file.
func relayerKey(flagValue string) (*ecdsa.PrivateKey, error) {
	hexKey := flagValue
	if hexKey == "" {
		hexKey = os.Getenv(relayerKeyEnv)
	}
	if hexKey == "" {
		if cfg := loadProjectConfigSilent(); cfg != nil && cfg.RelayerKeyFile != "" {
			data, err := os.ReadFile(cfg.RelayerKeyFile)
			if err != nil {
				return nil, fmt.Errorf("reading relayer key: %w", err)
			}
			hexKey = strings.TrimSpace(string(data))
		}
	}
	if hexKey == "" {
		return nil, fmt.Errorf("relayer key required (--key, %s or relayer_key_file)", relayerKeyEnv)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid relayer key: %w", err)
	}
	return key, nil
}

func runFulfill(ctx context.Context, w io.Writer, c *client.Client, key *ecdsa.PrivateKey, requestID string, words []string) error {
	id, err := validation.ParseUint256(requestID)
	if err != nil {
		return fmt.Errorf("invalid request id: %w", err)
	}
	parsed := make([]*big.Int, len(words))
	canonical := make([]string, len(words))
	for i, word := range words {
		if parsed[i], err = validation.ParseUint256(word); err != nil {
			return fmt.Errorf("invalid word %q: %w", word, err)
		}
		canonical[i] = parsed[i].String()
	}
	sig, err := raffleDomain.SignFulfillment(key, id, parsed)
	if err != nil {
		return err
	}

	res, err := c.FulfillRandomWords(ctx, id.String(), canonical, hexutil.Encode(sig))
	if err != nil {
		return fmt.Errorf("failed to fulfill: %w", err)
	}
	fmt.Fprintf(w, "Round %d won by %s (%s)\n", res.Round, res.Winner, formatWei(res.Amount))
	return nil
}

func createEventsCmd() *cobra.Command {
	var opts client.ListOptions
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List raffle events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			return runEvents(cmd.Context(), cmd.OutOrStdout(), c, opts, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of items to show")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "page cursor")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func runEvents(ctx context.Context, w io.Writer, c *client.Client, opts client.ListOptions, jsonOutput bool) error {
	list, err := c.Events(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to list events: %w", err)
	}
	if jsonOutput {
		return printJSON(w, list)
	}
	if len(list.Data) == 0 {
		fmt.Fprintln(w, "No events found")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tEVENT\tDETAILS\tTIME")
	for _, e := range list.Data {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", e.Round, e.Name, formatPayload(e.Payload), e.CreatedAt.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	printMore(w, list.Pagination)
	return nil
}

func createPayoutsCmd() *cobra.Command {
	var opts client.ListOptions
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "List winner payouts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			list, err := c.Payouts(cmd.Context(), opts)
			if err != nil {
				return fmt.Errorf("failed to list payouts: %w", err)
			}
			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, list)
			}
			if len(list.Data) == 0 {
				fmt.Fprintln(w, "No payouts yet")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ROUND\tWINNER\tAMOUNT\tREQUEST")
			for _, p := range list.Data {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", p.Round, p.Winner, formatWei(p.Amount), p.RequestID)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			printMore(w, list.Pagination)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of items to show")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "page cursor")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func createAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Inspect ledger accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "balance <address>",
		Short: "Show an account balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			bal, err := c.Balance(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get balance: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", bal.Address, formatWei(bal.Balance))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rejects <address> <true|false>",
		Short: "Make an account refuse incoming transfers (operator)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rejects, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid value %q: want true or false", args[1])
			}
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			if err := c.SetRejectsFunds(cmd.Context(), args[0], rejects); err != nil {
				return fmt.Errorf("failed to update account: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s rejects transfers: %t\n", args[0], rejects)
			return nil
		},
	})

	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMore(w io.Writer, p client.Pagination) {
	if p.HasMore {
		fmt.Fprintf(w, "\n(more available, use --cursor %s)\n", p.NextCursor)
	}
}

func formatPayload(payload map[string]string) string {
	if len(payload) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+payload[k])
	}
	return strings.Join(parts, " ")
}

const zeroAddress = "0x0000000000000000000000000000000000000000"

var weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// formatWei renders a decimal wei amount in ether, trimming trailing zeros.
// Unparseable input is returned unchanged.
func formatWei(wei string) string {
	v, ok := new(big.Int).SetString(wei, 10)
	if !ok {
		return wei
	}
	whole, frac := new(big.Int).QuoRem(v, weiPerEther, new(big.Int))
	if frac.Sign() == 0 {
		return whole.String() + " ETH"
	}
	fs := frac.String()
	fs = strings.TrimRight(strings.Repeat("0", 18-len(fs))+fs, "0")
	return whole.String() + "." + fs + " ETH"
}
