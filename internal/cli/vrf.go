package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pendergraft/raffled/pkg/client"
)

func createVRFCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vrf",
		Short: "Inspect and operate the embedded randomness coordinator",
	}

	cmd.AddCommand(createVRFSubscriptionCmd())
	cmd.AddCommand(createVRFRequestCmd())
	cmd.AddCommand(createVRFPendingCmd())

	return cmd
}

func createVRFSubscriptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscription",
		Aliases: []string{"sub"},
		Short:   "Manage randomness subscriptions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <owner>",
		Short: "Create a subscription (operator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			sub, err := c.CreateSubscription(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to create subscription: %w", err)
			}
			printSubscription(cmd.OutOrStdout(), sub)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a subscription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			sub, err := c.GetSubscription(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to get subscription: %w", err)
			}
			printSubscription(cmd.OutOrStdout(), sub)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "fund <id> <amount>",
		Short: "Fund a subscription (operator)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			sub, err := c.FundSubscription(cmd.Context(), id, args[1])
			if err != nil {
				return fmt.Errorf("failed to fund subscription: %w", err)
			}
			printSubscription(cmd.OutOrStdout(), sub)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add-consumer <id> <consumer>",
		Short: "Authorize a consumer (operator)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			sub, err := c.AddConsumer(cmd.Context(), id, args[1])
			if err != nil {
				return fmt.Errorf("failed to add consumer: %w", err)
			}
			printSubscription(cmd.OutOrStdout(), sub)
			return nil
		},
	})

	return cmd
}

func createVRFRequestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "request",
		Aliases: []string{"req"},
		Short:   "Inspect randomness requests",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a request and its proof",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			req, err := c.GetRequest(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to get request: %w", err)
			}
			printRequest(cmd.OutOrStdout(), req)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify <id>",
		Short: "Verify the proof of a served request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			return runVerify(cmd.Context(), cmd.OutOrStdout(), c, id)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "fulfill <id>",
		Short: "Serve a pending request now (operator)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			req, err := c.FulfillRequest(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("failed to fulfill request: %w", err)
			}
			printRequest(cmd.OutOrStdout(), req)
			return nil
		},
	})

	return cmd
}

func createVRFPendingCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List pending randomness requests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(cmd.Context(), cmd.ErrOrStderr())
			reqs, err := c.PendingRequests(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list requests: %w", err)
			}
			w := cmd.OutOrStdout()
			if len(reqs) == 0 {
				fmt.Fprintln(w, "No pending requests")
				return nil
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSUBSCRIPTION\tCONSUMER\tWORDS\tCREATED")
			for _, r := range reqs {
				fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%s\n", r.ID, r.SubscriptionID, r.Consumer, r.NumWords, r.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of items to show")
	return cmd
}

func runVerify(ctx context.Context, w io.Writer, c *client.Client, id uint64) error {
	v, err := c.VerifyRequest(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to verify request: %w", err)
	}
	if !v.Valid {
		return fmt.Errorf("request %d: proof invalid: %s", id, v.Reason)
	}
	fmt.Fprintf(w, "Request %d: proof valid (coordinator %s)\n", id, v.Coordinator)
	return nil
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printSubscription(w io.Writer, sub *client.Subscription) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Subscription:\t%d\n", sub.ID)
	fmt.Fprintf(tw, "Owner:\t%s\n", sub.Owner)
	fmt.Fprintf(tw, "Balance:\t%s\n", formatWei(sub.Balance))
	if len(sub.Consumers) == 0 {
		fmt.Fprintf(tw, "Consumers:\t-\n")
	} else {
		fmt.Fprintf(tw, "Consumers:\t%s\n", strings.Join(sub.Consumers, ", "))
	}
	tw.Flush()
}

func printRequest(w io.Writer, req *client.RandomnessRequest) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Request:\t%d\n", req.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", req.Status)
	fmt.Fprintf(tw, "Subscription:\t%d\n", req.SubscriptionID)
	fmt.Fprintf(tw, "Consumer:\t%s\n", req.Consumer)
	fmt.Fprintf(tw, "Confirmations:\t%d\n", req.Confirmations)
	fmt.Fprintf(tw, "Words:\t%d\n", req.NumWords)
	for i, word := range req.Words {
		fmt.Fprintf(tw, "  [%d]\t%s\n", i, word)
	}
	if req.Proof != nil {
		fmt.Fprintf(tw, "Seed:\t%s\n", req.Proof.Seed)
		fmt.Fprintf(tw, "Signature:\t%s\n", req.Proof.Signature)
	}
	if req.CallbackError != "" {
		fmt.Fprintf(tw, "Callback error:\t%s\n", req.CallbackError)
	}
	tw.Flush()
}
