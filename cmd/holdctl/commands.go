package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-holds/internal/adapters/crdb/migrations"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/expiry"
	"github.com/robertarktes/booking-holds/internal/holds"
	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := ctx.dbPool(cmd.Context())
			if err != nil {
				return err
			}
			applied, err := migrations.Apply(cmd.Context(), pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", name)
			}
			return nil
		},
	}
}

func newClearAllCommand(ctx *commandContext) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear-all",
		Short: "Cancel every active hold and reset every held or frozen bid",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("clear-all resets the whole environment; pass --yes to confirm")
			}
			mgr, err := ctx.manager(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := mgr.ClearAll(cmd.Context(), operator)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summaryTable(sum))
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")
	return cmd
}

func newReleaseCommand(ctx *commandContext) *cobra.Command {
	return holdCommand(ctx, "release <hold-id>", "Release an active hold early", func(m *holds.Manager) func(context.Context, domain.Actor, uuid.UUID) (domain.Summary, error) {
		return m.Release
	})
}

func newExpireCommand(ctx *commandContext) *cobra.Command {
	return holdCommand(ctx, "expire <hold-id>", "Expire a hold whose deadline has passed", func(m *holds.Manager) func(context.Context, domain.Actor, uuid.UUID) (domain.Summary, error) {
		return m.Expire
	})
}

func holdCommand(ctx *commandContext, use, short string, op func(*holds.Manager) func(context.Context, domain.Actor, uuid.UUID) (domain.Summary, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrapf(domain.ErrInvalidInput, "hold id %q", args[0])
			}
			mgr, err := ctx.manager(cmd.Context())
			if err != nil {
				return err
			}
			sum, err := op(mgr)(cmd.Context(), operator, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summaryTable(sum))
			return nil
		},
	}
}

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var (
		limit       int
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire every active hold past its deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := ctx.manager(cmd.Context())
			if err != nil {
				return err
			}
			w := expiry.NewWorker(mgr, ctx.logger, expiry.WithBatchSize(limit), expiry.WithConcurrency(concurrency))
			sum, err := w.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summaryTable(sum))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "Maximum number of holds to expire")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Holds expired in parallel")
	return cmd
}

func newScenarioCommand(ctx *commandContext) *cobra.Command {
	var (
		in  holds.ScenarioInput
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "Create a request with pending bids and place a hold on the first",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := ctx.manager(cmd.Context())
			if err != nil {
				return err
			}
			in.Duration = ttl
			snap, err := mgr.SeedScenario(cmd.Context(), operator, in)
			if err != nil {
				return err
			}
			printSnapshot(cmd, snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "Request title")
	cmd.Flags().IntVar(&in.Bids, "bids", 3, "Number of bids to create")
	cmd.Flags().DurationVar(&ttl, "ttl", 48*time.Hour, "Hold duration")
	cmd.Flags().StringVar(&in.Reason, "reason", "scenario", "Hold reason")
	cmd.Flags().IntVar(&in.MinCompetitors, "min-competitors", 0, "Competing bids required to place the hold")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var trail int64
	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Display a request with its bids and active hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return errors.Wrapf(domain.ErrInvalidInput, "request id %q", args[0])
			}
			mgr, err := ctx.manager(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := mgr.Snapshot(cmd.Context(), id)
			if err != nil {
				return err
			}
			printSnapshot(cmd, snap)

			if trail <= 0 || ctx.audit == nil {
				return nil
			}
			logs, err := ctx.audit.Trail(cmd.Context(), id, trail)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(logs))
			for _, l := range logs {
				rows = append(rows, []string{formatTime(l.Timestamp), l.Action, l.BidID, l.HoldID, l.ActorID})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"At", "Event", "Bid", "Hold", "Actor"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().Int64Var(&trail, "audit", 0, "Also print the last N audit entries")
	return cmd
}

func printSnapshot(cmd *cobra.Command, snap domain.Snapshot) {
	out := cmd.OutOrStdout()
	req := snap.Request
	fmt.Fprintf(out, "Request %s  %s\n", req.ID, req.Title)
	fmt.Fprintf(out, "Status:    %s\n", req.Status)
	fmt.Fprintf(out, "Date:      %s\n", formatTime(req.RequestedDate))
	if h := snap.ActiveHold; h != nil {
		fmt.Fprintf(out, "Hold:      %s (expires %s)\n", h.ID, formatTime(h.ExpiresAt))
	} else {
		fmt.Fprintln(out, "Hold:      none")
	}
	if len(snap.Bids) == 0 {
		fmt.Fprintln(out, "No bids")
		return
	}
	fmt.Fprintln(out, bidsTable(snap.Bids))
}
