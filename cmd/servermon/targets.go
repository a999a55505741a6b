package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/NikhilSetiya/servermon/internal/database"
	"github.com/NikhilSetiya/servermon/pkg/types"
)

func newTargetsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Manage monitored targets",
	}
	cmd.AddCommand(newTargetsAddCommand(), newTargetsListCommand(), newTargetsSetActiveCommand(), newTargetsRemoveCommand())
	return cmd
}

func newTargetsAddCommand() *cobra.Command {
	var target types.Target

	cmd := &cobra.Command{
		Use:   "add NAME ADDRESS",
		Short: "Register a target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target.Name, target.Address = args[0], args[1]
			if target.Hostname == "" {
				target.Hostname = target.Address
			}
			target.IsActive = true

			return withTargets(func(ctx context.Context, repo *database.TargetRepository) error {
				if err := repo.Create(ctx, &target); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "target %d created (%s at %s)\n", target.ID, target.Name, target.Endpoint())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target.Hostname, "hostname", "", "Display hostname (defaults to the address)")
	cmd.Flags().IntVar(&target.Port, "port", 0, "Port probed and scraped (0 uses the default)")
	return cmd
}

func newTargetsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTargets(func(ctx context.Context, repo *database.TargetRepository) error {
				targets, err := repo.ListActive(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tHOSTNAME\tENDPOINT")
				for _, t := range targets {
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.ID, t.Name, t.Hostname, t.Endpoint())
				}
				return w.Flush()
			})
		},
	}
}

func newTargetsSetActiveCommand() *cobra.Command {
	var active bool

	cmd := &cobra.Command{
		Use:   "set-active ID",
		Short: "Enable or disable collection for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTargetID(args[0])
			if err != nil {
				return err
			}
			return withTargets(func(ctx context.Context, repo *database.TargetRepository) error {
				return repo.SetActive(ctx, id, active)
			})
		},
	}
	cmd.Flags().BoolVar(&active, "active", true, "Whether the target is collected")
	return cmd
}

func newTargetsRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Soft-delete a target; its samples and alerts are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTargetID(args[0])
			if err != nil {
				return err
			}
			return withTargets(func(ctx context.Context, repo *database.TargetRepository) error {
				return repo.SoftDelete(ctx, id)
			})
		},
	}
}

func parseTargetID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid target id %q", s)
	}
	return id, nil
}

func withTargets(fn func(ctx context.Context, repo *database.TargetRepository) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(context.Background(), database.NewTargetRepository(db))
}
