package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DayBreakerBrony/frame-randomizer/internal/durations"
	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Duration cache utilities",
	}

	cacheCmd.AddCommand(newCacheShowCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))

	return cacheCmd
}

func newCacheShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List cached probe results",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.openDB()
			if err != nil {
				return fmt.Errorf("open store db: %w", err)
			}
			defer db.Close()

			store, err := kvstore.NewStore[durations.Entry](db, "durations")
			if err != nil {
				return err
			}
			keys, err := store.Keys(cmd.Context())
			if err != nil {
				return fmt.Errorf("list cache entries: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "Duration cache is empty")
				return nil
			}

			rows := make([][]string, 0, len(keys))
			for _, key := range keys {
				entry, found, err := store.Get(cmd.Context(), key)
				if err != nil || !found {
					continue
				}
				rows = append(rows, []string{
					entry.Path,
					fmt.Sprintf("%.3f", entry.DurationSec),
					entry.ProbedAt.Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Path", "Duration (s)", "Probed at"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop all cached probe results",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.openDB()
			if err != nil {
				return fmt.Errorf("open store db: %w", err)
			}
			defer db.Close()

			store, err := kvstore.NewStore[durations.Entry](db, "durations")
			if err != nil {
				return err
			}
			keys, err := store.Keys(cmd.Context())
			if err != nil {
				return fmt.Errorf("list cache entries: %w", err)
			}

			removed := 0
			for _, key := range keys {
				ok, err := store.Remove(cmd.Context(), key)
				if err != nil {
					return fmt.Errorf("remove cache entry %q: %w", key, err)
				}
				if ok {
					removed++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d cached probe result(s)\n", removed)
			return nil
		},
	}
}
