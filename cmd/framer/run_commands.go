package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
	"github.com/DayBreakerBrony/frame-randomizer/internal/runverify"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Verified run utilities",
	}

	runCmd.AddCommand(newRunKeygenCommand(ctx))
	runCmd.AddCommand(newRunVerifyCommand(ctx))
	runCmd.AddCommand(newRunListCommand(ctx))

	return runCmd
}

func newRunKeygenCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate the run archival signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path := cfg.RunVerification.SigningKeyPath
			if path == "" {
				return fmt.Errorf("run_verification.signing_key_path is not configured")
			}
			key, err := runverify.GenerateSigningKey(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote signing key to %s (public key %x)\n", path, key.Public())
			return nil
		},
	}
}

func newRunVerifyCommand(ctx *commandContext) *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:   "verify <run-id>",
		Short: "Verify an archived run's signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]

			db, err := ctx.openDB()
			if err != nil {
				return fmt.Errorf("open store db: %w", err)
			}
			defer db.Close()

			store, err := kvstore.NewStore[runverify.Artifact](db, "archived_runs")
			if err != nil {
				return err
			}
			artifact, found, err := store.Get(cmd.Context(), runID)
			if err != nil {
				return fmt.Errorf("load archived run: %w", err)
			}
			if !found {
				return fmt.Errorf("no archived run with id %q", runID)
			}

			if err := artifact.Verify(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run %s: signature valid (archived %s)\n", runID, artifact.ArchivedAt.Format("2006-01-02 15:04:05"))

			var state runverify.RunState
			if err := json.Unmarshal(artifact.Content, &state); err != nil {
				return fmt.Errorf("decode archived run: %w", err)
			}
			fmt.Fprintf(out, "History: %d guess(es), %d protocol error(s)\n", len(state.History), len(state.Errors))
			if dump {
				pretty, err := json.MarshalIndent(state, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(pretty))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dump, "dump", false, "Print the archived run content")
	return cmd
}

func newRunListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.openDB()
			if err != nil {
				return fmt.Errorf("open store db: %w", err)
			}
			defer db.Close()

			store, err := kvstore.NewStore[runverify.Artifact](db, "archived_runs")
			if err != nil {
				return err
			}
			keys, err := store.Keys(cmd.Context())
			if err != nil {
				return fmt.Errorf("list archived runs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "No archived runs")
				return nil
			}

			rows := make([][]string, 0, len(keys))
			for _, key := range keys {
				artifact, found, err := store.Get(cmd.Context(), key)
				if err != nil || !found {
					continue
				}
				var state runverify.RunState
				guesses := "?"
				if err := json.Unmarshal(artifact.Content, &state); err == nil {
					guesses = strconv.Itoa(len(state.History))
				}
				rows = append(rows, []string{
					artifact.RunID,
					guesses,
					artifact.ArchivedAt.Format("2006-01-02 15:04:05"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Run", "Guesses", "Archived at"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}
