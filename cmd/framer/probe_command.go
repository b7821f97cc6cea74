package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DayBreakerBrony/frame-randomizer/internal/config"
	"github.com/DayBreakerBrony/frame-randomizer/internal/durations"
	"github.com/DayBreakerBrony/frame-randomizer/internal/kvstore"
	"github.com/DayBreakerBrony/frame-randomizer/internal/logging"
	"github.com/DayBreakerBrony/frame-randomizer/internal/media/ffprobe"
)

func newProbeCommand(ctx *commandContext) *cobra.Command {
	var skipCache bool

	cmd := &cobra.Command{
		Use:   "probe <video-file>",
		Short: "Probe a video's duration through the duration cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve video path: %w", err)
			}

			db, err := ctx.openDB()
			if err != nil {
				return fmt.Errorf("open store db: %w", err)
			}
			defer db.Close()

			store, err := kvstore.NewStore[durations.Entry](db, "durations")
			if err != nil {
				return err
			}

			prober := func(probeCtx context.Context, probePath string) (float64, error) {
				result, err := ffprobe.Inspect(probeCtx, cfg.FFprobeBinary(), probePath)
				if err != nil {
					return 0, err
				}
				return result.DurationSeconds(), nil
			}

			enabled := cfg.DurationCache.Enabled && !skipCache
			cache, err := durations.New(enabled, store, prober, logging.NewNop())
			if err != nil {
				return err
			}

			duration, err := cache.Probe(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("probe %s: %w", path, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s (%.3f seconds)\n", path, time.Duration(duration*float64(time.Second)).Round(time.Millisecond), duration)
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipCache, "no-cache", false, "Bypass the duration cache for this probe")
	return cmd
}
