package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/DayBreakerBrony/frame-randomizer/internal/daemon"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pool status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status daemon.Status
			if err := ctx.apiGet("/api/status", &status); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			runningKind := statusError
			runningMsg := "stopped"
			if status.Running {
				runningKind = statusOK
				runningMsg = fmt.Sprintf("pid %d", status.PID)
			}
			fmt.Fprintln(out, renderStatusLine("Running", runningKind, runningMsg, colorize))
			fmt.Fprintln(out, renderStatusLine("Instance", statusInfo, status.InstanceName, colorize))
			fmt.Fprintln(out, renderStatusLine("Episodes", statusInfo, strconv.Itoa(status.Episodes), colorize))
			fmt.Fprintln(out, renderStatusLine("Store", statusInfo, status.StoreDBPath, colorize))
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Pool", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Ready", "In flight", "Generated", "Served", "Sub-threshold", "Failed"},
				[][]string{{
					strconv.Itoa(status.Pool.Ready),
					strconv.Itoa(status.Pool.InFlight),
					strconv.FormatInt(status.Pool.Generated, 10),
					strconv.FormatInt(status.Pool.Served, 10),
					strconv.FormatInt(status.Pool.SubThreshold, 10),
					strconv.FormatInt(status.Pool.Failed, 10),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Stores", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Frames", "Answers", "Runs"},
				[][]string{{
					strconv.Itoa(status.Frames),
					strconv.Itoa(status.Answers),
					strconv.Itoa(status.Runs),
				}},
				[]columnAlignment{alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}
