package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tweetcast/internal/api"
	"tweetcast/internal/ipc"
)

var (
	queueHeaders = []string{"Type", "Waiting", "Active", "Delayed", "Completed", "Failed", "Paused"}
	queueAligns  = []columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and control the job queues",
	}
	queueCmd.AddCommand(newQueueCountsCommand(ctx))
	queueCmd.AddCommand(newQueuePauseCommand(ctx, true))
	queueCmd.AddCommand(newQueuePauseCommand(ctx, false))
	queueCmd.AddCommand(newQueueCleanCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	return queueCmd
}

func newQueueCountsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "counts [type]",
		Short: "Show per-state job counts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobType := ""
			if len(args) == 1 {
				jobType = args[0]
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Counts(jobType)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Queues)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(queueHeaders, queueRows(resp.Queues), queueAligns))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print counts as JSON")
	return cmd
}

func newQueuePauseCommand(ctx *commandContext, pause bool) *cobra.Command {
	use, short := "resume <type>", "Resume leasing jobs of a type"
	if pause {
		use, short = "pause <type>", "Stop leasing new jobs of a type"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				call := client.Resume
				if pause {
					call = client.Pause
				}
				resp, err := call(args[0])
				if err != nil {
					return err
				}
				state := "resumed"
				if resp.Paused {
					state = "paused"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queue %s %s\n", resp.JobType, state)
				return nil
			})
		},
	}
}

func newQueueCleanCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "clean <type>",
		Short: "Remove completed and failed jobs older than the grace period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var gracePtr *time.Duration
			if cmd.Flags().Changed("grace") {
				gracePtr = &grace
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Clean(args[0], gracePtr)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s job(s)\n", resp.Result.Count, resp.Result.JobType)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", api.DefaultCleanGrace, "Only remove jobs finished longer ago than this")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the queue database schema and integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}
				rows := [][]string{
					{"Database", resp.DBPath},
					{"Exists", yesNo(resp.DatabaseExists)},
					{"Readable", yesNo(resp.DatabaseReadable)},
					{"Schema version", strconv.Itoa(resp.SchemaVersion)},
					{"Jobs table", yesNo(resp.TableExists)},
					{"Integrity", yesNo(resp.IntegrityCheck)},
					{"Total jobs", strconv.Itoa(resp.TotalJobs)},
				}
				if len(resp.MissingColumns) > 0 {
					rows = append(rows, []string{"Missing columns", strings.Join(resp.MissingColumns, ", ")})
				}
				if len(resp.PausedTypes) > 0 {
					rows = append(rows, []string{"Paused", strings.Join(resp.PausedTypes, ", ")})
				}
				if resp.Error != "" {
					rows = append(rows, []string{"Error", resp.Error})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Check", "Result"}, rows, nil))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func queueRows(queues []api.QueueCounts) [][]string {
	rows := make([][]string, 0, len(queues))
	for _, q := range queues {
		rows = append(rows, []string{
			q.JobType,
			strconv.Itoa(q.Waiting),
			strconv.Itoa(q.Active),
			strconv.Itoa(q.Delayed),
			strconv.Itoa(q.Completed),
			strconv.Itoa(q.Failed),
			yesNo(q.Paused),
		})
	}
	return rows
}
