package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"tweetcast/internal/api"
	"tweetcast/internal/ipc"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect individual jobs",
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show <type> <id>",
		Short: "Show one job with its payload and result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.JobShow(args[0], args[1])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Job)
				}
				fmt.Fprint(cmd.OutOrStdout(), renderJob(resp.Job))
				return nil
			})
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "Print the job as JSON")
	jobCmd.AddCommand(showCmd)
	return jobCmd
}

func renderJob(job api.JobView) string {
	rows := [][]string{
		{"ID", job.JobID},
		{"Type", job.JobType},
		{"State", job.State},
		{"Priority", strconv.Itoa(job.Priority)},
		{"Progress", fmt.Sprintf("%d%%", job.Progress)},
		{"Attempts", fmt.Sprintf("%d/%d", job.AttemptsMade, job.MaxAttempts)},
		{"Created", job.CreatedAt},
	}
	if job.UpdatedAt != "" {
		rows = append(rows, []string{"Updated", job.UpdatedAt})
	}
	if job.FinishedAt != "" {
		rows = append(rows, []string{"Finished", job.FinishedAt})
	}
	if job.FailedReason != "" {
		rows = append(rows, []string{"Failure", job.FailedReason})
	}
	out := renderTable([]string{"Field", "Value"}, rows, nil)
	if payload := prettyJSON(job.Data); payload != "" {
		out += "\nPayload:\n" + payload + "\n"
	}
	if result := prettyJSON(job.ReturnValue); result != "" {
		out += "\nResult:\n" + result + "\n"
	}
	return out
}
