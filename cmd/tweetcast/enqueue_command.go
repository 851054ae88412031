package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tweetcast/internal/ipc"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		payload     string
		payloadFile string
		priority    int
		dedupeKey   string
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "enqueue <type>",
		Short: "Enqueue a job for one of the pipeline stages",
		Long: "Enqueue a job. The payload is JSON matching the job type's schema and\n" +
			"comes from --payload, --payload-file, or stdin when --payload-file is \"-\".",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(cmd, payload, payloadFile)
			if err != nil {
				return err
			}
			req := ipc.EnqueueRequest{
				JobType:   args[0],
				Payload:   raw,
				DedupeKey: strings.TrimSpace(dedupeKey),
			}
			if cmd.Flags().Changed("priority") {
				req.Priority = &priority
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Enqueue(req)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Handle)
				}
				out := cmd.OutOrStdout()
				if resp.Handle.Existing {
					fmt.Fprintf(out, "Existing %s job %s (%s)\n", resp.Handle.JobType, resp.Handle.JobID, resp.Handle.Status)
					return nil
				}
				fmt.Fprintf(out, "Enqueued %s job %s\n", resp.Handle.JobType, resp.Handle.JobID)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "Job payload as inline JSON")
	cmd.Flags().StringVarP(&payloadFile, "payload-file", "f", "", "Read the job payload from a file (- for stdin)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Override the job type's default priority (higher runs first)")
	cmd.Flags().StringVar(&dedupeKey, "dedupe-key", "", "Return the live job with this key instead of enqueueing another")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the job handle as JSON")
	cmd.MarkFlagsMutuallyExclusive("payload", "payload-file")
	return cmd
}

func readPayload(cmd *cobra.Command, inline, path string) (json.RawMessage, error) {
	var data []byte
	switch path = strings.TrimSpace(path); {
	case path == "-":
		buf, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read payload from stdin: %w", err)
		}
		data = buf
	case path != "":
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		data = buf
	default:
		data = []byte(inline)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, errors.New("payload is required (use --payload or --payload-file)")
	}
	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
